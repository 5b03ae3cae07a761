package beaconp2p

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// enrFileName is the persisted local record's basename within
// <network_dir> (spec §6: "<network_dir>/enr and key files").
const enrFileName = "enr"

// LocalRecord is this module's ENR stand-in (spec §3): a signed, versioned
// record of reachable addresses and capability bitfields. The signature
// itself is out of scope (consensus-layer wire encoding, spec §1 excluded
// list); this type models the fields the core reads and mutates.
type LocalRecord struct {
	SeqNumber        uint64
	ForkDigest       ForkDigest
	AttnetsBitfield  []byte
	SyncnetsBitfield []byte
	CustodyGroupCount *uint64
	Addresses        []string // multiaddr strings this node advertises
}

func (r LocalRecord) clone() LocalRecord {
	out := r
	out.Addresses = append([]string(nil), r.Addresses...)
	if r.AttnetsBitfield != nil {
		out.AttnetsBitfield = append([]byte(nil), r.AttnetsBitfield...)
	}
	if r.SyncnetsBitfield != nil {
		out.SyncnetsBitfield = append([]byte(nil), r.SyncnetsBitfield...)
	}
	if r.CustodyGroupCount != nil {
		v := *r.CustodyGroupCount
		out.CustodyGroupCount = &v
	}
	return out
}

// RecordStore owns the local record and persists it alongside the node's
// key file under <network_dir>. Like MetadataStore, every mutation bumps
// the sequence number and persists before returning (spec §3: "the local
// ENR's sequence number is monotonically increasing").
type RecordStore struct {
	mu         sync.RWMutex
	networkDir string
	current    LocalRecord
	privKey    crypto.PrivKey
}

// NewRecordStore loads an existing record from <networkDir>/enr, or starts
// a fresh one at sequence 0 for the given fork digest if none exists.
func NewRecordStore(networkDir string, privKey crypto.PrivKey, initialDigest ForkDigest, attnetsLen, syncnetsLen int) (*RecordStore, error) {
	s := &RecordStore{networkDir: networkDir, privKey: privKey}
	path := filepath.Join(networkDir, enrFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var r LocalRecord
		if jsonErr := json.Unmarshal(data, &r); jsonErr != nil {
			return nil, fmt.Errorf("beaconp2p: parse enr file %s: %w", path, jsonErr)
		}
		s.current = r
		return s, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("beaconp2p: read enr file %s: %w", path, err)
	}

	s.current = LocalRecord{
		SeqNumber:        0,
		ForkDigest:       initialDigest,
		AttnetsBitfield:  make([]byte, attnetsLen),
		SyncnetsBitfield: make([]byte, syncnetsLen),
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns a snapshot of the local record.
func (s *RecordStore) Current() LocalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// PeerID derives the local peer id from the record's signing key.
func (s *RecordStore) PeerID() (peer.ID, error) {
	return peer.IDFromPrivateKey(s.privKey)
}

// Update rebuilds the record via mutate, bumps the sequence number, and
// persists the result. The record is otherwise immutable except by
// rebuilding (spec §3).
func (s *RecordStore) Update(mutate func(*LocalRecord)) (LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.clone()
	mutate(&next)
	next.SeqNumber = s.current.SeqNumber + 1

	prev := s.current
	s.current = next
	if err := s.persistLocked(); err != nil {
		s.current = prev
		return LocalRecord{}, err
	}
	return s.current.clone(), nil
}

func (s *RecordStore) persistLocked() error {
	if err := os.MkdirAll(s.networkDir, 0700); err != nil {
		return fmt.Errorf("beaconp2p: create network dir %s: %w", s.networkDir, err)
	}
	data, err := json.Marshal(s.current)
	if err != nil {
		return fmt.Errorf("beaconp2p: marshal enr: %w", err)
	}
	dst := filepath.Join(s.networkDir, enrFileName)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("beaconp2p: write enr: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("beaconp2p: rename enr into place: %w", err)
	}
	return nil
}

// UpdateForkDigest rewrites the ENR's fork-id field after a fork
// transition (spec §4.5's discovery notification).
func (s *RecordStore) UpdateForkDigest(digest ForkDigest) (LocalRecord, error) {
	return s.Update(func(r *LocalRecord) {
		r.ForkDigest = digest
	})
}
