// Package beaconp2p implements the peer-to-peer networking core of a beacon
// node: gossip topic lifecycle, a gossip retry cache, a request/response RPC
// adapter, and the network facade and event loop that fuses them with the
// discovery and peer-manager subsystems.
//
// The discovery, peer-manager and RPC transport subsystems are treated as
// external collaborators here: this package depends on their contracts
// (interfaces in collaborators.go), not their internals.
package beaconp2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ForkDigest is the 4-byte tag identifying a consensus fork. Gossip topics
// and the local ENR-equivalent record are keyed by it.
type ForkDigest [4]byte

func (d ForkDigest) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 8)
	for i, b := range d {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// GossipKind enumerates the abstract gossip message kinds. Subnet-indexed
// kinds carry their index in the owning GossipTopic, not here.
type GossipKind int

const (
	KindBeaconBlock GossipKind = iota
	KindBeaconAggregateAndProof
	KindAttestation
	KindSyncCommittee
	KindSyncCommitteeContributionAndProof
	KindVoluntaryExit
	KindProposerSlashing
	KindAttesterSlashing
	KindBLSToExecutionChange
	KindBlobSidecar
	KindDataColumnSidecar
	KindLightClientFinalityUpdate
	KindLightClientOptimisticUpdate
)

func (k GossipKind) String() string {
	switch k {
	case KindBeaconBlock:
		return "beacon_block"
	case KindBeaconAggregateAndProof:
		return "beacon_aggregate_and_proof"
	case KindAttestation:
		return "beacon_attestation"
	case KindSyncCommittee:
		return "sync_committee"
	case KindSyncCommitteeContributionAndProof:
		return "sync_committee_contribution_and_proof"
	case KindVoluntaryExit:
		return "voluntary_exit"
	case KindProposerSlashing:
		return "proposer_slashing"
	case KindAttesterSlashing:
		return "attester_slashing"
	case KindBLSToExecutionChange:
		return "bls_to_execution_change"
	case KindBlobSidecar:
		return "blob_sidecar"
	case KindDataColumnSidecar:
		return "data_column_sidecar"
	case KindLightClientFinalityUpdate:
		return "light_client_finality_update"
	case KindLightClientOptimisticUpdate:
		return "light_client_optimistic_update"
	default:
		return "unknown"
	}
}

// hasSubnet reports whether a kind carries a subnet index.
func (k GossipKind) hasSubnet() bool {
	switch k {
	case KindAttestation, KindSyncCommittee, KindBlobSidecar, KindDataColumnSidecar:
		return true
	default:
		return false
	}
}

// GossipEncoding names the payload transport encoding applied on the wire.
// Only SnappySSZ is produced by this module; the enum exists to make wire
// compatibility explicit rather than implicit.
type GossipEncoding int

const (
	EncodingSnappySSZ GossipEncoding = iota
)

// GossipTopic is a composite (kind, subnet, encoding, fork-digest). Two
// topics are equal iff all four fields are equal; Topic.String is the wire
// topic string and is suitable as a map key by value.
type GossipTopic struct {
	Kind    GossipKind
	Subnet  uint64 // meaningful only when Kind.hasSubnet()
	Digest  ForkDigest
	Encoding GossipEncoding
}

// NewTopic synthesises a non-subnet topic at the given digest.
func NewTopic(kind GossipKind, digest ForkDigest) GossipTopic {
	return GossipTopic{Kind: kind, Digest: digest, Encoding: EncodingSnappySSZ}
}

// NewSubnetTopic synthesises a subnet-indexed topic at the given digest.
func NewSubnetTopic(kind GossipKind, subnet uint64, digest ForkDigest) GossipTopic {
	return GossipTopic{Kind: kind, Subnet: subnet, Digest: digest, Encoding: EncodingSnappySSZ}
}

// WithDigest returns a copy of t keyed at a different fork digest, same kind
// and subnet. Used by the fork transition protocol to synthesise dual topics.
func (t GossipTopic) WithDigest(digest ForkDigest) GossipTopic {
	t.Digest = digest
	return t
}

func (t GossipTopic) String() string {
	name := t.Kind.String()
	if t.Kind.hasSubnet() {
		name = name + "_" + uitoa(t.Subnet)
	}
	enc := "ssz_snappy"
	return "/eth2/" + t.Digest.String() + "/" + name + "/" + enc
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RequestKind enumerates RPC request/response types, both behaviour-internal
// (handled entirely by the RPC adapter) and propagated to the application.
type RequestKind int

const (
	ReqPing RequestKind = iota
	ReqMetaData
	ReqGoodbye
	ReqStatus
	ReqBlocksByRange
	ReqBlocksByRoot
	ReqBlobsByRange
	ReqBlobsByRoot
	ReqDataColumnsByRoot
	ReqDataColumnsByRange
	ReqLightClientBootstrap
	ReqLightClientOptimisticUpdate
	ReqLightClientFinalityUpdate
)

// IsBehaviourInternal reports whether this request kind is fully handled by
// the RPC adapter (Ping, MetaData, Goodbye) rather than surfaced to the
// application as RequestReceived.
func (k RequestKind) IsBehaviourInternal() bool {
	switch k {
	case ReqPing, ReqMetaData, ReqGoodbye:
		return true
	default:
		return false
	}
}

// StreamsMultiple reports whether a propagated request kind may produce more
// than one response chunk before EndOfStream.
func (k RequestKind) StreamsMultiple() bool {
	switch k {
	case ReqBlocksByRange, ReqBlocksByRoot, ReqBlobsByRange, ReqBlobsByRoot,
		ReqDataColumnsByRoot, ReqDataColumnsByRange:
		return true
	default:
		return false
	}
}

// RequestIDKind discriminates the tagged request-identifier union.
type RequestIDKind uint8

const (
	RequestIDApplication RequestIDKind = iota
	RequestIDInternal
)

// InternalTag names the behaviour-internal sub-purpose of an Internal
// request id (ping liveness vs metadata refresh).
type InternalTag uint8

const (
	InternalTagPing InternalTag = iota
	InternalTagMetaData
)

// RequestID is the tagged union from spec §3: Application(id) is host
// originated and its responses surface as public events; Internal(tag) is
// originated by the RPC adapter itself (ping/metadata) and never surfaces.
// It is a small value type, copied rather than boxed, by design.
type RequestID struct {
	kind         RequestIDKind
	applicationID uint64
	tag          InternalTag
}

// ApplicationRequestID builds an Application-tagged request id.
func ApplicationRequestID(id uint64) RequestID {
	return RequestID{kind: RequestIDApplication, applicationID: id}
}

// InternalRequestID builds an Internal-tagged request id.
func InternalRequestID(tag InternalTag) RequestID {
	return RequestID{kind: RequestIDInternal, tag: tag}
}

// IsApplication reports whether this id originated at the host; only
// Application-tagged responses are eligible to surface as public events.
func (r RequestID) IsApplication() bool { return r.kind == RequestIDApplication }

// ApplicationID returns the host-assigned id and true, or (0, false) if r is
// Internal-tagged.
func (r RequestID) ApplicationID() (uint64, bool) {
	if r.kind != RequestIDApplication {
		return 0, false
	}
	return r.applicationID, true
}

// Tag returns the internal sub-purpose and true, or (0, false) if r is
// Application-tagged.
func (r RequestID) Tag() (InternalTag, bool) {
	if r.kind != RequestIDInternal {
		return 0, false
	}
	return r.tag, true
}

// PeerRequestID identifies one inbound RPC stream: (connection, substream).
// Stable for the lifetime of that stream only.
type PeerRequestID struct {
	ConnectionID uint64
	SubstreamID  uint64
}

// Metadata is the local node's advertised (sequence-number, attestation
// bitfield, sync-committee bitfield, optional custody count). Mutated only
// by the facade; every mutation increments SeqNumber and must be persisted
// before being advertised (spec §3, §5).
type Metadata struct {
	SeqNumber           uint64
	AttnetsBitfield     []byte
	SyncnetsBitfield    []byte
	CustodyGroupCount   *uint64 // nil unless peer-DAS is scheduled
}

// Clone returns a deep copy so callers may mutate without aliasing the
// facade's copy.
func (m Metadata) Clone() Metadata {
	out := m
	if m.AttnetsBitfield != nil {
		out.AttnetsBitfield = append([]byte(nil), m.AttnetsBitfield...)
	}
	if m.SyncnetsBitfield != nil {
		out.SyncnetsBitfield = append([]byte(nil), m.SyncnetsBitfield...)
	}
	if m.CustodyGroupCount != nil {
		v := *m.CustodyGroupCount
		out.CustodyGroupCount = &v
	}
	return out
}

// MetadataVersion selects the wire metadata version: v3 iff peer-DAS is
// scheduled, else v2 (spec §4.6, §D).
func MetadataVersion(peerDASScheduled bool) int {
	if peerDASScheduled {
		return 3
	}
	return 2
}

// SubnetRequest is one entry of the subnet-discovery protocol's input list
// (spec §4.5): a subnet to find peers for, with an optional minimum TTL to
// extend on currently-connected peers already serving it.
type SubnetRequest struct {
	Kind   GossipKind // KindAttestation or KindSyncCommittee
	Subnet uint64
	MinTTL *time.Duration
}

// PeerIDSet is a small helper set type over libp2p peer.IDs, used by the
// discovery and peer-manager adapters.
type PeerIDSet map[peer.ID]struct{}

func NewPeerIDSet(ids ...peer.ID) PeerIDSet {
	s := make(PeerIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s PeerIDSet) Add(id peer.ID)      { s[id] = struct{}{} }
func (s PeerIDSet) Remove(id peer.ID)   { delete(s, id) }
func (s PeerIDSet) Contains(id peer.ID) bool {
	_, ok := s[id]
	return ok
}
