package beaconp2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

type fakeDiscovery struct {
	goodPeerCount   map[GossipKind]int
	cachedPeers     map[GossipKind][]peer.ID
	connectedPeers  map[GossipKind][]peer.ID
	subnetQueries   []SubnetRequest
	banned          []peer.ID
	forkVersions    []ForkDigest
}

func newFakeDiscovery() *fakeDiscovery {
	return &fakeDiscovery{
		goodPeerCount:  make(map[GossipKind]int),
		cachedPeers:    make(map[GossipKind][]peer.ID),
		connectedPeers: make(map[GossipKind][]peer.ID),
	}
}

func (f *fakeDiscovery) Discover(n int) {}

func (f *fakeDiscovery) DiscoverSubnetQuery(reqs []SubnetRequest) {
	f.subnetQueries = append(f.subnetQueries, reqs...)
}

func (f *fakeDiscovery) CachedPeersForSubnet(kind GossipKind, subnet uint64) []peer.ID {
	out := f.cachedPeers[kind]
	f.cachedPeers[kind] = nil
	return out
}

func (f *fakeDiscovery) GoodPeerCountForSubnet(kind GossipKind, subnet uint64) int {
	return f.goodPeerCount[kind]
}

func (f *fakeDiscovery) ConnectedPeersForSubnet(kind GossipKind, subnet uint64) []peer.ID {
	return f.connectedPeers[kind]
}

func (f *fakeDiscovery) Ban(p peer.ID, ips []string)   { f.banned = append(f.banned, p) }
func (f *fakeDiscovery) Unban(p peer.ID, ips []string) {}
func (f *fakeDiscovery) AddENR(p peer.ID, record []byte) {}
func (f *fakeDiscovery) ENREntries() map[peer.ID][]byte  { return nil }
func (f *fakeDiscovery) UpdateForkVersion(digest ForkDigest) {
	f.forkVersions = append(f.forkVersions, digest)
}

type fakePeerManager struct {
	dialed      []peer.ID
	deadlines   map[peer.ID]time.Time
	connected   map[peer.ID]bool
	reports     []fakeReport
	disconnects []peer.ID
}

type fakeReport struct {
	peer   peer.ID
	action ReportPeerAction
	reason string
}

func newFakePeerManager() *fakePeerManager {
	return &fakePeerManager{deadlines: make(map[peer.ID]time.Time), connected: make(map[peer.ID]bool)}
}

func (f *fakePeerManager) Dial(peers []peer.ID)       { f.dialed = append(f.dialed, peers...) }
func (f *fakePeerManager) IsConnected(p peer.ID) bool { return f.connected[p] }
func (f *fakePeerManager) ReportPeer(p peer.ID, action ReportPeerAction, reason string) {
	f.reports = append(f.reports, fakeReport{p, action, reason})
}
func (f *fakePeerManager) RecordSubnetDeadline(p peer.ID, kind GossipKind, subnet uint64, deadline time.Time) {
	f.deadlines[p] = deadline
}
func (f *fakePeerManager) Disconnect(p peer.ID, reason DisconnectReason) {
	f.disconnects = append(f.disconnects, p)
}

// TestDiscoverSubnetPeersStillQueriesDHTAfterPartialCacheHit reproduces the
// scenario where two cached ENRs satisfy part of a subnet request but the
// target isn't met: a cache hit dials those peers but must not exempt the
// request from the subsequent batched DHT query (spec §4.5 step 3/4).
func TestDiscoverSubnetPeersStillQueriesDHTAfterPartialCacheHit(t *testing.T) {
	disc := newFakeDiscovery()
	pm := newFakePeerManager()
	p1, p2 := peer.ID("peer-1"), peer.ID("peer-2")
	disc.cachedPeers[KindAttestation] = []peer.ID{p1, p2}
	disc.goodPeerCount[KindAttestation] = 0

	a := NewDiscoveryAdapter(disc, pm, nil, nil, 64, 4, nil)
	a.DiscoverSubnetPeers([]SubnetRequest{{Kind: KindAttestation, Subnet: 3}})

	if len(pm.dialed) != 2 {
		t.Fatalf("expected both cached peers dialed, got %v", pm.dialed)
	}
	if len(disc.subnetQueries) != 1 {
		t.Fatalf("expected DHT query still issued despite cache hit, got %d queries", len(disc.subnetQueries))
	}
}

func TestDiscoverSubnetPeersSkipsWhenTargetAlreadyMet(t *testing.T) {
	disc := newFakeDiscovery()
	pm := newFakePeerManager()
	disc.goodPeerCount[KindAttestation] = targetSubnetPeers

	a := NewDiscoveryAdapter(disc, pm, nil, nil, 64, 4, nil)
	a.DiscoverSubnetPeers([]SubnetRequest{{Kind: KindAttestation, Subnet: 1}})

	if len(pm.dialed) != 0 {
		t.Fatalf("expected no dials when target already met, got %v", pm.dialed)
	}
	if len(disc.subnetQueries) != 0 {
		t.Fatalf("expected no DHT query when target already met, got %d", len(disc.subnetQueries))
	}
}

func TestDiscoverSubnetPeersExtendsSyncCommitteeDeadline(t *testing.T) {
	disc := newFakeDiscovery()
	pm := newFakePeerManager()
	p1 := peer.ID("peer-1")
	disc.connectedPeers[KindSyncCommittee] = []peer.ID{p1}
	disc.goodPeerCount[KindSyncCommittee] = targetSubnetPeers

	ttl := 10 * time.Second
	a := NewDiscoveryAdapter(disc, pm, nil, nil, 64, 4, nil)
	a.DiscoverSubnetPeers([]SubnetRequest{{Kind: KindSyncCommittee, Subnet: 0, MinTTL: &ttl}})

	if _, ok := pm.deadlines[p1]; !ok {
		t.Fatalf("expected sync-committee peer deadline recorded")
	}
}

// TestUpdateENRSubnetPersistsAndNotifiesRPC reproduces the update_enr_subnet
// host command: flipping a subnet bit must persist through both the record
// store and the metadata store, and the bumped metadata must reach RPC.
func TestUpdateENRSubnetPersistsAndNotifiesRPC(t *testing.T) {
	disc := newFakeDiscovery()
	pm := newFakePeerManager()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	records, err := NewRecordStore(dir, priv, ForkDigest{1}, 64, 4)
	if err != nil {
		t.Fatalf("new record store: %v", err)
	}
	metadata, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewDiscoveryAdapter(disc, pm, records, metadata, 64, 4, nil)

	var notified Metadata
	var notifiedCount int
	err = a.UpdateENRSubnet(KindAttestation, 5, true, func(m Metadata) {
		notified = m
		notifiedCount++
	})
	if err != nil {
		t.Fatalf("update enr subnet: %v", err)
	}
	if notifiedCount != 1 {
		t.Fatalf("expected exactly one RPC notification, got %d", notifiedCount)
	}
	if notified.AttnetsBitfield[0]&(1<<5) == 0 {
		t.Fatalf("expected subnet 5 bit set in notified metadata, got %+v", notified.AttnetsBitfield)
	}
}

// TestUpdateForkVersionPersistsAndPropagates reproduces the
// update_fork_version host command: the local record's fork digest must be
// rewritten and discovery must be told of the new digest.
func TestUpdateForkVersionPersistsAndPropagates(t *testing.T) {
	disc := newFakeDiscovery()
	pm := newFakePeerManager()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	records, err := NewRecordStore(dir, priv, ForkDigest{1}, 64, 4)
	if err != nil {
		t.Fatalf("new record store: %v", err)
	}
	a := NewDiscoveryAdapter(disc, pm, records, nil, 64, 4, nil)

	newDigest := ForkDigest{9, 9, 9, 9}
	if err := a.UpdateForkVersion(newDigest); err != nil {
		t.Fatalf("update fork version: %v", err)
	}
	if len(disc.forkVersions) != 1 || disc.forkVersions[0] != newDigest {
		t.Fatalf("expected discovery notified of new fork digest, got %v", disc.forkVersions)
	}
}
