package beaconp2p

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// NetworkGlobals is the concurrent shared object holding the peer
// database, local record, local metadata and subscription set (spec §5).
// It holds no back-references to the facade, peer manager, or discovery
// adapter — those hold a reference to it, never the reverse — so there is
// no reference cycle (spec §9: "Cyclic references... preserve that and
// avoid introducing one").
type NetworkGlobals struct {
	Records  *RecordStore
	Metadata *MetadataStore
	Topics   *TopicRegistry

	mu         sync.RWMutex
	peerbook   map[peer.ID]*peerEntry
}

type peerEntry struct {
	connected bool
	banned    bool
}

// NewNetworkGlobals constructs the shared object from its three owned
// stores. Writers take write locks only in their own goroutine (the
// facade's poll loop); critical sections here are small (§5).
func NewNetworkGlobals(records *RecordStore, metadata *MetadataStore, topics *TopicRegistry) *NetworkGlobals {
	return &NetworkGlobals{
		Records:  records,
		Metadata: metadata,
		Topics:   topics,
		peerbook: make(map[peer.ID]*peerEntry),
	}
}

func (g *NetworkGlobals) setConnected(p peer.ID, connected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.peerbook[p]
	if !ok {
		e = &peerEntry{}
		g.peerbook[p] = e
	}
	e.connected = connected
}

func (g *NetworkGlobals) IsConnected(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.peerbook[p]
	return ok && e.connected
}

func (g *NetworkGlobals) setBanned(p peer.ID, banned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.peerbook[p]
	if !ok {
		e = &peerEntry{}
		g.peerbook[p] = e
	}
	e.banned = banned
}

func (g *NetworkGlobals) IsBanned(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.peerbook[p]
	return ok && e.banned
}
