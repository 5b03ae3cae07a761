// Package peermanager is the concrete beaconp2p.PeerManagerService,
// wrapping pkg/p2pnet.PeerManager's watchlist/reconnect machinery and
// internal/reputation's connection-history store with the reputation
// scoring and subnet-deadline bookkeeping the core expects.
package peermanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/shurli/internal/reputation"
	"github.com/shurlinet/shurli/pkg/beaconp2p"
	"github.com/shurlinet/shurli/pkg/p2pnet"
)

// reportWeight converts a ReportPeerAction into a score deduction; Fatal
// alone crosses banThreshold in one hit (spec §8 invariant 3: "Fatal
// eventually disconnects and bans").
var reportWeight = map[beaconp2p.ReportPeerAction]int{
	beaconp2p.ReportLow:   1,
	beaconp2p.ReportMid:   5,
	beaconp2p.ReportHigh:  10,
	beaconp2p.ReportFatal: 100,
}

const banThreshold = 100

// Disconnector sends a protocol-level Goodbye before the connection is
// torn down; normally the rpctransport.Transport wired into the same
// Network.
type Disconnector interface {
	Goodbye(p peer.ID, reason beaconp2p.DisconnectReason) error
}

// PeerManager implements beaconp2p.PeerManagerService over a host, a
// background reconnect loop (*p2pnet.PeerManager), and a connection
// history store (*reputation.PeerHistory).
type PeerManager struct {
	host    host.Host
	pm      *p2pnet.PeerManager
	dialer  *p2pnet.PathDialer
	history *reputation.PeerHistory
	rpc     Disconnector
	dialCtx context.Context
	log     *slog.Logger

	mu        sync.Mutex
	scores    map[peer.ID]int
	deadlines map[peer.ID]time.Time
}

// New wraps already-constructed collaborators. dialCtx bounds immediate
// Dial calls (distinct from pm's own background reconnect loop, which
// uses its own internal context from Start).
func New(dialCtx context.Context, h host.Host, pm *p2pnet.PeerManager, dialer *p2pnet.PathDialer, history *reputation.PeerHistory, rpc Disconnector, log *slog.Logger) *PeerManager {
	if log == nil {
		log = slog.Default()
	}
	return &PeerManager{
		host: h, pm: pm, dialer: dialer, history: history, rpc: rpc, dialCtx: dialCtx, log: log,
		scores:    make(map[peer.ID]int),
		deadlines: make(map[peer.ID]time.Time),
	}
}

// Dial connects to peers immediately via the path dialer, independent of
// pm's background watchlist reconnect cadence (spec §4.5 step 2: "dial the
// cached-ENR peers now, don't wait for the next reconnect tick").
func (m *PeerManager) Dial(peers []peer.ID) {
	for _, p := range peers {
		go func(p peer.ID) {
			ctx, cancel := context.WithTimeout(m.dialCtx, 30*time.Second)
			defer cancel()
			if _, err := m.dialer.DialPeer(ctx, p); err != nil {
				m.log.Debug("peermanager: dial failed", "peer", p.String(), "err", err)
			}
		}(p)
	}
}

// IsConnected reports whether the host currently has a live connection to p.
func (m *PeerManager) IsConnected(p peer.ID) bool {
	return m.host.Network().Connectedness(p) == network.Connected
}

// ReportPeer accumulates a reputation score and, once the running total
// reaches banThreshold, disconnects the peer with ReasonBanned (spec §8
// invariant 3). No ban list is kept and discovery is not told to ban the
// peer, so nothing stops it from reconnecting.
func (m *PeerManager) ReportPeer(p peer.ID, action beaconp2p.ReportPeerAction, reason string) {
	m.mu.Lock()
	m.scores[p] += reportWeight[action]
	score := m.scores[p]
	m.mu.Unlock()

	m.log.Debug("peermanager: peer report", "peer", p.String(), "action", action, "reason", reason, "score", score)
	if score >= banThreshold {
		m.Disconnect(p, beaconp2p.ReasonBanned)
	}
}

// RecordSubnetDeadline extends the minimum-serve-until deadline tracked for
// a sync-committee subnet peer (spec §4.5 step 1).
func (m *PeerManager) RecordSubnetDeadline(p peer.ID, kind beaconp2p.GossipKind, subnet uint64, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.deadlines[p]; !ok || deadline.After(existing) {
		m.deadlines[p] = deadline
	}
}

// Disconnect sends a Goodbye (best-effort) and closes the connection.
func (m *PeerManager) Disconnect(p peer.ID, reason beaconp2p.DisconnectReason) {
	if m.rpc != nil {
		if err := m.rpc.Goodbye(p, reason); err != nil {
			m.log.Debug("peermanager: goodbye send failed", "peer", p.String(), "err", err)
		}
	} else {
		m.host.Network().ClosePeer(p)
	}
}
