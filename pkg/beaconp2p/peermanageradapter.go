package beaconp2p

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerManagerEventKind enumerates the peer-manager events the adapter
// consumes (spec §4.4's event table).
type PeerManagerEventKind int

const (
	PMPeerConnectedIncoming PeerManagerEventKind = iota
	PMPeerConnectedOutgoing
	PMPeerDisconnected
	PMBanned
	PMUnBanned
	PMStatus
	PMDiscoverPeers
	PMDiscoverSubnetPeers
	PMPing
	PMMetaData
	PMDisconnectPeer
)

// PeerManagerEvent is one event out of the peer-manager subsystem, with
// only the fields relevant to Kind populated.
type PeerManagerEvent struct {
	Kind PeerManagerEventKind
	Peer peer.ID

	BannedIPs []string // PMBanned / PMUnBanned

	DiscoverCount int             // PMDiscoverPeers
	SubnetReqs    []SubnetRequest // PMDiscoverSubnetPeers

	DisconnectReason DisconnectReason // PMDisconnectPeer
}

// PeerManagerAdapter translates peer-manager events into public
// NetworkEvents or internal actions against the discovery and RPC
// collaborators (spec §4.4). Dispatch is an explicit table over the event
// kind, not a derive-macro trait composition, matching the "explicit
// dispatch table" re-architecture option (spec §9).
type PeerManagerAdapter struct {
	discovery DiscoveryService
	rpc       RPCTransport
	discAdapter *DiscoveryAdapter
	log       *slog.Logger
}

// NewPeerManagerAdapter wires the adapter to its downstream collaborators.
// discAdapter is the in-core Discovery Adapter (C5), not the raw
// DiscoveryService, since DiscoverSubnetPeers requires C5's short-circuit
// logic rather than a bare forward.
func NewPeerManagerAdapter(discovery DiscoveryService, rpc RPCTransport, discAdapter *DiscoveryAdapter, log *slog.Logger) *PeerManagerAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &PeerManagerAdapter{discovery: discovery, rpc: rpc, discAdapter: discAdapter, log: log}
}

// Dispatch handles one peer-manager event, returning a public NetworkEvent
// and true if one is surfaced. For Ping/MetaData events it sends the
// internal request itself and returns false (those never surface, spec §8:
// "Internal ping/metadata requests never surface public events regardless
// of outcome").
func (a *PeerManagerAdapter) Dispatch(ev PeerManagerEvent) (NetworkEvent, bool) {
	switch ev.Kind {
	case PMPeerConnectedIncoming:
		return peerConnectedIncoming(ev.Peer), true
	case PMPeerConnectedOutgoing:
		return peerConnectedOutgoing(ev.Peer), true
	case PMPeerDisconnected:
		return peerDisconnected(ev.Peer), true
	case PMBanned:
		a.discovery.Ban(ev.Peer, ev.BannedIPs)
		return NetworkEvent{}, false
	case PMUnBanned:
		a.discovery.Unban(ev.Peer, ev.BannedIPs)
		return NetworkEvent{}, false
	case PMStatus:
		return statusPeer(ev.Peer), true
	case PMDiscoverPeers:
		a.discovery.Discover(ev.DiscoverCount)
		return NetworkEvent{}, false
	case PMDiscoverSubnetPeers:
		a.discAdapter.DiscoverSubnetPeers(ev.SubnetReqs)
		return NetworkEvent{}, false
	case PMPing:
		id := InternalRequestID(InternalTagPing)
		if err := a.rpc.SendRequest(ev.Peer, id, ReqPing, nil); err != nil {
			a.log.Debug("peermanageradapter: internal ping failed", "peer", ev.Peer.String(), "err", err)
		}
		return NetworkEvent{}, false
	case PMMetaData:
		id := InternalRequestID(InternalTagMetaData)
		if err := a.rpc.SendRequest(ev.Peer, id, ReqMetaData, nil); err != nil {
			a.log.Debug("peermanageradapter: internal metadata request failed", "peer", ev.Peer.String(), "err", err)
		}
		return NetworkEvent{}, false
	case PMDisconnectPeer:
		if err := a.rpc.Goodbye(ev.Peer, ev.DisconnectReason); err != nil {
			a.log.Debug("peermanageradapter: goodbye send failed", "peer", ev.Peer.String(), "err", err)
		}
		return NetworkEvent{}, false
	default:
		a.log.Warn("peermanageradapter: unhandled event kind", "kind", ev.Kind)
		return NetworkEvent{}, false
	}
}
