package beaconp2p

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// NetworkEvent is the host-ward event surfaced by the poll loop (spec §6).
// Exactly one concrete payload field is populated per Kind.
type NetworkEventKind int

const (
	EventPeerConnectedIncoming NetworkEventKind = iota
	EventPeerConnectedOutgoing
	EventPeerDisconnected
	EventRPCFailed
	EventRequestReceived
	EventResponseReceived
	EventPubsubMessage
	EventStatusPeer
	EventNewListenAddr
	EventZeroListeners
)

// NetworkEvent is a single tagged event. Only the fields relevant to Kind
// are meaningful; this mirrors the Rust source's enum-of-structs without
// requiring a type switch over concrete types for the common fields.
type NetworkEvent struct {
	Kind NetworkEventKind

	Peer peer.ID

	// EventRPCFailed
	FailedID    RequestID
	FailedError error

	// EventRequestReceived: identified by the inbound stream, not a
	// RequestID — the application replies via send_response(peer, PeerReqID, ...).
	PeerReqID PeerRequestID

	// EventResponseReceived: identified by the RequestID
	// the host supplied when it issued the original send_request.
	ReqID   RequestID
	ReqKind RequestKind
	Request any
	Response any
	EndOfStream bool // true marks the Response::<Kind>(None) terminal marker

	// EventPubsubMessage
	MessageID string
	Source    peer.ID
	Topic     GossipTopic
	Message   any

	// EventNewListenAddr
	Addr multiaddr.Multiaddr
}

func peerConnectedIncoming(p peer.ID) NetworkEvent {
	return NetworkEvent{Kind: EventPeerConnectedIncoming, Peer: p}
}

func peerConnectedOutgoing(p peer.ID) NetworkEvent {
	return NetworkEvent{Kind: EventPeerConnectedOutgoing, Peer: p}
}

func peerDisconnected(p peer.ID) NetworkEvent {
	return NetworkEvent{Kind: EventPeerDisconnected, Peer: p}
}

func rpcFailed(p peer.ID, id RequestID, err error) NetworkEvent {
	return NetworkEvent{Kind: EventRPCFailed, Peer: p, FailedID: id, FailedError: err}
}

func requestReceived(p peer.ID, id PeerRequestID, kind RequestKind, req any) NetworkEvent {
	return NetworkEvent{Kind: EventRequestReceived, Peer: p, PeerReqID: id, ReqKind: kind, Request: req}
}

func responseReceived(p peer.ID, id RequestID, kind RequestKind, resp any, end bool) NetworkEvent {
	return NetworkEvent{Kind: EventResponseReceived, Peer: p, ReqID: id, ReqKind: kind, Response: resp, EndOfStream: end}
}

func pubsubMessage(msgID string, source peer.ID, topic GossipTopic, msg any) NetworkEvent {
	return NetworkEvent{Kind: EventPubsubMessage, MessageID: msgID, Source: source, Topic: topic, Message: msg}
}

func statusPeer(p peer.ID) NetworkEvent {
	return NetworkEvent{Kind: EventStatusPeer, Peer: p}
}

func newListenAddr(addr multiaddr.Multiaddr) NetworkEvent {
	return NetworkEvent{Kind: EventNewListenAddr, Addr: addr}
}

func zeroListeners() NetworkEvent {
	return NetworkEvent{Kind: EventZeroListeners}
}

// ValidationVerdict is the application's verdict on an inbound gossip
// message, forwarded to the gossip layer by ReportMessageValidationResult.
type ValidationVerdict int

const (
	ValidationAccept ValidationVerdict = iota
	ValidationIgnore
	ValidationReject
)

// DisconnectReason is the Goodbye reason code sent when the core terminates
// a connection.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonClientShutdown
	ReasonIrrelevantNetwork
	ReasonFault
	ReasonBanned
)

// ReportPeerAction is the severity of a reputation report raised against a
// peer (spec §8 invariant 3: Fatal eventually disconnects and bans).
type ReportPeerAction int

const (
	ReportLow ReportPeerAction = iota
	ReportMid
	ReportHigh
	ReportFatal
)
