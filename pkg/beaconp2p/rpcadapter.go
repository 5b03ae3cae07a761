package beaconp2p

import (
	"log/slog"

	"github.com/libp2p/go-libp2p/core/peer"
)

// InboundRequest is one inbound RPC request as handed to the adapter by the
// transport, before behaviour-internal/propagated classification.
type InboundRequest struct {
	Peer    peer.ID
	StreamID PeerRequestID
	Kind    RequestKind
	Payload any
}

// InboundResponse is one inbound RPC response chunk, keyed by the
// RequestID the host (or C6 itself) used when issuing the request.
type InboundResponse struct {
	Peer  peer.ID
	ID    RequestID
	Kind  RequestKind
	Payload any
	Final bool // true marks end-of-stream
	Err   error
}

// RPCAdapter multiplexes application-issued requests/responses with
// behaviour-internal ping/metadata exchanges (spec §4.6).
type RPCAdapter struct {
	transport RPCTransport
	peerMgr   PeerManagerService
	metadata  *MetadataStore
	peerDASScheduled func() bool
	log       *slog.Logger
	metrics   *Metrics

	slowPeers map[peer.ID]*slowPeerCounters
}

type slowPeerCounters struct {
	timeouts   int
	queueFulls int
}

const slowPeerThreshold = 10

// NewRPCAdapter wires the adapter to its downstream collaborators.
// peerDASScheduled is read at call time by SendMetaDataRequest, not
// cached, matching the original's per-call chain-spec check (spec §D).
func NewRPCAdapter(transport RPCTransport, peerMgr PeerManagerService, metadata *MetadataStore, peerDASScheduled func() bool, log *slog.Logger) *RPCAdapter {
	return newRPCAdapter(transport, peerMgr, metadata, peerDASScheduled, log, nil)
}

// NewRPCAdapterWithMetrics is NewRPCAdapter plus a metrics sink; kept as a
// separate constructor so the common no-metrics path stays a short call.
func NewRPCAdapterWithMetrics(transport RPCTransport, peerMgr PeerManagerService, metadata *MetadataStore, peerDASScheduled func() bool, log *slog.Logger, metrics *Metrics) *RPCAdapter {
	return newRPCAdapter(transport, peerMgr, metadata, peerDASScheduled, log, metrics)
}

func newRPCAdapter(transport RPCTransport, peerMgr PeerManagerService, metadata *MetadataStore, peerDASScheduled func() bool, log *slog.Logger, metrics *Metrics) *RPCAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &RPCAdapter{
		transport: transport, peerMgr: peerMgr, metadata: metadata,
		peerDASScheduled: peerDASScheduled, log: log, metrics: metrics,
		slowPeers: make(map[peer.ID]*slowPeerCounters),
	}
}

// HandleInboundRequest classifies and dispatches one inbound request (spec
// §4.6 "Request classification"). Returns a public NetworkEvent and true
// only for propagated, successfully-admitted requests.
func (a *RPCAdapter) HandleInboundRequest(req InboundRequest) (NetworkEvent, bool) {
	if !a.peerMgr.IsConnected(req.Peer) {
		// spec §4.6: "If a peer is not in Connected state... inbound
		// Request and inbound-error events are dropped."
		a.log.Debug("rpcadapter: dropping request from disconnected peer", "peer", req.Peer.String())
		return NetworkEvent{}, false
	}

	if req.Kind == ReqBlocksByRange {
		if step, ok := req.Payload.(interface{ Step() uint64 }); ok && step.Step() == 0 {
			a.peerMgr.ReportPeer(req.Peer, ReportMid, "invalid_data: BlocksByRange step=0")
			return NetworkEvent{}, false
		}
	}

	if a.metrics != nil {
		a.metrics.RPCRequestsTotal.WithLabelValues(requestKindLabel(req.Kind), "inbound").Inc()
	}

	if req.Kind.IsBehaviourInternal() {
		a.handleInternalRequest(req)
		return NetworkEvent{}, false
	}

	return requestReceived(req.Peer, req.StreamID, req.Kind, req.Payload), true
}

func (a *RPCAdapter) handleInternalRequest(req InboundRequest) {
	switch req.Kind {
	case ReqPing:
		// Replies with a Pong; no liveness state is recorded for the peer.
		if err := a.transport.SendResponse(req.Peer, req.StreamID, ReqPing, nil, true); err != nil {
			a.log.Debug("rpcadapter: pong send failed", "peer", req.Peer.String(), "err", err)
		}
	case ReqMetaData:
		m := a.metadata.Current()
		if err := a.transport.SendResponse(req.Peer, req.StreamID, ReqMetaData, m, true); err != nil {
			a.log.Debug("rpcadapter: metadata response send failed", "peer", req.Peer.String(), "err", err)
		}
	case ReqGoodbye:
		a.log.Info("rpcadapter: goodbye received", "peer", req.Peer.String())
	}
}

// HandleInboundResponse classifies and dispatches one inbound response (spec
// §4.6 "Response classification").
func (a *RPCAdapter) HandleInboundResponse(resp InboundResponse) (NetworkEvent, bool) {
	switch resp.Kind {
	case ReqPing, ReqMetaData:
		// Pong / MetaData(response) are consumed here and discarded; they
		// are never surfaced and not passed to the peer manager.
		return NetworkEvent{}, false
	}

	if !resp.ID.IsApplication() {
		return NetworkEvent{}, false
	}
	return responseReceived(resp.Peer, resp.ID, resp.Kind, resp.Payload, resp.Final), true
}

// SendMetaDataRequest issues an internal metadata request, selecting v3 iff
// peer-DAS is scheduled (spec §4.6, §D). The selection is recomputed on
// every call rather than cached.
func (a *RPCAdapter) SendMetaDataRequest(p peer.ID) error {
	version := MetadataVersion(a.peerDASScheduled())
	return a.transport.SendRequest(p, InternalRequestID(InternalTagMetaData), ReqMetaData, version)
}

// SendPingRequest issues an internal liveness ping, tagged so its pong never
// surfaces as a public event (spec §4.6).
func (a *RPCAdapter) SendPingRequest(p peer.ID, seqNumber uint64) error {
	return a.transport.SendRequest(p, InternalRequestID(InternalTagPing), ReqPing, seqNumber)
}

// SendApplicationRequest issues a host-originated request under id, whose
// matching response/failure is eligible to surface as a public event.
func (a *RPCAdapter) SendApplicationRequest(p peer.ID, id RequestID, kind RequestKind, req any) error {
	return a.transport.SendRequest(p, id, kind, req)
}

// SendResponse answers one inbound stream, identified by the PeerRequestID
// the matching RequestReceived event carried (spec §6's send_response).
func (a *RPCAdapter) SendResponse(p peer.ID, peerReq PeerRequestID, kind RequestKind, resp any, final bool) error {
	return a.transport.SendResponse(p, peerReq, kind, resp, final)
}

// SendErrorResponse answers one inbound stream with a protocol-level error
// and closes it (spec §6's send_error_response).
func (a *RPCAdapter) SendErrorResponse(p peer.ID, peerReq PeerRequestID, msg string) error {
	return a.transport.SendErrorResponse(p, peerReq, msg)
}

// ReportRPCOutcome records a publish-timeout or queue-full event against a
// peer and returns true once the count exceeds slowPeerThreshold for
// either counter, at which point the caller should raise a peer-manager
// reputation hit (spec §7 "Slow peers"). Both counters reset on any
// successful publish (spec §C.4).
func (a *RPCAdapter) ReportRPCOutcome(p peer.ID, timeout, queueFull, success bool) bool {
	c, ok := a.slowPeers[p]
	if !ok {
		c = &slowPeerCounters{}
		a.slowPeers[p] = c
	}
	if success {
		c.timeouts = 0
		c.queueFulls = 0
		return false
	}
	if timeout {
		c.timeouts++
	}
	if queueFull {
		c.queueFulls++
	}
	tripped := c.timeouts > slowPeerThreshold || c.queueFulls > slowPeerThreshold
	if tripped && a.metrics != nil {
		cause := "queue_full"
		if c.timeouts > slowPeerThreshold {
			cause = "timeout"
		}
		a.metrics.RPCSlowPeerTotal.WithLabelValues(cause).Inc()
	}
	return tripped
}

func requestKindLabel(k RequestKind) string {
	names := [...]string{
		"ping", "metadata", "goodbye", "status", "blocks_by_range", "blocks_by_root",
		"blobs_by_range", "blobs_by_root", "data_columns_by_root", "data_columns_by_range",
		"light_client_bootstrap", "light_client_optimistic_update", "light_client_finality_update",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown"
	}
	return names[k]
}
