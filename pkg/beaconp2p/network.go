package beaconp2p

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// SwarmEventKind enumerates the raw transport-level events the facade
// dispatches to sub-behaviours (spec §4.7's "SwarmEvents are dispatched by
// C7 to C1-C6").
type SwarmEventKind int

const (
	SwarmPeerConnectedIncoming SwarmEventKind = iota
	SwarmPeerConnectedOutgoing
	SwarmPeerDisconnected
	SwarmNewListenAddr
	SwarmZeroListeners
	SwarmIdentify
	SwarmPeerManagerEvent
	SwarmGossipMessage
	SwarmGossipSubscribed
	SwarmInboundRequest
	SwarmInboundResponse
	SwarmRPCFailure
)

// SwarmEvent is one item off the swarm, carrying only the fields relevant
// to Kind. Arrival order within a poll iteration is preserved (spec §5).
type SwarmEvent struct {
	Kind SwarmEventKind

	Peer peer.ID
	Addr multiaddr.Multiaddr

	IdentifyListenAddrs []multiaddr.Multiaddr // truncated to maxIdentifyAddresses on dispatch; not passed to the PM
	IdentifyProtocols   []string              // protocol IDs advertised by the peer's identify payload

	PM PeerManagerEvent

	GossipTopic   GossipTopic
	GossipMsgID   string
	GossipPayload []byte

	InboundReq  InboundRequest
	InboundResp InboundResponse

	RPCFailID    RequestID
	RPCFailError error
}

// maxIdentifyAddresses truncates an identify payload's listen-address list
// when the SwarmIdentify event is dispatched (spec §8 boundary behaviour,
// §C.3). The list is not forwarded to the peer manager.
const maxIdentifyAddresses = 10

// gossipsubProtocols lists the pubsub protocol IDs that count as "speaks
// gossipsub" for the identify handshake check (spec §8's GossipsubNotSupported
// fatal path): any one of them is sufficient.
var gossipsubProtocols = map[string]bool{
	string(pubsub.GossipSubID_v10): true,
	string(pubsub.GossipSubID_v11): true,
	string(pubsub.GossipSubID_v12): true,
}

// supportsGossipsub reports whether protocols (as advertised by a peer's
// identify payload) includes any known gossipsub protocol ID.
func supportsGossipsub(protocols []string) bool {
	for _, p := range protocols {
		if gossipsubProtocols[p] {
			return true
		}
	}
	return false
}

// Decoder decodes a raw gossip payload for a kind into a domain message, or
// returns an error if the payload is malformed. Consensus-layer decoding
// itself is out of this core's scope (spec §1); the facade only needs to
// know whether decode succeeded.
type Decoder func(kind GossipKind, payload []byte) (any, error)

// Network is the façade owning the swarm, metadata file path, fork
// context, gossip cache, score settings, and the periodic tick driving
// score updates (spec §4.7). It is driven by exactly one goroutine at a
// time — callers must not invoke Run concurrently with itself, mirroring
// the single-threaded cooperative scheduling model of spec §5.
type Network struct {
	globals  *NetworkGlobals
	cache    *GossipCache
	scores   *ScoreSettings
	gossip   GossipLayer
	decode   Decoder
	log      *slog.Logger
	metrics  *Metrics

	pmAdapter   *PeerManagerAdapter
	discAdapter *DiscoveryAdapter
	rpcAdapter  *RPCAdapter
	peerMgr     PeerManagerService

	activeForkID func() ForkDigest

	swarmEvents chan SwarmEvent
	events      chan NetworkEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unacceptedByPeer map[peer.ID]int
	mu               sync.Mutex
}

// NetworkConfig bundles the collaborators Network needs at construction.
type NetworkConfig struct {
	Globals     *NetworkGlobals
	Cache       *GossipCache
	Scores      *ScoreSettings
	Gossip      GossipLayer
	Decode      Decoder
	PMAdapter   *PeerManagerAdapter
	DiscAdapter *DiscoveryAdapter
	RPCAdapter  *RPCAdapter
	PeerMgr     PeerManagerService // used only for the identify gossipsub-support check
	ActiveForkID func() ForkDigest
	Log         *slog.Logger
	Metrics     *Metrics // nil disables metrics, matching pkg/p2pnet's optional-registry pattern (spec §C.7)
}

// NewNetwork constructs the façade. Run must be called to start the event
// loop; events are consumed from Events().
func NewNetwork(cfg NetworkConfig) *Network {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		globals: cfg.Globals, cache: cfg.Cache, scores: cfg.Scores,
		gossip: cfg.Gossip, decode: cfg.Decode, log: log, metrics: cfg.Metrics,
		pmAdapter: cfg.PMAdapter, discAdapter: cfg.DiscAdapter, rpcAdapter: cfg.RPCAdapter,
		peerMgr:          cfg.PeerMgr,
		activeForkID:     cfg.ActiveForkID,
		swarmEvents:      make(chan SwarmEvent, 256),
		events:           make(chan NetworkEvent, 256),
		ctx:              ctx,
		cancel:           cancel,
		unacceptedByPeer: make(map[peer.ID]int),
	}
}

// Events returns the public event stream (spec §6's NetworkEvent, poll-
// loop-emitted in the source; here delivered as a channel, the idiomatic
// Go translation of "Ready(event)").
func (n *Network) Events() <-chan NetworkEvent { return n.events }

// InjectSwarmEvent feeds one raw swarm event into the façade's dispatch
// loop. Transport adapters (host event-bus subscribers, gossip layer
// callbacks, RPC stream handlers) call this; it never blocks the caller
// for longer than filling an internal buffered channel.
func (n *Network) InjectSwarmEvent(ev SwarmEvent) {
	select {
	case n.swarmEvents <- ev:
	case <-n.ctx.Done():
	}
}

// Run starts the façade's single driver goroutine and returns immediately.
// It implements the poll discipline of spec §4.7 as a blocking dispatch
// loop rather than a polled Poll::Pending/Ready state machine — the
// idiomatic Go shape for the same ordering contract: swarm events are
// drained and dispatched one at a time in arrival order (§5), admission-
// control events are staged ahead of application-protocol events within
// each batch (§9's composite ordering contract), and the score-update and
// gossip-cache-sweep tickers fire independently in the same select.
func (n *Network) Run(decayInterval time.Duration) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		scoreTicker := time.NewTicker(decayInterval)
		sweepTicker := time.NewTicker(time.Second)
		defer scoreTicker.Stop()
		defer sweepTicker.Stop()

		for {
			select {
			case <-n.ctx.Done():
				return
			case ev := <-n.swarmEvents:
				n.dispatchBatch(ev)
			case <-scoreTicker.C:
				n.applyScoreTick()
			case <-sweepTicker.C:
				n.drainExpirations()
			}
		}
	}()
}

// Close stops the driver goroutine and releases the swarm (spec §5:
// "Dropping the facade drops the swarm and all adapter state").
func (n *Network) Close() {
	n.cancel()
	n.wg.Wait()
	close(n.events)
}

// dispatchBatch drains every swarm event queued right now (the "drain the
// swarm fully" step), applying the admission-before-protocol ordering
// contract, and forwards at most the first resulting public event to
// Events() before returning — remaining queued events stay for the next
// iteration (spec §4.7 step 1: "return Ready(event) immediately; further
// swarm events remain queued for the next poll").
func (n *Network) dispatchBatch(first SwarmEvent) {
	pending := []SwarmEvent{first}
drain:
	for {
		select {
		case ev := <-n.swarmEvents:
			pending = append(pending, ev)
		default:
			break drain
		}
	}

	admission, protocol := splitAdmissionProtocol(pending)
	for i, ev := range admission {
		if out, ok := n.dispatchOne(ev); ok {
			n.emit(out)
			n.requeue(append(append([]SwarmEvent(nil), admission[i+1:]...), protocol...))
			return
		}
	}
	for i, ev := range protocol {
		if out, ok := n.dispatchOne(ev); ok {
			n.emit(out)
			n.requeue(protocol[i+1:])
			return
		}
	}
}

// emit delivers one public event to Events(), giving up if the façade is
// closing.
func (n *Network) emit(ev NetworkEvent) {
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// splitAdmissionProtocol partitions a batch into admission-control events
// (connection lifecycle, bans) and application-protocol events (gossip,
// RPC), preserving arrival order within each group (spec §9: admission-
// control behaviours run before application behaviours).
func splitAdmissionProtocol(batch []SwarmEvent) (admission, protocol []SwarmEvent) {
	for _, ev := range batch {
		switch ev.Kind {
		case SwarmPeerConnectedIncoming, SwarmPeerConnectedOutgoing, SwarmPeerDisconnected,
			SwarmNewListenAddr, SwarmZeroListeners, SwarmIdentify, SwarmPeerManagerEvent:
			admission = append(admission, ev)
		default:
			protocol = append(protocol, ev)
		}
	}
	return admission, protocol
}

func (n *Network) requeue(rest []SwarmEvent) {
	for i := 0; i < len(rest); i++ {
		select {
		case n.swarmEvents <- rest[i]:
		default:
			n.log.Warn("network: swarm event buffer full on requeue, dropping", "kind", rest[i].Kind)
		}
	}
}

func (n *Network) dispatchOne(ev SwarmEvent) (NetworkEvent, bool) {
	switch ev.Kind {
	case SwarmPeerConnectedIncoming:
		n.globals.setConnected(ev.Peer, true)
		return peerConnectedIncoming(ev.Peer), true
	case SwarmPeerConnectedOutgoing:
		n.globals.setConnected(ev.Peer, true)
		return peerConnectedOutgoing(ev.Peer), true
	case SwarmPeerDisconnected:
		n.globals.setConnected(ev.Peer, false)
		return peerDisconnected(ev.Peer), true
	case SwarmNewListenAddr:
		return newListenAddr(ev.Addr), true
	case SwarmZeroListeners:
		return zeroListeners(), true
	case SwarmIdentify:
		if len(ev.IdentifyListenAddrs) > maxIdentifyAddresses {
			ev.IdentifyListenAddrs = ev.IdentifyListenAddrs[:maxIdentifyAddresses]
		}
		if !supportsGossipsub(ev.IdentifyProtocols) {
			n.log.Info("network: peer does not speak gossipsub, disconnecting", "peer", ev.Peer.String())
			if n.peerMgr != nil {
				n.peerMgr.ReportPeer(ev.Peer, ReportFatal, ErrGossipsubNotSupported.Error())
			}
			if err := n.rpcAdapter.transport.Goodbye(ev.Peer, ReasonUnknown); err != nil {
				n.log.Debug("network: goodbye send failed for unsupported peer", "peer", ev.Peer.String(), "err", err)
			}
		}
		return NetworkEvent{}, false
	case SwarmPeerManagerEvent:
		return n.pmAdapter.Dispatch(ev.PM)
	case SwarmGossipMessage:
		return n.handleGossipMessage(ev)
	case SwarmGossipSubscribed:
		n.handleLatePublish(ev.Peer, ev.GossipTopic)
		return NetworkEvent{}, false
	case SwarmInboundRequest:
		return n.rpcAdapter.HandleInboundRequest(ev.InboundReq)
	case SwarmInboundResponse:
		return n.rpcAdapter.HandleInboundResponse(ev.InboundResp)
	case SwarmRPCFailure:
		return rpcFailed(ev.Peer, ev.RPCFailID, ev.RPCFailError), true
	default:
		return NetworkEvent{}, false
	}
}

// handleGossipMessage implements the gossip inbound path (spec §4.7):
// decode failure reports Reject (penalising the forwarder) and drops the
// message; success surfaces PubsubMessage.
func (n *Network) handleGossipMessage(ev SwarmEvent) (NetworkEvent, bool) {
	msg, err := n.decode(ev.GossipTopic.Kind, ev.GossipPayload)
	if err != nil {
		n.gossip.ReportValidationResult(ev.Peer, ev.GossipMsgID, ValidationReject)
		n.log.Debug("network: gossip decode failed, rejecting", "topic", ev.GossipTopic.String(), "peer", ev.Peer.String(), "err", err)
		return NetworkEvent{}, false
	}
	return pubsubMessage(ev.GossipMsgID, ev.Peer, ev.GossipTopic, msg), true
}

// ReportMessageValidationResult forwards the application's verdict to
// gossip and, for Ignore/Reject, increments the per-peer unaccepted
// counter (spec §4.7).
func (n *Network) ReportMessageValidationResult(p peer.ID, msgID string, verdict ValidationVerdict) {
	n.gossip.ReportValidationResult(p, msgID, verdict)
	if verdict == ValidationIgnore || verdict == ValidationReject {
		n.mu.Lock()
		n.unacceptedByPeer[p]++
		n.mu.Unlock()
		if n.metrics != nil {
			n.metrics.GossipUnacceptedTotal.WithLabelValues(p.String()).Inc()
		}
	}
}

// UnacceptedCount returns the number of Ignore/Reject verdicts recorded
// against p so far.
func (n *Network) UnacceptedCount(p peer.ID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unacceptedByPeer[p]
}

// PublishMessage is one domain message to publish, together with every
// topic it applies to (already resolved at the current fork digest by the
// caller via TopicRegistry).
type PublishMessage struct {
	Topics  []GossipTopic
	Payload []byte
}

// Publish implements the gossip publish path (spec §4.7): encode once per
// message (the caller already encoded Payload), then publish to every
// applicable topic, classifying the three named failure modes.
func (n *Network) Publish(messages []PublishMessage) {
	for _, msg := range messages {
		for _, topic := range msg.Topics {
			n.publishOne(topic, msg.Payload)
		}
	}
}

func (n *Network) publishOne(topic GossipTopic, payload []byte) {
	err := n.gossip.Publish(topic, payload)
	switch {
	case err == nil:
		n.metricPublish(topic, "ok")
		return
	case errors.Is(err, ErrDuplicateMessage):
		n.metricPublish(topic, "duplicate")
		n.log.Debug("network: duplicate publish, not retrying", "topic", topic.String())
	case errors.Is(err, ErrInsufficientPeers):
		n.metricPublish(topic, "insufficient_peers")
		if cacheErr := n.cache.Insert(topic, payload); cacheErr != nil {
			n.log.Debug("network: retry cache insert skipped", "topic", topic.String(), "err", cacheErr)
		}
	default:
		n.metricPublish(topic, "error")
		if n.metrics != nil {
			n.metrics.GossipPublishFailTotal.WithLabelValues(topic.Kind.String()).Inc()
		}
		n.log.Warn("network: publish failed", "topic", topic.String(), "err", err)
	}
}

func (n *Network) metricPublish(topic GossipTopic, outcome string) {
	if n.metrics != nil {
		n.metrics.GossipPublishTotal.WithLabelValues(topic.Kind.String(), outcome).Inc()
	}
}

// handleLatePublish retrieves and republishes any cached payloads for topic
// once a peer subscribes (spec §4.7 "Late-publish retry").
func (n *Network) handleLatePublish(p peer.ID, topic GossipTopic) {
	payloads := n.cache.Retrieve(topic)
	for _, payload := range payloads {
		outcome := "ok"
		if err := n.gossip.Publish(topic, payload); err != nil {
			outcome = "error"
			n.log.Debug("network: late publish failed", "topic", topic.String(), "peer", p.String(), "err", err)
		}
		if n.metrics != nil {
			n.metrics.GossipLatePublishTotal.WithLabelValues(outcome).Inc()
		}
	}
}

// applyScoreTick recomputes and applies topic score parameters on every
// elapsed decay-interval tick (spec §4.7 step 2).
func (n *Network) applyScoreTick() {
	n.applyScoreParams(n.currentActiveValidators(), n.currentSlot())
}

// currentActiveValidators and currentSlot always return zero, since
// chain-state observation is out of this core's scope (spec §1); the
// periodic tick therefore computes parameters for zero validators at slot 0.
func (n *Network) currentActiveValidators() uint64 { return 0 }
func (n *Network) currentSlot() uint64             { return 0 }

func (n *Network) applyScoreParams(activeValidators, slot uint64) {
	params := n.scores.Compute(activeValidators, slot, n.activeForkID())
	for kind, p := range params {
		n.applyToAllSubnetTopics(kind, p)
	}
}

// applyToAllSubnetTopics applies p to every currently-subscribed topic of
// kind (uniform parameters across attestation subnets, spec §4.3 contract).
func (n *Network) applyToAllSubnetTopics(kind GossipKind, p TopicScoreParams) {
	for _, topic := range n.globals.Topics.Subscriptions() {
		if topic.Kind == kind {
			n.gossip.ApplyScoreParams(topic, p)
		}
	}
}

// drainExpirations pulls pending cache expirations and logs them as
// metrics only (spec §4.7 step 3: "no public events").
func (n *Network) drainExpirations() {
	n.cache.Sweep()
	for _, topic := range n.cache.Expirations() {
		n.log.Debug("network: gossip cache entry expired", "topic", topic.String())
		if n.metrics != nil {
			n.metrics.GossipCacheExpiredTotal.WithLabelValues(topic.Kind.String()).Inc()
		}
	}
}

// ReportPeer raises a reputation event; per spec §8 invariant 3, Fatal
// eventually yields a PeerDisconnected event and a discovery ban.
func (n *Network) ReportPeer(p peer.ID, action ReportPeerAction, reason string, peerMgr PeerManagerService) {
	peerMgr.ReportPeer(p, action, reason)
}

// GoodbyePeer asks RPC to terminate the connection with a Goodbye message
// (spec §6's goodbye_peer command).
func (n *Network) GoodbyePeer(p peer.ID, reason DisconnectReason) error {
	return n.rpcAdapter.transport.Goodbye(p, reason)
}

// SendRequest originates a host-issued application request under id (spec
// §6's send_request command). The matching response or failure surfaces as
// an EventResponseReceived / EventRPCFailed on Events().
func (n *Network) SendRequest(p peer.ID, id RequestID, kind RequestKind, req any) error {
	return n.rpcAdapter.SendApplicationRequest(p, id, kind, req)
}

// SendResponse answers one inbound stream, keyed by the PeerRequestID an
// earlier EventRequestReceived carried (spec §6's send_response command).
func (n *Network) SendResponse(p peer.ID, peerReq PeerRequestID, kind RequestKind, resp any, final bool) error {
	return n.rpcAdapter.SendResponse(p, peerReq, kind, resp, final)
}

// SendErrorResponse answers one inbound stream with a protocol-level error
// and closes it (spec §6's send_error_response command).
func (n *Network) SendErrorResponse(p peer.ID, peerReq PeerRequestID, msg string) error {
	return n.rpcAdapter.SendErrorResponse(p, peerReq, msg)
}

// UpdateActiveValidators recomputes and applies gossip score parameters for
// the new active validator count outside the regular decay-interval tick
// (spec §4.3, §6's update_gossipsub_parameters command).
func (n *Network) UpdateActiveValidators(activeValidators, slot uint64) {
	params := n.scores.ActiveValidatorsChanged(activeValidators, slot, n.activeForkID())
	for kind, p := range params {
		n.applyToAllSubnetTopics(kind, p)
	}
}

// UpdateENRSubnet flips the advertised bit for a subnet and pushes the
// resulting metadata-sequence bump to RPC (spec §6's update_enr_subnet
// command).
func (n *Network) UpdateENRSubnet(kind GossipKind, subnet uint64, value bool) error {
	return n.discAdapter.UpdateENRSubnet(kind, subnet, value, nil)
}

// UpdateForkVersion rewrites the local record's fork digest and notifies
// discovery of the new fork id (spec §6's update_fork_version command).
func (n *Network) UpdateForkVersion(digest ForkDigest) error {
	return n.discAdapter.UpdateForkVersion(digest)
}

// DialForTesting is a narrow test-support seam mirroring the original's
// testing_dial escape hatch (spec §C.6); it does not appear on the public
// command surface of spec §6 and exists only for integration tests that
// need to force a connection outside the normal discovery flow.
func (n *Network) DialForTesting(peerMgr PeerManagerService, p peer.ID) {
	peerMgr.Dial([]peer.ID{p})
}

// HardDisconnectForTesting is a narrow test-support seam mirroring the
// original's __hard_disconnect_testing_only (spec §C.6).
func (n *Network) HardDisconnectForTesting(peerMgr PeerManagerService, p peer.ID) {
	peerMgr.Disconnect(p, ReasonClientShutdown)
}
