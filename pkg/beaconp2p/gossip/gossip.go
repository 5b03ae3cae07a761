// Package gossip is the concrete beaconp2p.GossipLayer over
// github.com/libp2p/go-libp2p-pubsub, joining one pubsub.Topic per
// GossipTopic and bridging pubsub's RegisterTopicValidator callback to the
// core's asynchronous ReportValidationResult handshake.
package gossip

import (
	"context"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/shurli/pkg/beaconp2p"
)

// explicitPeerTagValue is the connection-manager tag applied to trusted
// peers so they are prioritized above all others, the same value and
// rationale go-libp2p-pubsub's own tagTracer uses for direct peers.
const explicitPeerTagValue = 1000

type joined struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	cancel context.CancelFunc
}

// MessageSink receives every accepted message read off a subscription.
type MessageSink func(topic beaconp2p.GossipTopic, msgID string, from peer.ID, payload []byte)

// Gossip implements beaconp2p.GossipLayer over a single *pubsub.PubSub.
type Gossip struct {
	ps      *pubsub.PubSub
	host    host.Host
	onMsg   MessageSink
	log     *slog.Logger
	ctx     context.Context

	mu      sync.Mutex
	topics  map[beaconp2p.GossipTopic]*joined
	pending map[string]chan pubsub.ValidationResult
}

// New wraps an already-constructed *pubsub.PubSub (built by the caller with
// pubsub.NewGossipSub, matching the sentinel/beacon-node construction style
// the corpus uses). ctx bounds every subscription's read loop.
func New(ctx context.Context, h host.Host, ps *pubsub.PubSub, onMsg MessageSink, log *slog.Logger) *Gossip {
	if log == nil {
		log = slog.Default()
	}
	g := &Gossip{
		ps: ps, host: h, onMsg: onMsg, log: log, ctx: ctx,
		topics:  make(map[beaconp2p.GossipTopic]*joined),
		pending: make(map[string]chan pubsub.ValidationResult),
	}
	return g
}

// Subscribe joins topic, registers a validator that blocks delivery until
// ReportValidationResult answers, and starts the read loop.
func (g *Gossip) Subscribe(topic beaconp2p.GossipTopic) error {
	g.mu.Lock()
	if _, ok := g.topics[topic]; ok {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	name := topic.String()
	t, err := g.ps.Join(name)
	if err != nil {
		return err
	}
	if err := g.ps.RegisterTopicValidator(name, g.validate); err != nil {
		t.Close()
		return err
	}
	sub, err := t.Subscribe()
	if err != nil {
		g.ps.UnregisterTopicValidator(name)
		t.Close()
		return err
	}

	ctx, cancel := context.WithCancel(g.ctx)
	g.mu.Lock()
	g.topics[topic] = &joined{topic: t, sub: sub, cancel: cancel}
	g.mu.Unlock()

	go g.readLoop(ctx, topic, sub)
	return nil
}

// validate is the pubsub.ValidatorEx bridge: it parks the message on a
// per-message-id channel and blocks until ReportValidationResult resolves
// it, translating the core's async verdict into pubsub's synchronous
// validator contract.
func (g *Gossip) validate(ctx context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	id := pubsub.DefaultMsgIdFn(msg.Message)
	ch := make(chan pubsub.ValidationResult, 1)

	g.mu.Lock()
	g.pending[messageKey(from, id)] = ch
	g.mu.Unlock()

	select {
	case v := <-ch:
		return v
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, messageKey(from, id))
		g.mu.Unlock()
		return pubsub.ValidationIgnore
	}
}

func messageKey(from peer.ID, msgID string) string {
	return from.String() + "|" + msgID
}

// ReportValidationResult resolves the pending validator call for (p, msgID)
// opened by validate; it is a no-op if the validator has already timed out.
func (g *Gossip) ReportValidationResult(p peer.ID, msgID string, verdict beaconp2p.ValidationVerdict) {
	g.mu.Lock()
	ch, ok := g.pending[messageKey(p, msgID)]
	if ok {
		delete(g.pending, messageKey(p, msgID))
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	ch <- toPubsubResult(verdict)
}

func toPubsubResult(v beaconp2p.ValidationVerdict) pubsub.ValidationResult {
	switch v {
	case beaconp2p.ValidationAccept:
		return pubsub.ValidationAccept
	case beaconp2p.ValidationReject:
		return pubsub.ValidationReject
	default:
		return pubsub.ValidationIgnore
	}
}

func (g *Gossip) readLoop(ctx context.Context, topic beaconp2p.GossipTopic, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // ctx cancelled on Unsubscribe, or subscription closed
		}
		if g.onMsg != nil {
			g.onMsg(topic, pubsub.DefaultMsgIdFn(msg.Message), msg.GetFrom(), msg.GetData())
		}
	}
}

// Unsubscribe tears down the subscription, validator, and joined topic.
func (g *Gossip) Unsubscribe(topic beaconp2p.GossipTopic) error {
	g.mu.Lock()
	j, ok := g.topics[topic]
	if ok {
		delete(g.topics, topic)
	}
	g.mu.Unlock()
	if !ok {
		return nil
	}

	j.cancel()
	j.sub.Cancel()
	g.ps.UnregisterTopicValidator(topic.String())
	return j.topic.Close()
}

// IsSubscribed reports whether topic currently has an open subscription.
func (g *Gossip) IsSubscribed(topic beaconp2p.GossipTopic) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.topics[topic]
	return ok
}

// Publish sends payload on topic. A topic with no open subscription is
// treated as the insufficient-peers case the facade special-cases (spec
// §4.7, §7); any other publish error is returned unwrapped for metering.
func (g *Gossip) Publish(topic beaconp2p.GossipTopic, payload []byte) error {
	g.mu.Lock()
	j, ok := g.topics[topic]
	g.mu.Unlock()
	if !ok {
		return beaconp2p.ErrInsufficientPeers
	}
	return j.topic.Publish(g.ctx, payload)
}

// ApplyScoreParams installs per-topic score parameters on the joined topic.
func (g *Gossip) ApplyScoreParams(topic beaconp2p.GossipTopic, params beaconp2p.TopicScoreParams) {
	g.mu.Lock()
	j, ok := g.topics[topic]
	g.mu.Unlock()
	if !ok {
		return
	}
	if err := j.topic.SetScoreParams(toPubsubScoreParams(params)); err != nil {
		g.log.Debug("gossip: set score params failed", "topic", topic.String(), "err", err)
	}
}

// RemoveScoreWeight zeroes a topic's score weight without unsubscribing, by
// installing a TopicScoreParams whose fields are all zero (TopicWeight
// included); a SetScoreParams error is only logged.
func (g *Gossip) RemoveScoreWeight(topic beaconp2p.GossipTopic) {
	g.mu.Lock()
	j, ok := g.topics[topic]
	g.mu.Unlock()
	if !ok {
		return
	}
	zeroed := &pubsub.TopicScoreParams{TopicWeight: 0}
	if err := j.topic.SetScoreParams(zeroed); err != nil {
		g.log.Debug("gossip: remove score weight failed", "topic", topic.String(), "err", err)
	}
}

// SetExplicitPeer marks p as a trusted direct-connect peer by tagging its
// connection at the connection-manager level, the same mechanism
// go-libp2p-pubsub's own tagTracer uses to protect direct peers from being
// pruned (pubsub itself only accepts direct peers at construction time via
// WithDirectPeers, so a later call must act below pubsub, not through it).
func (g *Gossip) SetExplicitPeer(p peer.ID) {
	if g.host == nil {
		return
	}
	g.host.ConnManager().TagPeer(p, "beaconp2p:explicit", explicitPeerTagValue)
	g.host.ConnManager().Protect(p, "beaconp2p:explicit")
}

func toPubsubScoreParams(p beaconp2p.TopicScoreParams) *pubsub.TopicScoreParams {
	return &pubsub.TopicScoreParams{
		TopicWeight:                  p.TopicWeight,
		TimeInMeshWeight:             p.TimeInMeshWeight,
		TimeInMeshQuantum:            p.TimeInMeshQuantum,
		TimeInMeshCap:                p.TimeInMeshCap,
		FirstMessageDeliveriesWeight: p.FirstMessageDeliveriesWeight,
		FirstMessageDeliveriesDecay:  p.FirstMessageDeliveriesDecay,
		FirstMessageDeliveriesCap:    p.FirstMessageDeliveriesCap,
		MeshMessageDeliveriesWeight:  p.MeshMessageDeliveriesWeight,
		MeshMessageDeliveriesDecay:   p.MeshMessageDeliveriesDecay,
	}
}
