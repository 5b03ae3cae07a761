package beaconp2p

import "sync"

// CoreTopicKindsForFork returns the gossip kinds every node subscribes to
// unconditionally at a given fork name (spec §4.2 step 2: "the fork's new
// core-topic kinds, computed from the fork name and chain spec"). Kept as a
// small lookup table rather than a chain-spec dependency, since the spec
// scopes chain-spec decoding out of this core (spec §1 excluded list).
type ForkName string

var forkCoreKinds = map[ForkName][]GossipKind{
	"phase0": {
		KindBeaconBlock, KindBeaconAggregateAndProof, KindVoluntaryExit,
		KindProposerSlashing, KindAttesterSlashing,
	},
	"altair": {
		KindSyncCommittee, KindSyncCommitteeContributionAndProof,
	},
	"capella": {
		KindBLSToExecutionChange,
	},
	"deneb": {
		KindBlobSidecar,
	},
	"electra": {},
	"fulu":    {KindDataColumnSidecar},
}

// CoreTopicKindsForFork returns the registered core kinds for name, or nil
// if name is unrecognised (treated as introducing no new core kinds).
func CoreTopicKindsForFork(name ForkName) []GossipKind {
	return forkCoreKinds[name]
}

// TopicRegistry holds the active fork digest and the subscription set, and
// exposes subscribe/unsubscribe by kind or by full topic (spec §4.2).
type TopicRegistry struct {
	mu            sync.RWMutex
	gossip        GossipLayer
	cache         *GossipCache
	activeDigest  ForkDigest
	subscriptions map[GossipTopic]struct{}
}

// NewTopicRegistry constructs a registry for the given gossip layer, with
// the active digest set to initialDigest and an empty subscription set.
func NewTopicRegistry(gossip GossipLayer, initialDigest ForkDigest) *TopicRegistry {
	return &TopicRegistry{
		gossip:        gossip,
		activeDigest:  initialDigest,
		subscriptions: make(map[GossipTopic]struct{}),
	}
}

// WithCache attaches the gossip cache whose entries must be dropped on
// unsubscription (spec §3's cache-entry removal condition "(c) topic
// unsubscription") and returns the registry for chaining.
func (r *TopicRegistry) WithCache(cache *GossipCache) *TopicRegistry {
	r.cache = cache
	return r
}

// ActiveDigest returns the fork digest new subscribe-by-kind calls target.
func (r *TopicRegistry) ActiveDigest() ForkDigest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeDigest
}

// Subscriptions returns a snapshot of the current subscription set.
func (r *TopicRegistry) Subscriptions() []GossipTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GossipTopic, 0, len(r.subscriptions))
	for t := range r.subscriptions {
		out = append(out, t)
	}
	return out
}

// IsSubscribed reports whether topic is in the local subscription set.
func (r *TopicRegistry) IsSubscribed(topic GossipTopic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subscriptions[topic]
	return ok
}

// subscribeLocked records topic as subscribed *before* calling the gossip
// layer, so a concurrent reader never observes a stale "not subscribed"
// (spec §4.2, §5 ordering guarantee). Caller must hold r.mu.
func (r *TopicRegistry) subscribeLocked(topic GossipTopic) error {
	r.subscriptions[topic] = struct{}{}
	if err := r.gossip.Subscribe(topic); err != nil {
		delete(r.subscriptions, topic)
		return err
	}
	return nil
}

// SubscribeKind synthesises a topic for kind at the active digest and
// subscribes. Returns false if the gossip layer rejected the subscription.
func (r *TopicRegistry) SubscribeKind(kind GossipKind, subnet uint64) (GossipTopic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	topic := r.synthesize(kind, subnet, r.activeDigest)
	ok := r.subscribeLocked(topic) == nil
	return topic, ok
}

// Subscribe subscribes to an already-synthesised topic. Returns false on
// gossip-layer failure.
func (r *TopicRegistry) Subscribe(topic GossipTopic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(topic) == nil
}

// UnsubscribeKind unsubscribes the topic for kind at the active digest.
func (r *TopicRegistry) UnsubscribeKind(kind GossipKind, subnet uint64) bool {
	return r.Unsubscribe(r.synthesize(kind, subnet, r.ActiveDigest()))
}

// Unsubscribe removes topic from the subscription set and tells the gossip
// layer, regardless of error (mirrors spec's "returns a boolean success";
// local bookkeeping always proceeds so the set stays authoritative).
func (r *TopicRegistry) Unsubscribe(topic GossipTopic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscriptions[topic]; !ok {
		return false
	}
	delete(r.subscriptions, topic)
	ok := r.gossip.Unsubscribe(topic) == nil
	if r.cache != nil {
		r.cache.RemoveTopic(topic)
	}
	return ok
}

func (r *TopicRegistry) synthesize(kind GossipKind, subnet uint64, digest ForkDigest) GossipTopic {
	if kind.hasSubnet() {
		return NewSubnetTopic(kind, subnet, digest)
	}
	return NewTopic(kind, digest)
}

// SubscribeNewForkTopics implements the fork transition protocol (spec
// §4.2): dual-subscribes every existing topic kind at the new digest, adds
// the new fork's core kinds, and leaves old-digest subscriptions intact
// (removed later by UnsubscribeFromForkTopicsExcept).
func (r *TopicRegistry) SubscribeNewForkTopics(newFork ForkName, newDigest ForkDigest) {
	r.mu.Lock()
	existing := make([]GossipTopic, 0, len(r.subscriptions))
	for t := range r.subscriptions {
		existing = append(existing, t)
	}
	r.activeDigest = newDigest
	r.mu.Unlock()

	// Step 1: same kind/subnet at the new digest, old topics remain.
	for _, t := range existing {
		r.Subscribe(t.WithDigest(newDigest))
	}

	// Step 2: the fork's new core-topic kinds at the new digest.
	for _, kind := range CoreTopicKindsForFork(newFork) {
		if kind.hasSubnet() {
			continue // subnet core kinds are subscribed via SubscribeKind by the caller, per-subnet
		}
		r.Subscribe(NewTopic(kind, newDigest))
	}

	// Step 3 (attestation & sync-committee metrics registration) is a
	// metrics-only side effect left to the caller via Subscriptions(); no
	// additional gossip-layer calls are required here.
}

// UnsubscribeFromForkTopicsExcept unsubscribes from every topic whose
// digest is not keep (spec §4.2 post-fork cleanup).
func (r *TopicRegistry) UnsubscribeFromForkTopicsExcept(keep ForkDigest) {
	for _, t := range r.Subscriptions() {
		if t.Digest != keep {
			r.Unsubscribe(t)
		}
	}
}

// RemoveTopicWeightExcept zeroes the gossip score weight of every
// subscribed topic whose digest is not keep, without unsubscribing (spec
// §4.2: "gossip keeps them subscribable but no longer scored").
func (r *TopicRegistry) RemoveTopicWeightExcept(keep ForkDigest) {
	for _, t := range r.Subscriptions() {
		if t.Digest != keep {
			r.gossip.RemoveScoreWeight(t)
		}
	}
}
