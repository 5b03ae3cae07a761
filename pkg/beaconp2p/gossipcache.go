package beaconp2p

import (
	"log/slog"
	"sync"
	"time"
)

// Kinds that have a retry TTL (spec §4.1). This table is not read by the
// cache: ttlFor's switch is what assigns TTLs (beacon block 1 slot,
// aggregates and attestations half an epoch, exits, slashings and
// BLS changes 1 epoch). Kinds ttlFor does not list, sync-committee
// messages/contributions among them, get no TTL and are not cached
// (spec §9's open question: do not invent a retry).
var gossipCacheTTLBySlotMultiple = map[GossipKind]float64{
	KindBeaconBlock:             1, // 1 slot
	KindBeaconAggregateAndProof: 0,
	KindAttestation:             0,
	KindVoluntaryExit:           0,
	KindProposerSlashing:        0,
	KindAttesterSlashing:        0,
	KindBLSToExecutionChange:    0,
}

// maxCacheEntriesPerTopic bounds the per-topic queue (spec §3's gossip
// cache entry invariant); the same cap applies to every kind.
const maxCacheEntriesPerTopic = 64

// GossipCacheClock lets tests control time without sleeping.
type GossipCacheClock func() time.Time

// cacheEntry is (topic, payload, expiry) per spec §3.
type cacheEntry struct {
	payload []byte
	expiry  time.Time
}

// GossipCache buffers messages that failed to publish for lack of mesh
// peers, replaying them on subscription events, and drops them once their
// topic-kind's TTL elapses (spec §4.1).
type GossipCache struct {
	mu      sync.Mutex
	queues  map[GossipTopic][]cacheEntry
	now     GossipCacheClock
	expired []GossipTopic // pending Expired(topic) notifications, drained by Expirations()

	slotDuration time.Duration
	slotsPerEpoch uint64
}

// NewGossipCache builds a cache using the chain's slot duration and
// slots-per-epoch to convert the spec's slot/epoch-relative TTLs into
// concrete durations.
func NewGossipCache(slotDuration time.Duration, slotsPerEpoch uint64, now GossipCacheClock) *GossipCache {
	if now == nil {
		now = time.Now
	}
	return &GossipCache{
		queues:        make(map[GossipTopic][]cacheEntry),
		now:           now,
		slotDuration:  slotDuration,
		slotsPerEpoch: slotsPerEpoch,
	}
}

// ttlFor returns the configured TTL for a kind, and false if none is
// configured (sync-committee kinds, and anything not in the table).
func (c *GossipCache) ttlFor(kind GossipKind) (time.Duration, bool) {
	switch kind {
	case KindBeaconBlock:
		return c.slotDuration, true
	case KindBeaconAggregateAndProof, KindAttestation:
		return time.Duration(c.slotsPerEpoch/2) * c.slotDuration, true
	case KindVoluntaryExit, KindProposerSlashing, KindAttesterSlashing, KindBLSToExecutionChange:
		return time.Duration(c.slotsPerEpoch) * c.slotDuration, true
	default:
		return 0, false
	}
}

// Insert enqueues payload for topic if its kind has a configured TTL; else
// it is dropped (spec §4.1 contract). Returns ErrCacheFull if the
// topic is already at its entry cap, ErrNoConfiguredTTL if the kind has no
// retry policy.
func (c *GossipCache) Insert(topic GossipTopic, payload []byte) error {
	ttl, ok := c.ttlFor(topic.Kind)
	if !ok {
		return ErrNoConfiguredTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[topic]
	if len(q) >= maxCacheEntriesPerTopic {
		return ErrCacheFull
	}
	c.queues[topic] = append(q, cacheEntry{payload: payload, expiry: c.now().Add(ttl)})
	return nil
}

// Retrieve returns and removes all non-expired payloads queued for topic,
// in insertion order. Expired entries are dropped and queued as pending
// Expired(topic) notifications, drained via Expirations().
func (c *GossipCache) Retrieve(topic GossipTopic) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[topic]
	if !ok || len(q) == 0 {
		return nil
	}
	delete(c.queues, topic)

	now := c.now()
	live := make([][]byte, 0, len(q))
	expiredCount := 0
	for _, e := range q {
		if now.After(e.expiry) {
			expiredCount++
			continue
		}
		live = append(live, e.payload)
	}
	for i := 0; i < expiredCount; i++ {
		c.expired = append(c.expired, topic)
	}
	return live
}

// Count returns the number of live (not-yet-expired) entries currently
// queued for topic, used by tests asserting the InsufficientPeers-retry
// invariant.
func (c *GossipCache) Count(topic GossipTopic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.queues[topic] {
		if !now.After(e.expiry) {
			n++
		}
	}
	return n
}

// Sweep expires in-place entries for all topics without requiring a
// Retrieve call, so expirations are observable even for topics nobody is
// currently retrieving from (drives the facade's periodic metrics drain,
// spec §4.7 step 3).
func (c *GossipCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for topic, q := range c.queues {
		live := q[:0]
		for _, e := range q {
			if now.After(e.expiry) {
				c.expired = append(c.expired, topic)
				continue
			}
			live = append(live, e)
		}
		if len(live) == 0 {
			delete(c.queues, topic)
		} else {
			c.queues[topic] = live
		}
	}
}

// Expirations drains and returns the topics for which an entry has expired
// since the last call. The facade surfaces these as metrics only, never as
// a public NetworkEvent (spec §4.7 step 3).
func (c *GossipCache) Expirations() []GossipTopic {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.expired) == 0 {
		return nil
	}
	out := c.expired
	c.expired = nil
	return out
}

// RemoveTopic drops all queued entries for topic without counting them as
// expirations (spec §3: removed on unsubscription, not as an age-out).
func (c *GossipCache) RemoveTopic(topic GossipTopic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, topic)
}

func (c *GossipCache) logDropped(log *slog.Logger, topic GossipTopic, n int) {
	if log == nil || n == 0 {
		return
	}
	log.Debug("gossipcache: entries expired", "topic", topic.String(), "count", n)
}
