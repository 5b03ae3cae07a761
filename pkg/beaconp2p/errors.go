package beaconp2p

import "errors"

var (
	// ErrListenFailed is returned by Startup when the core fails to bind any
	// configured listen address; per spec §7, this is fatal at startup.
	ErrListenFailed = errors.New("beaconp2p: listen failed")

	// ErrNoConfiguredTTL is the reason insert() drops a payload: the topic
	// kind has no retry-cache TTL configured (sync-committee messages and
	// contributions, per spec §9's open question — no invented retry).
	ErrNoConfiguredTTL = errors.New("beaconp2p: gossip kind has no configured retry TTL")

	// ErrPeerNotConnected is returned when an RPC operation is attempted
	// against a peer the peer-manager does not report as Connected.
	ErrPeerNotConnected = errors.New("beaconp2p: peer not connected")

	// ErrInvalidRequest marks a structurally invalid inbound request (e.g.
	// BlocksByRange step=0); it never surfaces to the application, only to
	// the peer manager as a reputation hit.
	ErrInvalidRequest = errors.New("beaconp2p: invalid request")

	// ErrGossipsubNotSupported is the fatal-reputation / Goodbye path when a
	// peer's identify payload proves it does not speak gossipsub.
	ErrGossipsubNotSupported = errors.New("beaconp2p: peer does not support gossipsub")

	// ErrUnknownTopic names the case of a GossipTopic the topic registry has
	// no record of. No function in this package returns it: the registry's
	// Unsubscribe reports an unknown topic by returning false.
	ErrUnknownTopic = errors.New("beaconp2p: unknown gossip topic")

	// ErrCacheFull is returned by the retry cache when a topic's entry count
	// is already at maxCacheEntriesPerTopic (spec §3's gossip cache entry
	// invariant).
	ErrCacheFull = errors.New("beaconp2p: retry cache full for topic")
)
