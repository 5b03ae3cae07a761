package beaconp2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// DiscoveryService is the contract the core depends on for the discovery
// subsystem (spec §1: "DHT internals... referenced by contract only").
// A concrete implementation backed by go-libp2p-kad-dht lives in
// pkg/beaconp2p/discovery.
type DiscoveryService interface {
	// Discover requests n additional peers from the DHT, independent of any
	// particular subnet.
	Discover(n int)

	// DiscoverSubnetQuery issues one batched DHT query for peers serving the
	// given subnets. Called only with entries that survived the cache
	// short-circuit in the Discovery Adapter (spec §4.5 step 4).
	DiscoverSubnetQuery(reqs []SubnetRequest)

	// CachedPeersForSubnet returns and removes from the discovery cache all
	// currently-known ENR-equivalent peer records satisfying the subnet
	// predicate (spec §4.5 step 3).
	CachedPeersForSubnet(kind GossipKind, subnet uint64) []peer.ID

	// GoodPeerCountForSubnet is the number of currently-connected peers
	// known to serve the subnet, used for the TARGET_SUBNET_PEERS
	// short-circuit.
	GoodPeerCountForSubnet(kind GossipKind, subnet uint64) int

	// ConnectedPeersForSubnet lists currently-connected peers already
	// known to serve the subnet, without touching the discovery cache
	// (distinct from CachedPeersForSubnet, which drains not-yet-dialed
	// ENRs). Used to extend TTLs on already-connected peers (spec §4.5
	// step 1).
	ConnectedPeersForSubnet(kind GossipKind, subnet uint64) []peer.ID

	// Ban and Unban propagate a peer-manager ban decision to the discovery
	// table (spec §4.4's Banned/UnBanned actions).
	Ban(p peer.ID, ips []string)
	Unban(p peer.ID, ips []string)

	// AddENR and ENREntries expose the local add_enr/enr_entries commands.
	AddENR(p peer.ID, record []byte)
	ENREntries() map[peer.ID][]byte

	// UpdateForkVersion notifies discovery that the local ENR's fork id
	// field must be rewritten after a fork transition.
	UpdateForkVersion(digest ForkDigest)
}

// PeerManagerService is the contract the core depends on for the
// peer-manager subsystem (spec §1).
type PeerManagerService interface {
	// Dial asks the peer manager to connect to the given peers (used by
	// cached-ENR dialing in the Discovery Adapter).
	Dial(peers []peer.ID)

	// IsConnected reports whether the peer manager considers p Connected;
	// used by the RPC adapter's disconnected-peer rejection rule (§4.6).
	IsConnected(p peer.ID) bool

	// ReportPeer raises a reputation event against p.
	ReportPeer(p peer.ID, action ReportPeerAction, reason string)

	// RecordSubnetDeadline extends the minimum-serve-until deadline the
	// peer manager tracks for a sync-committee subnet peer (spec §4.5 step 1).
	RecordSubnetDeadline(p peer.ID, kind GossipKind, subnet uint64, deadline time.Time)

	// Disconnect asks the peer manager to tear down the connection to p
	// (spec §4.4's DisconnectPeer action, fulfilled via RPC Goodbye).
	Disconnect(p peer.ID, reason DisconnectReason)
}

// RPCTransport is the contract the core depends on for the RPC framing and
// rate-limiter subsystem (spec §1: "send request/response, error callbacks").
// A concrete implementation over snappy-framed libp2p streams lives in
// pkg/beaconp2p/rpctransport.
type RPCTransport interface {
	// SendRequest opens (or reuses) a stream to p and writes req tagged with
	// id. id is the tagged RequestID union (Application or Internal), not a
	// PeerRequestID: the host needs it back unchanged to classify the
	// matching InboundResponse (spec §3). Failures surface asynchronously
	// via the adapter's event intake, not as a return value here.
	SendRequest(p peer.ID, id RequestID, kind RequestKind, req any) error

	// SendResponse writes one response chunk for the inbound stream peerReq.
	// final marks the EndOfStream marker for streaming kinds.
	SendResponse(p peer.ID, peerReq PeerRequestID, kind RequestKind, resp any, final bool) error

	// SendErrorResponse writes a protocol-level error response and closes
	// the stream.
	SendErrorResponse(p peer.ID, peerReq PeerRequestID, msg string) error

	// Goodbye sends a terminal Goodbye message with the given reason.
	Goodbye(p peer.ID, reason DisconnectReason) error
}

// GossipLayer is the contract the core depends on for the underlying
// gossipsub behaviour (go-libp2p-pubsub in this module's concrete wiring).
type GossipLayer interface {
	Subscribe(topic GossipTopic) error
	Unsubscribe(topic GossipTopic) error
	IsSubscribed(topic GossipTopic) bool

	// Publish sends the already-encoded payload on topic. Returns
	// ErrDuplicateMessage or ErrInsufficientPeers on the well-known failure
	// modes the facade special-cases (spec §4.7, §7); any other error is
	// metered only.
	Publish(topic GossipTopic, payload []byte) error

	// ReportValidationResult forwards the application's verdict to the
	// gossip layer's message-id-keyed validation queue.
	ReportValidationResult(p peer.ID, msgID string, verdict ValidationVerdict)

	// ApplyScoreParams installs score parameters for one topic.
	ApplyScoreParams(topic GossipTopic, params TopicScoreParams)

	// RemoveScoreWeight zeroes a topic's score weight without unsubscribing.
	RemoveScoreWeight(topic GossipTopic)

	// SetExplicitPeer marks p as a trusted/explicit peer (spec §4.8 step 3).
	SetExplicitPeer(p peer.ID)
}

// ErrDuplicateMessage and ErrInsufficientPeers are the two publish failure
// modes the Network Facade special-cases (spec §4.7, §7); GossipLayer
// implementations must return one of these sentinels (wrapped or bare) for
// the facade's classification to work.
var (
	ErrDuplicateMessage  = errDuplicate{}
	ErrInsufficientPeers = errInsufficientPeers{}
)

type errDuplicate struct{}

func (errDuplicate) Error() string { return "beaconp2p: duplicate gossip message" }

type errInsufficientPeers struct{}

func (errInsufficientPeers) Error() string { return "beaconp2p: insufficient mesh peers" }
