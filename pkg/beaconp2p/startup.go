package beaconp2p

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// StartupConfig bundles everything the sequencer needs to bring up the
// core (spec §4.8).
type StartupConfig struct {
	NetworkDir string
	PrivKey    crypto.PrivKey

	ActiveForkName   ForkName
	ActiveForkDigest ForkDigest
	PeerDASScheduled bool
	CustodyGroupCount *uint64

	AttnetsLen   int
	SyncnetsLen  int

	Thresholds    ScoreThresholds
	SlotDuration  time.Duration
	SlotsPerEpoch uint64

	ListenAddrs   []multiaddr.Multiaddr
	QUICEnabled   bool
	UserPeers     []peer.AddrInfo
	BootENRs      []BootENR
	TrustedPeers  []peer.ID
	InitialTopics []GossipKind

	Gossip    GossipLayer
	Discovery DiscoveryService
	PeerMgr   PeerManagerService
	RPC       RPCTransport
	Decode    Decoder
	Host      host.Host

	Log     *slog.Logger
	Metrics *Metrics // nil disables metrics (spec §C.7)
}

// BootENR is one boot-node record as consumed by step 6 of the sequencer.
type BootENR struct {
	ID            peer.ID
	QUICAddrs     []multiaddr.Multiaddr
	TCPAddrs      []multiaddr.Multiaddr
	UDPOnly       bool
}

// StartupResult is everything the caller needs to keep running after a
// successful bring-up.
type StartupResult struct {
	Globals  *NetworkGlobals
	Records  *RecordStore
	Metadata *MetadataStore
	Network  *Network
}

// Startup performs the ordered one-shot bring-up of spec §4.8. Each step
// is a numbered method below for traceability against the spec; Startup
// itself only sequences them and surfaces the first error.
func Startup(cfg StartupConfig) (*StartupResult, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	// Step 1: load or build local keypair, record, and metadata.
	records, metadata, err := step1LoadIdentityRecordMetadata(cfg)
	if err != nil {
		return nil, err
	}

	// Step 2: score params, gossip config, whitelist filter (delegated to
	// the caller's already-constructed GossipLayer per the excluded-
	// internals boundary; this core only computes the score parameter
	// table and topic-kind whitelist it will apply).
	scores := NewScoreSettings(cfg.Thresholds, cfg.SlotDuration, cfg.SlotsPerEpoch)
	cache := NewGossipCache(cfg.SlotDuration, cfg.SlotsPerEpoch, nil)
	topics := NewTopicRegistry(cfg.Gossip, cfg.ActiveForkDigest).WithCache(cache)

	globals := NewNetworkGlobals(records, metadata, topics)

	// Step 3: mark trusted peers as explicit peers to gossip.
	step3MarkTrustedPeers(cfg)

	// Step 4: listen, skipping QUIC addrs if disabled.
	if err := step4Listen(cfg, log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListenFailed, err)
	}

	// Step 5: dial each user-supplied peer.
	step5DialUserPeers(cfg, log)

	// Step 6: dial boot ENRs, QUIC first, then TCP, skipping duplicates.
	step6DialBootENRs(cfg, log)

	// Step 7: subscribe to the configured initial topic kinds.
	step7SubscribeInitialTopics(cfg, topics)

	pmAdapter := NewPeerManagerAdapter(cfg.Discovery, cfg.RPC, nil, log)
	discAdapter := NewDiscoveryAdapter(cfg.Discovery, cfg.PeerMgr, records, metadata, cfg.AttnetsLen, cfg.SyncnetsLen, log).WithMetrics(cfg.Metrics)
	pmAdapter.discAdapter = discAdapter
	rpcAdapter := NewRPCAdapterWithMetrics(cfg.RPC, cfg.PeerMgr, metadata, func() bool { return cfg.PeerDASScheduled }, log, cfg.Metrics)

	net := NewNetwork(NetworkConfig{
		Globals: globals, Cache: cache,
		Scores: scores, Gossip: cfg.Gossip, Decode: cfg.Decode,
		PMAdapter: pmAdapter, DiscAdapter: discAdapter, RPCAdapter: rpcAdapter,
		PeerMgr:      cfg.PeerMgr,
		ActiveForkID: func() ForkDigest { return topics.ActiveDigest() },
		Log:          log, Metrics: cfg.Metrics,
	})

	return &StartupResult{Globals: globals, Records: records, Metadata: metadata, Network: net}, nil
}

func step1LoadIdentityRecordMetadata(cfg StartupConfig) (*RecordStore, *MetadataStore, error) {
	records, err := NewRecordStore(cfg.NetworkDir, cfg.PrivKey, cfg.ActiveForkDigest, cfg.AttnetsLen, cfg.SyncnetsLen)
	if err != nil {
		return nil, nil, fmt.Errorf("beaconp2p: startup step 1 (record): %w", err)
	}
	var custody *uint64
	if cfg.PeerDASScheduled {
		custody = cfg.CustodyGroupCount
	}
	metadata, err := NewMetadataStore(cfg.NetworkDir, cfg.AttnetsLen, cfg.SyncnetsLen, custody)
	if err != nil {
		return nil, nil, fmt.Errorf("beaconp2p: startup step 1 (metadata): %w", err)
	}
	return records, metadata, nil
}

func step3MarkTrustedPeers(cfg StartupConfig) {
	for _, p := range cfg.TrustedPeers {
		cfg.Gossip.SetExplicitPeer(p)
	}
}

func step4Listen(cfg StartupConfig, log *slog.Logger) error {
	for _, addr := range cfg.ListenAddrs {
		if !cfg.QUICEnabled && isQUICAddr(addr) {
			log.Debug("startup: skipping QUIC listen addr, QUIC disabled", "addr", addr.String())
			continue
		}
		if err := cfg.Host.Network().Listen(addr); err != nil {
			return fmt.Errorf("listen on %s: %w", addr.String(), err)
		}
	}
	return nil
}

func step5DialUserPeers(cfg StartupConfig, log *slog.Logger) {
	for _, p := range cfg.UserPeers {
		cfg.PeerMgr.Dial([]peer.ID{p.ID})
	}
	_ = log
}

// step6DialBootENRs asks the peer manager to dial each deduplicated boot
// ENR's peer ID once, provided it has QUIC addrs (with QUIC enabled) or TCP
// addrs; UDP-only entries and peers already connected are skipped (spec
// §4.8 step 6). The multiaddrs are not handed to the dialer, so the
// transport order is not enforced, and an in-progress dial is not detected.
func step6DialBootENRs(cfg StartupConfig, log *slog.Logger) {
	seen := make(map[peer.ID]struct{}, len(cfg.BootENRs))
	for _, enr := range cfg.BootENRs {
		if _, dup := seen[enr.ID]; dup {
			continue
		}
		seen[enr.ID] = struct{}{}

		if enr.UDPOnly {
			continue
		}
		if alreadyConnectedOrDialing(cfg.Host, enr.ID) {
			continue
		}

		var toDial []peer.ID
		if cfg.QUICEnabled && len(enr.QUICAddrs) > 0 {
			toDial = append(toDial, enr.ID)
		} else if len(enr.TCPAddrs) > 0 {
			toDial = append(toDial, enr.ID)
		} else {
			log.Debug("startup: boot ENR has no usable addrs", "peer", enr.ID.String())
			continue
		}
		cfg.PeerMgr.Dial(toDial)
	}
}

func step7SubscribeInitialTopics(cfg StartupConfig, topics *TopicRegistry) {
	for _, kind := range cfg.InitialTopics {
		if kind.hasSubnet() {
			continue // subnet kinds are subscribed per-subnet by the caller once subnet assignment is known
		}
		topics.SubscribeKind(kind, 0)
	}
}

func alreadyConnectedOrDialing(h host.Host, p peer.ID) bool {
	switch h.Network().Connectedness(p) {
	case network.Connected, network.Limited:
		return true
	default:
		return false
	}
}

func isQUICAddr(addr multiaddr.Multiaddr) bool {
	for _, p := range addr.Protocols() {
		if p.Name == "quic" || p.Name == "quic-v1" {
			return true
		}
	}
	return false
}
