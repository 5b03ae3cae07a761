// Command beaconp2pd runs the beacon-node P2P networking stack
// (pkg/beaconp2p) as a standalone daemon: it builds a libp2p host and DHT,
// wires the concrete discovery/gossip/rpc/peer-manager collaborators, and
// drives the resulting Network's event loop.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/shurli/internal/config"
	"github.com/shurlinet/shurli/internal/reputation"
	"github.com/shurlinet/shurli/pkg/beaconp2p"
	"github.com/shurlinet/shurli/pkg/beaconp2p/discovery"
	"github.com/shurlinet/shurli/pkg/beaconp2p/gossip"
	"github.com/shurlinet/shurli/pkg/beaconp2p/peermanager"
	"github.com/shurlinet/shurli/pkg/beaconp2p/rpctransport"
	"github.com/shurlinet/shurli/pkg/p2pnet"
)

const rpcProtocol = protocol.ID("/beaconp2p/req/1.0.0")

var gossipKindByName = map[string]beaconp2p.GossipKind{
	"beacon_block":                         beaconp2p.KindBeaconBlock,
	"beacon_aggregate_and_proof":           beaconp2p.KindBeaconAggregateAndProof,
	"beacon_attestation":                   beaconp2p.KindAttestation,
	"sync_committee":                       beaconp2p.KindSyncCommittee,
	"sync_committee_contribution_and_proof": beaconp2p.KindSyncCommitteeContributionAndProof,
	"voluntary_exit":                       beaconp2p.KindVoluntaryExit,
	"proposer_slashing":                    beaconp2p.KindProposerSlashing,
	"attester_slashing":                    beaconp2p.KindAttesterSlashing,
	"bls_to_execution_change":              beaconp2p.KindBLSToExecutionChange,
	"blob_sidecar":                         beaconp2p.KindBlobSidecar,
	"data_column_sidecar":                  beaconp2p.KindDataColumnSidecar,
	"light_client_finality_update":         beaconp2p.KindLightClientFinalityUpdate,
	"light_client_optimistic_update":       beaconp2p.KindLightClientOptimisticUpdate,
}

func main() {
	cfgFile := flag.String("config", "", "path to beaconp2pd config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*cfgFile, log); err != nil {
		log.Error("beaconp2pd: fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfgFile string, log *slog.Logger) error {
	if cfgFile == "" {
		found, err := config.FindConfigFile("")
		if err != nil {
			return fmt.Errorf("locate config: %w", err)
		}
		cfgFile = found
	}

	cfg, err := config.LoadBeaconNodeConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateBeaconNodeConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priv, err := p2pnet.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	hostOpts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
	}
	if len(cfg.Network.ListenAddresses) > 0 {
		hostOpts = append(hostOpts, libp2p.ListenAddrStrings(cfg.Network.ListenAddresses...))
	}
	if cfg.Network.ForcePrivateReachability {
		hostOpts = append(hostOpts, libp2p.ForceReachabilityPrivate())
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	defer h.Close()
	log.Info("beaconp2pd: host up", "peer_id", h.ID().String())

	dhtPrefix := protocol.ID("/beaconp2p/kad/1.0.0")
	if cfg.Discovery.Network != "" {
		dhtPrefix = protocol.ID("/beaconp2p/" + cfg.Discovery.Network + "/kad/1.0.0")
	}
	kdht, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.ProtocolPrefix(dhtPrefix))
	if err != nil {
		return fmt.Errorf("create DHT: %w", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap DHT: %w", err)
	}

	for _, addr := range cfg.Discovery.BootstrapPeers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			log.Warn("beaconp2pd: invalid bootstrap peer", "addr", addr, "err", err)
			continue
		}
		ai, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Warn("beaconp2pd: invalid bootstrap peer addr info", "addr", addr, "err", err)
			continue
		}
		if err := h.Connect(ctx, *ai); err != nil {
			log.Warn("beaconp2pd: bootstrap connect failed", "peer", ai.ID.String(), "err", err)
		}
	}

	pathDialer := p2pnet.NewPathDialer(h, kdht, nil, nil)
	rawPM := p2pnet.NewPeerManager(h, pathDialer, nil, nil)
	rawPM.Start(ctx)
	defer rawPM.Close()

	historyPath := filepath.Join(filepath.Dir(cfgFile), "beacon_peer_history.json")
	history := reputation.NewPeerHistory(historyPath)

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return fmt.Errorf("create gossipsub: %w", err)
	}

	net, err := buildNetwork(ctx, h, priv, kdht, pathDialer, rawPM, history, ps, cfg, log)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	go net.Run(beaconp2p.NewScoreSettings(defaultScoreThresholds(), cfg.Chain.SlotDuration, cfg.Chain.SlotsPerEpoch).DecayInterval())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-net.Events():
			log.Debug("beaconp2pd: event", "event", fmt.Sprintf("%+v", ev))
		case <-sigCh:
			log.Info("beaconp2pd: shutting down")
			net.Close()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// buildNetwork wires the concrete collaborators (discovery, gossip, RPC
// transport, peer manager) into pkg/beaconp2p.Startup.
func buildNetwork(
	ctx context.Context,
	h host.Host,
	priv crypto.PrivKey,
	kdht *dht.IpfsDHT,
	pathDialer *p2pnet.PathDialer,
	rawPM *p2pnet.PeerManager,
	history *reputation.PeerHistory,
	ps *pubsub.PubSub,
	cfg *config.BeaconNodeConfig,
	log *slog.Logger,
) (*beaconp2p.Network, error) {
	digestBytes, err := hex.DecodeString(cfg.Chain.ActiveForkDigest)
	if err != nil || len(digestBytes) != 4 {
		return nil, fmt.Errorf("invalid chain.active_fork_digest %q", cfg.Chain.ActiveForkDigest)
	}
	var digest beaconp2p.ForkDigest
	copy(digest[:], digestBytes)

	var net *beaconp2p.Network
	disc := discovery.New(ctx, h, kdht, pathDialer, log)

	onGossipMessage := func(topic beaconp2p.GossipTopic, msgID string, from peer.ID, payload []byte) {
		if net != nil {
			net.InjectSwarmEvent(beaconp2p.SwarmEvent{
				Kind:          beaconp2p.SwarmGossipMessage,
				Peer:          from,
				GossipTopic:   topic,
				GossipMsgID:   msgID,
				GossipPayload: payload,
			})
		}
	}
	gl := gossip.New(ctx, h, ps, onGossipMessage, log)

	onRPCEvent := func(ev beaconp2p.SwarmEvent) {
		if net != nil {
			net.InjectSwarmEvent(ev)
		}
	}
	rpc := rpctransport.New(h, rpcProtocol, onRPCEvent, log)

	pmgr := peermanager.New(ctx, h, rawPM, pathDialer, history, rpc, log)

	var listenAddrs []ma.Multiaddr
	for _, s := range cfg.Network.ListenAddresses {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			log.Warn("beaconp2pd: invalid listen address", "addr", s, "err", err)
			continue
		}
		listenAddrs = append(listenAddrs, addr)
	}

	var trustedPeers []peer.ID
	for _, s := range cfg.Chain.TrustedPeers {
		pid, err := peer.Decode(s)
		if err != nil {
			log.Warn("beaconp2pd: invalid trusted peer id", "peer", s, "err", err)
			continue
		}
		trustedPeers = append(trustedPeers, pid)
	}

	var initialTopics []beaconp2p.GossipKind
	for _, name := range cfg.Chain.InitialTopics {
		kind, ok := gossipKindByName[name]
		if !ok {
			log.Warn("beaconp2pd: unknown initial topic kind", "name", name)
			continue
		}
		initialTopics = append(initialTopics, kind)
	}

	result, err := beaconp2p.Startup(beaconp2p.StartupConfig{
		NetworkDir:        filepath.Dir(cfg.Identity.KeyFile),
		PrivKey:           priv,
		ActiveForkName:    beaconp2p.ForkName(cfg.Chain.ActiveForkName),
		ActiveForkDigest:  digest,
		PeerDASScheduled:  cfg.Chain.PeerDASScheduled,
		CustodyGroupCount: cfg.Chain.CustodyGroupCount,
		AttnetsLen:        cfg.Chain.AttnetsCount,
		SyncnetsLen:       cfg.Chain.SyncnetsCount,
		Thresholds:        defaultScoreThresholds(),
		SlotDuration:      cfg.Chain.SlotDuration,
		SlotsPerEpoch:     cfg.Chain.SlotsPerEpoch,
		ListenAddrs:       listenAddrs,
		QUICEnabled:       true,
		TrustedPeers:      trustedPeers,
		InitialTopics:     initialTopics,
		Gossip:            gl,
		Discovery:         disc,
		PeerMgr:           pmgr,
		RPC:               rpc,
		Decode:            nil,
		Host:              h,
		Log:               log,
		Metrics:           nil,
	})
	if err != nil {
		return nil, err
	}
	net = result.Network
	return net, nil
}

// defaultScoreThresholds mirrors typical beacon-chain gossipsub threshold
// magnitudes; operators override via chain config in a future revision.
func defaultScoreThresholds() beaconp2p.ScoreThresholds {
	return beaconp2p.ScoreThresholds{
		GossipThreshold:             -4000,
		PublishThreshold:            -8000,
		GraylistThreshold:           -16000,
		AcceptPXThreshold:           100,
		OpportunisticGraftThreshold: 5,
	}
}
