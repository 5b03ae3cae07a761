package beaconp2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestNetwork(t *testing.T, gossip GossipLayer, transport *fakeRPCTransport, pm *fakePeerManager) *Network {
	t.Helper()
	dir := t.TempDir()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, 0)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	records, err := NewRecordStore(dir, priv, ForkDigest{1}, 64, 4)
	if err != nil {
		t.Fatalf("new record store: %v", err)
	}
	metadata, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	topics := NewTopicRegistry(gossip, ForkDigest{1})
	globals := NewNetworkGlobals(records, metadata, topics)
	scores := NewScoreSettings(ScoreThresholds{}, 12*time.Second, 32)
	cache := NewGossipCache(12*time.Second, 32, nil)

	disc := newFakeDiscovery()
	discAdapter := NewDiscoveryAdapter(disc, pm, records, metadata, 64, 4, nil)
	rpcAdapter := NewRPCAdapter(transport, pm, metadata, func() bool { return false }, nil)
	pmAdapter := NewPeerManagerAdapter(disc, transport, discAdapter, nil)

	return NewNetwork(NetworkConfig{
		Globals: globals, Cache: cache, Scores: scores, Gossip: gossip,
		Decode:      func(kind GossipKind, payload []byte) (any, error) { return payload, nil },
		PMAdapter:   pmAdapter, DiscAdapter: discAdapter, RPCAdapter: rpcAdapter,
		PeerMgr:      pm,
		ActiveForkID: func() ForkDigest { return topics.ActiveDigest() },
	})
}

// TestNetworkSendRequestReachesTransport reproduces the send_request host
// command: the reply surfaces back through the RPC adapter's response
// classification, not a direct return value.
func TestNetworkSendRequestReachesTransport(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, newFakeGossipLayer(), transport, pm)
	p := peer.ID("peer-1")

	if err := n.SendRequest(p, ApplicationRequestID(7), ReqStatus, "payload"); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if len(transport.requests) != 1 || transport.requests[0].id != ApplicationRequestID(7) {
		t.Fatalf("expected application request tagged through to transport, got %v", transport.requests)
	}
}

// TestNetworkSendResponseAndErrorResponse reproduce the send_response and
// send_error_response host commands named in spec §6.
func TestNetworkSendResponseAndErrorResponse(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, newFakeGossipLayer(), transport, pm)
	p := peer.ID("peer-1")
	streamID := PeerRequestID{ConnectionID: 1, SubstreamID: 2}

	if err := n.SendResponse(p, streamID, ReqStatus, "ok", true); err != nil {
		t.Fatalf("send response: %v", err)
	}
	if len(transport.responses) != 1 || transport.responses[0].id != streamID {
		t.Fatalf("expected response keyed by PeerRequestID, got %v", transport.responses)
	}

	if err := n.SendErrorResponse(p, streamID, "bad request"); err != nil {
		t.Fatalf("send error response: %v", err)
	}
}

// TestNetworkUpdateActiveValidatorsAppliesScoreParams reproduces the
// update_gossipsub_parameters host command: it must recompute and apply
// score params outside the decay-interval tick.
func TestNetworkUpdateActiveValidatorsAppliesScoreParams(t *testing.T) {
	gossip := newFakeGossipLayer()
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, gossip, transport, pm)

	topic, ok := n.globals.Topics.SubscribeKind(KindBeaconBlock, 0)
	if !ok {
		t.Fatalf("subscribe failed")
	}

	n.UpdateActiveValidators(5000, 100)

	found := false
	for _, t2 := range gossip.scoredTopics {
		if t2 == topic {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected score params applied to the subscribed topic, got %v", gossip.scoredTopics)
	}
}

// TestNetworkSwarmIdentifyDisconnectsPeerWithoutGossipsub reproduces the
// GossipsubNotSupported fatal path: an identify payload lacking a known
// gossipsub protocol ID must raise a fatal reputation hit and send Goodbye.
func TestNetworkSwarmIdentifyDisconnectsPeerWithoutGossipsub(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, newFakeGossipLayer(), transport, pm)
	p := peer.ID("peer-1")

	n.dispatchOne(SwarmEvent{Kind: SwarmIdentify, Peer: p, IdentifyProtocols: []string{"/some/other/1.0.0"}})

	if len(pm.reports) != 1 || pm.reports[0].action != ReportFatal {
		t.Fatalf("expected a fatal reputation hit, got %v", pm.reports)
	}
	if len(transport.goodbyes) != 1 || transport.goodbyes[0] != p {
		t.Fatalf("expected goodbye sent to peer, got %v", transport.goodbyes)
	}
}

// TestNetworkSwarmIdentifyAcceptsGossipsubPeer is the inverse: a peer that
// does advertise a gossipsub protocol ID must not be disconnected.
func TestNetworkSwarmIdentifyAcceptsGossipsubPeer(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, newFakeGossipLayer(), transport, pm)
	p := peer.ID("peer-1")

	n.dispatchOne(SwarmEvent{Kind: SwarmIdentify, Peer: p, IdentifyProtocols: []string{"/meshsub/1.1.0"}})

	if len(pm.reports) != 0 {
		t.Fatalf("expected no reputation hit for a gossipsub-capable peer, got %v", pm.reports)
	}
	if len(transport.goodbyes) != 0 {
		t.Fatalf("expected no goodbye for a gossipsub-capable peer, got %v", transport.goodbyes)
	}
}

// TestNetworkUpdateENRSubnetAndForkVersion exercise the update_enr_subnet
// and update_fork_version host commands end to end through the facade.
func TestNetworkUpdateENRSubnetAndForkVersion(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	n := newTestNetwork(t, newFakeGossipLayer(), transport, pm)

	if err := n.UpdateENRSubnet(KindAttestation, 3, true); err != nil {
		t.Fatalf("update enr subnet: %v", err)
	}
	if err := n.UpdateForkVersion(ForkDigest{7, 7, 7, 7}); err != nil {
		t.Fatalf("update fork version: %v", err)
	}
}
