package beaconp2p

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
)

type sentResponse struct {
	peer  peer.ID
	id    PeerRequestID
	kind  RequestKind
	resp  any
	final bool
}

type fakeRPCTransport struct {
	responses []sentResponse
	requests  []struct {
		peer peer.ID
		id   RequestID
		kind RequestKind
		req  any
	}
	goodbyes []peer.ID
}

func (f *fakeRPCTransport) SendRequest(p peer.ID, id RequestID, kind RequestKind, req any) error {
	f.requests = append(f.requests, struct {
		peer peer.ID
		id   RequestID
		kind RequestKind
		req  any
	}{p, id, kind, req})
	return nil
}

func (f *fakeRPCTransport) SendResponse(p peer.ID, peerReq PeerRequestID, kind RequestKind, resp any, final bool) error {
	f.responses = append(f.responses, sentResponse{p, peerReq, kind, resp, final})
	return nil
}

func (f *fakeRPCTransport) SendErrorResponse(p peer.ID, peerReq PeerRequestID, msg string) error {
	return nil
}

func (f *fakeRPCTransport) Goodbye(p peer.ID, reason DisconnectReason) error {
	f.goodbyes = append(f.goodbyes, p)
	return nil
}

type stepPayload struct{ step uint64 }

func (s stepPayload) Step() uint64 { return s.step }

func TestRPCAdapterDropsRequestFromDisconnectedPeer(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)

	p := peer.ID("peer-1")
	_, ok := a.HandleInboundRequest(InboundRequest{Peer: p, Kind: ReqStatus})
	if ok {
		t.Fatalf("expected request from disconnected peer to be dropped")
	}
}

func TestRPCAdapterRejectsBlocksByRangeStepZero(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	p := peer.ID("peer-1")
	pm.connected[p] = true
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)

	_, ok := a.HandleInboundRequest(InboundRequest{Peer: p, Kind: ReqBlocksByRange, Payload: stepPayload{step: 0}})
	if ok {
		t.Fatalf("expected step=0 request to be rejected")
	}
	if len(pm.reports) != 1 || pm.reports[0].action != ReportMid {
		t.Fatalf("expected a ReportMid reputation hit, got %v", pm.reports)
	}
}

func TestRPCAdapterInternalRequestsNeverSurface(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	p := peer.ID("peer-1")
	pm.connected[p] = true
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)

	streamID := PeerRequestID{ConnectionID: 1, SubstreamID: 2}
	_, ok := a.HandleInboundRequest(InboundRequest{Peer: p, StreamID: streamID, Kind: ReqPing})
	if ok {
		t.Fatalf("expected ping request to stay internal")
	}
	if len(transport.responses) != 1 || transport.responses[0].kind != ReqPing {
		t.Fatalf("expected a pong reply sent, got %v", transport.responses)
	}

	_, ok = a.HandleInboundRequest(InboundRequest{Peer: p, StreamID: streamID, Kind: ReqMetaData})
	if ok {
		t.Fatalf("expected metadata request to stay internal")
	}
	if len(transport.responses) != 2 || transport.responses[1].kind != ReqMetaData {
		t.Fatalf("expected a metadata reply sent, got %v", transport.responses)
	}
}

func TestRPCAdapterPropagatesApplicationRequest(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	p := peer.ID("peer-1")
	pm.connected[p] = true
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)

	streamID := PeerRequestID{ConnectionID: 1, SubstreamID: 2}
	ev, ok := a.HandleInboundRequest(InboundRequest{Peer: p, StreamID: streamID, Kind: ReqStatus})
	if !ok {
		t.Fatalf("expected application request to propagate")
	}
	if ev.Kind != EventRequestReceived || ev.PeerReqID != streamID {
		t.Fatalf("expected EventRequestReceived keyed by PeerReqID, got %+v", ev)
	}
}

func TestRPCAdapterResponseClassification(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)
	p := peer.ID("peer-1")

	if _, ok := a.HandleInboundResponse(InboundResponse{Peer: p, Kind: ReqMetaData}); ok {
		t.Fatalf("expected internal metadata response to stay internal")
	}

	ev, ok := a.HandleInboundResponse(InboundResponse{Peer: p, ID: ApplicationRequestID(1), Kind: ReqStatus, Final: true})
	if !ok {
		t.Fatalf("expected application response to surface")
	}
	if ev.Kind != EventResponseReceived || !ev.EndOfStream {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRPCAdapterReportRPCOutcomeTripsAfterThreshold(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	a := NewRPCAdapter(transport, pm, meta, func() bool { return false }, nil)
	p := peer.ID("peer-1")

	var tripped bool
	for i := 0; i <= slowPeerThreshold; i++ {
		tripped = a.ReportRPCOutcome(p, true, false, false)
	}
	if !tripped {
		t.Fatalf("expected outcome to trip after exceeding threshold")
	}

	if a.ReportRPCOutcome(p, false, false, true) {
		t.Fatalf("expected a successful outcome to reset and not trip")
	}
}

func TestRPCAdapterSendMetaDataRequestReadsPeerDASAtCallTime(t *testing.T) {
	transport := &fakeRPCTransport{}
	pm := newFakePeerManager()
	dir := t.TempDir()
	meta, err := NewMetadataStore(dir, 64, 4, nil)
	if err != nil {
		t.Fatalf("new metadata store: %v", err)
	}
	scheduled := false
	a := NewRPCAdapter(transport, pm, meta, func() bool { return scheduled }, nil)
	p := peer.ID("peer-1")

	if err := a.SendMetaDataRequest(p); err != nil {
		t.Fatalf("send metadata request: %v", err)
	}
	if got := transport.requests[0].req; got != MetadataVersion(false) {
		t.Fatalf("expected v2 selection, got %v", got)
	}

	scheduled = true
	if err := a.SendMetaDataRequest(p); err != nil {
		t.Fatalf("send metadata request: %v", err)
	}
	if got := transport.requests[1].req; got != MetadataVersion(true) {
		t.Fatalf("expected v3 selection after flag flip, got %v", got)
	}
}
