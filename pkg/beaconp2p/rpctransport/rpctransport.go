// Package rpctransport is the concrete beaconp2p.RPCTransport, framing
// requests and responses as length-prefixed, snappy-compressed envelopes
// over libp2p streams — the same stream-per-exchange shape as
// pkg/p2pnet/ping.go's liveness protocol, generalized from a fixed
// "ping\n" line to an arbitrary request/response envelope.
package rpctransport

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/shurlinet/shurli/pkg/beaconp2p"
)

// maxFrameSize bounds a single compressed envelope, mirroring the
// defensive read limits pkg/p2pnet/ping.go applies to its line reader.
const maxFrameSize = 4 << 20

const streamTimeout = 10 * time.Second

// envelope is the wire shape for both requests and responses; Payload is
// carried as raw JSON and handed to the core as an opaque []byte (RPC
// payload decoding is an application concern, spec §1's excluded list).
type envelope struct {
	Kind    beaconp2p.RequestKind
	Final   bool
	Err     string          `json:",omitempty"`
	Payload json.RawMessage `json:",omitempty"`
}

// EventSink receives swarm events produced by the transport, normally
// (*beaconp2p.Network).InjectSwarmEvent.
type EventSink func(beaconp2p.SwarmEvent)

// Transport is the concrete beaconp2p.RPCTransport over a libp2p host.
type Transport struct {
	host     host.Host
	protocol protocol.ID
	onEvent  EventSink
	log      *slog.Logger

	mu       sync.Mutex
	inbound  map[beaconp2p.PeerRequestID]libp2pnetwork.Stream
	streamID atomic.Uint64
}

// New registers the RPC stream handler on h and returns a Transport that
// reports inbound requests, responses, and failures to onEvent.
func New(h host.Host, proto protocol.ID, onEvent EventSink, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{
		host: h, protocol: proto, onEvent: onEvent, log: log,
		inbound: make(map[beaconp2p.PeerRequestID]libp2pnetwork.Stream),
	}
	h.SetStreamHandler(proto, t.handleInboundStream)
	return t
}

// handleInboundStream reads one request envelope, surfaces it to the core,
// and keeps the stream open under a PeerRequestID for the eventual
// SendResponse/SendErrorResponse call.
func (t *Transport) handleInboundStream(s libp2pnetwork.Stream) {
	p := s.Conn().RemotePeer()
	s.SetReadDeadline(time.Now().Add(streamTimeout))

	env, err := readEnvelope(bufio.NewReader(s))
	if err != nil {
		t.log.Debug("rpctransport: inbound envelope read failed", "peer", p.String(), "err", err)
		s.Reset()
		return
	}

	id := beaconp2p.PeerRequestID{ConnectionID: connID(s), SubstreamID: t.streamID.Add(1)}
	t.mu.Lock()
	t.inbound[id] = s
	t.mu.Unlock()

	t.onEvent(beaconp2p.SwarmEvent{
		Kind: beaconp2p.SwarmInboundRequest,
		Peer: p,
		InboundReq: beaconp2p.InboundRequest{
			Peer: p, StreamID: id, Kind: env.Kind, Payload: []byte(env.Payload),
		},
	})
}

// connID derives a locally-unique connection identifier from the remote
// peer and multiaddr of the stream's underlying connection; it has no
// meaning outside this process and is only used to make PeerRequestID
// distinct per connection (spec §3: "identifies one inbound RPC stream:
// (connection, substream)"), the same remote-addr-keyed identity
// pkg/p2pnet/ping.go uses for its own per-connection bookkeeping.
func connID(s libp2pnetwork.Stream) uint64 {
	key := s.Conn().RemotePeer().String() + "|" + s.Conn().RemoteMultiaddr().String()
	var h uint64 = 14695981039346656037
	for _, b := range []byte(key) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// SendRequest opens a new stream to p, writes the request envelope tagged
// with kind, and spawns a reader that surfaces every response chunk (and
// any stream failure) as a swarm event keyed by id.
func (t *Transport) SendRequest(p peer.ID, id beaconp2p.RequestID, kind beaconp2p.RequestKind, req any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpctransport: marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	s, err := t.host.NewStream(ctx, p, t.protocol)
	if err != nil {
		return fmt.Errorf("rpctransport: open stream to %s: %w", p.String(), err)
	}
	if err := writeEnvelope(s, envelope{Kind: kind, Payload: payload}); err != nil {
		s.Reset()
		return fmt.Errorf("rpctransport: write request: %w", err)
	}
	go t.readResponses(s, p, id, kind)
	return nil
}

// readResponses drains response envelopes off s until it closes, reporting
// each as a SwarmInboundResponse and any read failure as a SwarmRPCFailure.
func (t *Transport) readResponses(s libp2pnetwork.Stream, p peer.ID, id beaconp2p.RequestID, kind beaconp2p.RequestKind) {
	defer s.Close()
	br := bufio.NewReader(s)
	for {
		s.SetReadDeadline(time.Now().Add(streamTimeout))
		env, err := readEnvelope(br)
		if err != nil {
			if err != io.EOF {
				t.onEvent(beaconp2p.SwarmEvent{
					Kind: beaconp2p.SwarmRPCFailure, Peer: p,
					RPCFailID: id, RPCFailError: err,
				})
			}
			return
		}
		t.onEvent(beaconp2p.SwarmEvent{
			Kind: beaconp2p.SwarmInboundResponse,
			Peer: p,
			InboundResp: beaconp2p.InboundResponse{
				Peer: p, ID: id, Kind: kind, Payload: []byte(env.Payload), Final: env.Final,
			},
		})
		if env.Final {
			return
		}
	}
}

// SendResponse writes one response chunk for the inbound stream peerReq.
func (t *Transport) SendResponse(p peer.ID, peerReq beaconp2p.PeerRequestID, kind beaconp2p.RequestKind, resp any, final bool) error {
	s, ok := t.takeStream(peerReq, final)
	if !ok {
		return fmt.Errorf("rpctransport: no open stream for request %+v", peerReq)
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("rpctransport: marshal response: %w", err)
	}
	if err := writeEnvelope(s, envelope{Kind: kind, Payload: payload, Final: final}); err != nil {
		s.Reset()
		return fmt.Errorf("rpctransport: write response: %w", err)
	}
	if final {
		s.Close()
	}
	return nil
}

// SendErrorResponse writes a protocol-level error envelope and closes the
// stream.
func (t *Transport) SendErrorResponse(p peer.ID, peerReq beaconp2p.PeerRequestID, msg string) error {
	s, ok := t.takeStream(peerReq, true)
	if !ok {
		return fmt.Errorf("rpctransport: no open stream for request %+v", peerReq)
	}
	err := writeEnvelope(s, envelope{Final: true, Err: msg})
	s.Close()
	return err
}

// takeStream fetches the open inbound stream for peerReq; when final is
// true it also drops the bookkeeping entry, since the stream is about to
// be closed by the caller.
func (t *Transport) takeStream(peerReq beaconp2p.PeerRequestID, final bool) (libp2pnetwork.Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.inbound[peerReq]
	if ok && final {
		delete(t.inbound, peerReq)
	}
	return s, ok
}

// Goodbye opens a short-lived stream carrying a Goodbye envelope and then
// closes the connection to p (spec §6's goodbye_peer command).
func (t *Transport) Goodbye(p peer.ID, reason beaconp2p.DisconnectReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	s, err := t.host.NewStream(ctx, p, t.protocol)
	if err != nil {
		return t.host.Network().ClosePeer(p)
	}
	payload, _ := json.Marshal(int(reason))
	_ = writeEnvelope(s, envelope{Final: true, Payload: payload})
	s.Close()
	return t.host.Network().ClosePeer(p)
}

func writeEnvelope(w io.Writer, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, data)
	if len(compressed) > maxFrameSize {
		return fmt.Errorf("rpctransport: frame too large (%d bytes)", len(compressed))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(compressed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// readEnvelope reads one length-prefixed frame from r. r must be the same
// buffered reader across repeated calls on one stream — constructing a
// fresh bufio.Reader per call would silently drop any bytes it had
// already buffered past the current frame.
func readEnvelope(r io.Reader) (envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return envelope{}, fmt.Errorf("rpctransport: frame too large (%d bytes)", n)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return envelope{}, err
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return envelope{}, fmt.Errorf("rpctransport: snappy decode: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("rpctransport: decode envelope: %w", err)
	}
	if env.Err != "" {
		return env, fmt.Errorf("rpctransport: peer error: %s", env.Err)
	}
	return env, nil
}
