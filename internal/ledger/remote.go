package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/network"
	"GuardianScope/internal/wire"
)

const (
	// defaultRequestTimeout bounds a request whose context has no deadline.
	defaultRequestTimeout = 10 * time.Second

	// streamBuffer is the number of pushed events held per stream.
	streamBuffer = 256
)

// Config configures a Remote client.
type Config struct {
	GatewayAddr    string             // GatewayAddr is the gateway's host:port
	GatewayKey     ed25519.PublicKey  // GatewayKey pins the gateway identity, nil accepts any
	PrivateKey     ed25519.PrivateKey // PrivateKey is the connection identity, nil for an ephemeral key
	RequestTimeout time.Duration      // RequestTimeout bounds each request
}

// Remote is a ledger client talking to a Gateway. It dials lazily and
// redials after the connection is lost.
type Remote struct {
	cfg  Config
	node *network.Node

	mu   sync.Mutex
	peer *network.Peer // peer is the current gateway connection, nil when down

	streamMu sync.Mutex
	stream   *remoteStream // stream is the live subscription, if any
}

// NewRemote creates a client. No connection is made until the first call.
func NewRemote(cfg Config) (*Remote, error) {
	if cfg.GatewayAddr == "" {
		return nil, errors.New("gateway address is required")
	}

	if cfg.PrivateKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity:\n%w", err)
		}
		cfg.PrivateKey = priv
	}

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	node, err := network.NewNode(network.Config{PrivateKey: cfg.PrivateKey})
	if err != nil {
		return nil, fmt.Errorf("create node:\n%w", err)
	}

	r := &Remote{cfg: cfg, node: node}
	node.OnMessage(r.handlePush)

	return r, nil
}

// Close drops the connection.
func (r *Remote) Close() error {
	return r.node.Close()
}

// TaskRange fetches one page of tasks.
func (r *Remote) TaskRange(ctx context.Context, from moderation.TaskID, limit int) ([]moderation.TaskCreated, error) {
	payload, err := r.request(ctx, kindTaskRange, wire.EncodeQuery(wire.Query{From: from, Limit: limit}))
	if err != nil {
		return nil, err
	}

	return wire.DecodeTaskBatch(payload)
}

// StreamTaskCreated subscribes from the given id. The stream ends with
// ErrStreamClosed when the connection is lost or another stream is opened.
func (r *Remote) StreamTaskCreated(ctx context.Context, from moderation.TaskID) (TaskStream, error) {
	peer, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	stream := &remoteStream{
		remote: r,
		peer:   peer,
		events: make(chan moderation.TaskCreated, streamBuffer),
		closed: make(chan struct{}),
	}

	// Registered before subscribing so no push is missed.
	r.streamMu.Lock()
	prev := r.stream
	r.stream = stream
	r.streamMu.Unlock()

	if prev != nil {
		prev.Close()
	}

	if _, err := r.requestOn(ctx, peer, kindSubscribe, wire.EncodeQuery(wire.Query{From: from})); err != nil {
		stream.Close()
		return nil, err
	}

	return stream, nil
}

// SubmitAttestation sends one attestation and decodes the receipt.
func (r *Remote) SubmitAttestation(ctx context.Context, att moderation.Attestation) (moderation.Receipt, error) {
	payload, err := r.request(ctx, kindSubmit, wire.EncodeAttestation(att))
	if err != nil {
		return moderation.Receipt{}, err
	}

	return wire.DecodeReceipt(payload)
}

// QueryRegistration fetches one operator's registration.
func (r *Remote) QueryRegistration(ctx context.Context, op moderation.OperatorID) (moderation.Registration, error) {
	payload, err := r.request(ctx, kindRegistration, wire.EncodeQuery(wire.Query{Operator: op}))
	if err != nil {
		return moderation.Registration{}, err
	}

	reg, _, err := wire.DecodeRegistration(payload)

	return reg, err
}

// Operators fetches every registration.
func (r *Remote) Operators(ctx context.Context) ([]moderation.Registration, error) {
	payload, err := r.request(ctx, kindOperators, nil)
	if err != nil {
		return nil, err
	}

	return wire.DecodeRegistrationList(payload)
}

// TaskVotes fetches the accepted attestations of one task.
func (r *Remote) TaskVotes(ctx context.Context, task moderation.TaskID) ([]moderation.Vote, error) {
	payload, err := r.request(ctx, kindTaskVotes, wire.EncodeQuery(wire.Query{From: task}))
	if err != nil {
		return nil, err
	}

	return wire.DecodeVoteList(payload)
}

// CreateTask asks the gateway to append a task.
func (r *Remote) CreateTask(ctx context.Context, content []byte) (moderation.TaskCreated, error) {
	payload, err := r.request(ctx, kindCreateTask, wire.EncodeQuery(wire.Query{Content: content}))
	if err != nil {
		return moderation.TaskCreated{}, err
	}

	return wire.DecodeTaskCreated(payload)
}

// Register sends a registration with its proof.
func (r *Remote) Register(ctx context.Context, reg moderation.Registration, proof []byte) error {
	_, err := r.request(ctx, kindRegister, wire.EncodeRegistration(reg, proof))
	return err
}

// Deregister asks the gateway to deregister op.
func (r *Remote) Deregister(ctx context.Context, op moderation.OperatorID) error {
	_, err := r.request(ctx, kindDeregister, wire.EncodeQuery(wire.Query{Operator: op}))
	return err
}

// connect returns the live connection, dialing if needed.
func (r *Remote) connect(ctx context.Context) (*network.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peer != nil {
		select {
		case <-r.peer.Done():
			r.peer = nil
		default:
			return r.peer, nil
		}
	}

	peer, err := r.node.Connect(ctx, r.cfg.GatewayAddr, r.cfg.GatewayKey)
	if err != nil {
		return nil, moderation.Transient(fmt.Errorf("connect gateway:\n%w", err))
	}

	logger.Debug("connected to gateway", "component", "ledger", "addr", r.cfg.GatewayAddr)
	r.peer = peer

	return peer, nil
}

func (r *Remote) request(ctx context.Context, kind byte, payload []byte) ([]byte, error) {
	peer, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	return r.requestOn(ctx, peer, kind, payload)
}

// requestOn performs one request. Transport failures are transient.
func (r *Remote) requestOn(ctx context.Context, peer *network.Peer, kind byte, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	resp, err := peer.Request(ctx, frame(kind, payload))
	if err != nil {
		return nil, moderation.Transient(fmt.Errorf("request 0x%02x:\n%w", kind, err))
	}

	return decodeResponse(resp)
}

// handlePush routes pushed tasks to the live stream.
func (r *Remote) handlePush(peer *network.Peer, data []byte) {
	if len(data) == 0 || data[0] != kindTaskPush {
		return
	}

	ev, err := wire.DecodeTaskCreated(data[1:])
	if err != nil {
		logger.Warn("bad task push", "component", "ledger", "error", err)
		return
	}

	r.streamMu.Lock()
	stream := r.stream
	r.streamMu.Unlock()

	if stream == nil || stream.peer != peer {
		return
	}

	stream.deliver(ev)
}

// remoteStream yields pushed tasks until its connection ends.
type remoteStream struct {
	remote    *Remote
	peer      *network.Peer
	events    chan moderation.TaskCreated
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *remoteStream) deliver(ev moderation.TaskCreated) {
	select {
	case s.events <- ev:
	case <-s.closed:
	case <-s.peer.Done():
	}
}

// Next returns buffered events first, then waits for more.
func (s *remoteStream) Next(ctx context.Context) (moderation.TaskCreated, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.closed:
		return moderation.TaskCreated{}, ErrStreamClosed
	case <-s.peer.Done():
		return moderation.TaskCreated{}, ErrStreamClosed
	case <-ctx.Done():
		return moderation.TaskCreated{}, ctx.Err()
	}
}

// Close detaches the stream.
func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.remote.streamMu.Lock()
		if s.remote.stream == s {
			s.remote.stream = nil
		}
		s.remote.streamMu.Unlock()
	})

	return nil
}
