package network

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"GuardianScope/internal/logger"
)

// defaultRequestTimeout applies to requests whose context has no deadline.
const defaultRequestTimeout = 30 * time.Second

// ErrPeerClosed is returned for operations on a closed connection.
var ErrPeerClosed = errors.New("peer is closed")

// Peer is an authenticated connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey // publicKey is the remote identity
	address   string            // address is the remote address
	conn      *quic.Conn        // conn is the underlying QUIC connection
	node      *Node             // node is the owning node
	closed    atomic.Bool       // closed is set once the peer is gone
	done      chan struct{}     // done is closed when the peer is gone
	doneOnce  sync.Once         // doneOnce guards done
	mu        sync.Mutex        // mu serializes pushes
}

// PublicKey returns the remote identity.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Send pushes a message on a new unidirectional stream.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	stream, err := p.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("write message:\n%w", err)
	}

	return stream.Close()
}

// Request sends data on a bidirectional stream and waits for the answer.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrPeerClosed
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// Close closes the connection and notifies the node's disconnect handler.
func (p *Peer) Close() error {
	p.markDone()

	if p.closed.Swap(true) {
		return nil
	}

	err := p.conn.CloseWithError(0, "closed")
	p.node.handlePeerDisconnect(p)

	return err
}

func (p *Peer) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// receiveLoop serves incoming streams until the connection ends.
func (p *Peer) receiveLoop() {
	go p.acceptBidiStreams()

	for {
		stream, err := p.conn.AcceptUniStream(p.conn.Context())
		if err != nil {
			logger.Debug("peer receive loop ended", "peer", p.address, "error", err)
			break
		}

		go p.handleUniStream(stream)
	}

	p.handleDisconnect()
}

// acceptBidiStreams serves request/response streams.
func (p *Peer) acceptBidiStreams() {
	for {
		stream, err := p.conn.AcceptStream(p.conn.Context())
		if err != nil {
			return
		}

		go p.handleBidiStream(stream)
	}
}

// handleBidiStream answers one request.
func (p *Peer) handleBidiStream(stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	response, err := p.node.callOnRequest(p, data)
	if err != nil {
		logger.Debug("request handler failed", "peer", p.address, "error", err)
		stream.CancelWrite(1)
		return
	}

	if err := writeMessage(stream, response); err != nil {
		logger.Debug("write response failed", "peer", p.address, "error", err)
	}
}

// handleUniStream reads one pushed message.
func (p *Peer) handleUniStream(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("stream read error", "peer", p.address, "error", err)
		return
	}

	if !p.node.dedup.Check(data) {
		return
	}

	p.node.callOnMessage(p, data)
}

// handleDisconnect notifies the node once.
func (p *Peer) handleDisconnect() {
	p.markDone()

	if p.closed.Swap(true) {
		return
	}

	p.node.handlePeerDisconnect(p)
}
