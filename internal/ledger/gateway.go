package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/network"
	"GuardianScope/internal/wire"
)

// Gateway serves a Backend to remote operators over QUIC.
type Gateway struct {
	backend Backend
	node    *network.Node

	mu   sync.Mutex
	subs map[*network.Peer]context.CancelFunc // subs holds one live subscription per connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGateway creates a gateway. Call Start to listen.
func NewGateway(backend Backend, cfg network.Config) (*Gateway, error) {
	node, err := network.NewNode(cfg)
	if err != nil {
		return nil, fmt.Errorf("create node:\n%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		backend: backend,
		node:    node,
		subs:    make(map[*network.Peer]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}

	node.OnRequest(g.handle)
	node.OnDisconnect(g.unsubscribe)

	return g, nil
}

// Start listens for operators.
func (g *Gateway) Start() error {
	if err := g.node.Start(); err != nil {
		return fmt.Errorf("start gateway:\n%w", err)
	}

	logger.Info("ledger gateway listening", "component", "gateway", "addr", g.node.Addr())

	return nil
}

// Addr returns the listen address.
func (g *Gateway) Addr() string {
	return g.node.Addr()
}

// PublicKey returns the gateway identity operators pin.
func (g *Gateway) PublicKey() ed25519.PublicKey {
	return g.node.PublicKey()
}

// Connections returns the number of connected operators.
func (g *Gateway) Connections() int {
	return len(g.node.Peers())
}

// Close stops every subscription and connection.
func (g *Gateway) Close() error {
	g.cancel()
	err := g.node.Close()
	g.wg.Wait()

	return err
}

// handle dispatches one request. Backend failures are encoded in the
// response; a returned error resets the stream.
func (g *Gateway) handle(peer *network.Peer, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty request")
	}

	kind, body := data[0], data[1:]
	ctx := g.ctx

	switch kind {
	case kindTaskRange:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		events, err := g.backend.TaskRange(ctx, q.From, q.Limit)
		if err != nil {
			return encodeResponse(nil, err), nil
		}

		return encodeResponse(wire.EncodeTaskBatch(events), nil), nil

	case kindSubscribe:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		return encodeResponse(nil, g.subscribe(peer, q.From)), nil

	case kindSubmit:
		att, err := wire.DecodeAttestation(body)
		if err != nil {
			return nil, err
		}

		return encodeResponse(g.submit(ctx, att), nil), nil

	case kindRegistration:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		reg, err := g.backend.QueryRegistration(ctx, q.Operator)
		if err != nil {
			return encodeResponse(nil, err), nil
		}

		return encodeResponse(wire.EncodeRegistration(reg, nil), nil), nil

	case kindOperators:
		regs, err := g.backend.Operators(ctx)
		if err != nil {
			return encodeResponse(nil, err), nil
		}

		return encodeResponse(wire.EncodeRegistrationList(regs), nil), nil

	case kindTaskVotes:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		votes, err := g.backend.TaskVotes(ctx, q.From)
		if err != nil {
			return encodeResponse(nil, err), nil
		}

		return encodeResponse(wire.EncodeVoteList(votes), nil), nil

	case kindCreateTask:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		ev, err := g.backend.CreateTask(ctx, q.Content)
		if err != nil {
			return encodeResponse(nil, err), nil
		}

		return encodeResponse(wire.EncodeTaskCreated(ev), nil), nil

	case kindRegister:
		reg, proof, err := wire.DecodeRegistration(body)
		if err != nil {
			return nil, err
		}

		return encodeResponse(nil, g.backend.Register(ctx, reg, proof)), nil

	case kindDeregister:
		q, err := wire.DecodeQuery(body)
		if err != nil {
			return nil, err
		}

		return encodeResponse(nil, g.backend.Deregister(ctx, q.Operator)), nil

	default:
		return nil, fmt.Errorf("unknown request kind: 0x%02x", kind)
	}
}

// submit encodes the attestation outcome as a Receipt table.
func (g *Gateway) submit(ctx context.Context, att moderation.Attestation) []byte {
	receipt, err := g.backend.SubmitAttestation(ctx, att)

	switch {
	case err == nil:
		return wire.EncodeReceipt(receipt)
	case errors.Is(err, moderation.ErrRejected):
		return wire.EncodeSubmitError(wire.ReceiptRejected, moderation.RejectionReason(err))
	default:
		return wire.EncodeSubmitError(wire.ReceiptTransient, err.Error())
	}
}

// subscribe replaces the connection's subscription with one starting at from.
func (g *Gateway) subscribe(peer *network.Peer, from moderation.TaskID) error {
	ctx, cancel := context.WithCancel(g.ctx)

	stream, err := g.backend.StreamTaskCreated(ctx, from)
	if err != nil {
		cancel()
		return err
	}

	g.mu.Lock()
	if prev, ok := g.subs[peer]; ok {
		prev()
	}
	g.subs[peer] = cancel
	g.mu.Unlock()

	g.wg.Add(1)
	go g.push(ctx, peer, stream)

	logger.Debug("operator subscribed", "component", "gateway", "peer", peer.Address(), "from", from)

	return nil
}

// push forwards stream events to the peer. Losing the backend stream closes
// the connection so the operator resubscribes.
func (g *Gateway) push(ctx context.Context, peer *network.Peer, stream TaskStream) {
	defer g.wg.Done()
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug("subscription ended", "component", "gateway", "peer", peer.Address(), "error", err)
				peer.Close()
			}
			return
		}

		if err := peer.Send(frame(kindTaskPush, wire.EncodeTaskCreated(ev))); err != nil {
			logger.Debug("push failed", "component", "gateway", "peer", peer.Address(), "error", err)
			peer.Close()
			return
		}
	}
}

// unsubscribe stops the subscription of a departed connection.
func (g *Gateway) unsubscribe(peer *network.Peer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cancel, ok := g.subs[peer]; ok {
		cancel()
		delete(g.subs, peer)
	}
}
