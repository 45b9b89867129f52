package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// alpnProtocol is the ALPN protocol identifier of the ledger gateway protocol.
	alpnProtocol = "guardianscope/1"

	// defaultIdleTimeout closes connections that stop answering keep-alives.
	defaultIdleTimeout = 30 * time.Second

	// defaultDialTimeout bounds a single dial attempt.
	defaultDialTimeout = 10 * time.Second
)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey  ed25519.PrivateKey // PrivateKey is the node's ed25519 identity key
	ListenAddr  string             // ListenAddr is the address to listen on, empty for dial-only nodes
	IdleTimeout time.Duration      // IdleTimeout is the QUIC idle timeout
	DedupTTL    time.Duration      // DedupTTL is how long pushed messages are remembered
}

// Node accepts and initiates authenticated QUIC connections.
// Peers are identified by the ed25519 key in their self-signed certificate.
type Node struct {
	privateKey ed25519.PrivateKey // privateKey is the node's identity key
	publicKey  ed25519.PublicKey  // publicKey is the node's identity public key
	listenAddr string             // listenAddr is empty for dial-only nodes
	tlsConfig  *tls.Config        // tlsConfig is the TLS configuration
	quicConfig *quic.Config       // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is nil until Start

	peers   map[string]*Peer // peers maps public key hex to peer
	peersMu sync.RWMutex     // peersMu protects peers

	dedup *Dedup // dedup drops repeated pushes

	onConnect    func(*Peer)                         // onConnect is called when a peer connects
	onMessage    func(*Peer, []byte)                 // onMessage is called for pushed messages
	onDisconnect func(*Peer)                         // onDisconnect is called when a peer goes away
	onRequest    func(*Peer, []byte) ([]byte, error) // onRequest answers bidirectional requests
	handlersMu   sync.RWMutex                        // handlersMu protects the handlers

	ctx       context.Context    // ctx is cancelled on Close
	cancel    context.CancelFunc // cancel cancels ctx
	wg        sync.WaitGroup     // wg waits for the accept and receive loops
	closeOnce sync.Once          // closeOnce makes Close idempotent
}

// NewNode creates a node. Call Start to accept connections.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	cert, err := identityCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity certificate:\n%w", err)
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = defaultIdleTimeout
	}

	tlsConfig := &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true, // no chains; verifyIdentity checks the key
		VerifyPeerCertificate: verifyIdentity(nil),
		NextProtos:            []string{alpnProtocol},
		MinVersion:            tls.VersionTLS13,
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  idle,
		KeepAlivePeriod: idle / 3,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		peers:      make(map[string]*Peer),
		dedup:      NewDedup(cfg.DedupTTL),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// PublicKey returns the node's identity key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start listens on the configured address and accepts connections.
func (n *Node) Start() error {
	if n.listenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Connect dials addr. When expected is set, the handshake fails unless the
// remote identity matches it.
func (n *Node) Connect(ctx context.Context, addr string, expected ed25519.PublicKey) (*Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, pinnedConfig(n.tlsConfig, expected), n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the handler called for pushed messages.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler answering bidirectional requests.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes every connection.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()

		if n.listener != nil {
			n.listener.Close()
		}

		n.peersMu.Lock()
		peers := n.peers
		n.peers = make(map[string]*Peer)
		n.peersMu.Unlock()

		for _, p := range peers {
			p.Close()
		}

		n.dedup.Close()
		n.wg.Wait()
	})

	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		go n.handleIncoming(conn)
	}
}

// handleIncoming registers an accepted connection.
func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String())
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer registers a handshaken connection and starts its receive loop.
func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pubKey, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("peer identity:\n%w", err)
	}

	peer := &Peer{
		publicKey: pubKey,
		address:   addr,
		conn:      conn,
		node:      n,
		done:      make(chan struct{}),
	}

	n.peersMu.Lock()
	n.peers[hex.EncodeToString(pubKey)] = peer
	n.peersMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// handlePeerDisconnect forgets a peer. Reconnecting is the caller's decision.
func (n *Node) handlePeerDisconnect(p *Peer) {
	key := hex.EncodeToString(p.publicKey)

	n.peersMu.Lock()
	if n.peers[key] == p {
		delete(n.peers, key)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnMessage(p *Peer, data []byte) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(p, data)
}
