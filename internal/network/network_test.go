package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startServer starts a listening node closed at test end.
func startServer(t *testing.T) *Node {
	t.Helper()

	server, err := NewNode(Config{PrivateKey: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	return server
}

// newClient creates a dial-only node closed at test end.
func newClient(t *testing.T) *Node {
	t.Helper()

	client, err := NewNode(Config{PrivateKey: generateTestKey(t)})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

// TestDialOnlyNodeCannotStart tests that a node without listen address refuses Start.
func TestDialOnlyNodeCannotStart(t *testing.T) {
	node := newClient(t)

	if err := node.Start(); err == nil {
		t.Fatal("expected error without listen address")
	}
}

// TestRequestResponse tests a bidirectional request.
func TestRequestResponse(t *testing.T) {
	server := startServer(t)
	server.OnRequest(func(p *Peer, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})

	client := newClient(t)

	peer, err := client.Connect(context.Background(), server.Addr(), server.PublicKey())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := peer.Request(ctx, []byte("ping"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(resp) != "echo:ping" {
		t.Errorf("response: got %q, want %q", resp, "echo:ping")
	}
}

// TestIdentityPinning tests that a mismatched server identity is refused.
func TestIdentityPinning(t *testing.T) {
	server := startServer(t)
	client := newClient(t)

	other := generateTestKey(t).Public().(ed25519.PublicKey)

	if _, err := client.Connect(context.Background(), server.Addr(), other); err == nil {
		t.Fatal("expected identity mismatch error")
	}

	if n := len(client.Peers()); n != 0 {
		t.Errorf("refused server should not be a peer, got %d peers", n)
	}

	if _, err := client.Connect(context.Background(), server.Addr(), server.PublicKey()); err != nil {
		t.Fatalf("connect with the right identity: %v", err)
	}
}

// TestServerPush tests pushes from the accepting side to the dialer.
func TestServerPush(t *testing.T) {
	server := startServer(t)

	connected := make(chan *Peer, 1)
	server.OnConnect(func(p *Peer) { connected <- p })

	client := newClient(t)

	received := make(chan []byte, 4)
	client.OnMessage(func(p *Peer, data []byte) { received <- data })

	if _, err := client.Connect(context.Background(), server.Addr(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var serverSide *Peer
	select {
	case serverSide = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}

	if !bytes.Equal(serverSide.PublicKey(), client.PublicKey()) {
		t.Error("server should see the client identity")
	}

	if err := serverSide.Send([]byte("task")); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Identical push inside the dedup window is dropped.
	if err := serverSide.Send([]byte("task")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "task" {
			t.Errorf("message: got %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("push not received")
	}

	select {
	case msg := <-received:
		t.Errorf("duplicate push delivered: %q", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestDoneAfterServerClose tests that a peer signals when the remote goes away.
func TestDoneAfterServerClose(t *testing.T) {
	server := startServer(t)
	client := newClient(t)

	peer, err := client.Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	server.Close()

	select {
	case <-peer.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("peer not marked done after server close")
	}

	if _, err := peer.Request(context.Background(), []byte("x")); err == nil {
		t.Error("request on closed peer should fail")
	}
}

// TestFraming tests the length-prefixed codec.
func TestFraming(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if buf.Len() != lengthPrefixSize+5 {
		t.Errorf("frame size: got %d", buf.Len())
	}

	got, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(got) != "hello" {
		t.Errorf("payload: got %q", got)
	}

	if err := writeMessage(&buf, make([]byte, maxMessageSize+1)); err == nil {
		t.Error("expected error for oversized message")
	}

	if _, err := readMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})); err == nil {
		t.Error("expected error for oversized prefix")
	}
}

// TestDedupExpiry tests that hashes are forgotten after the TTL.
func TestDedupExpiry(t *testing.T) {
	d := NewDedup(50 * time.Millisecond)
	defer d.Close()

	if !d.Check([]byte("a")) {
		t.Fatal("first sighting should be new")
	}

	if d.Check([]byte("a")) {
		t.Fatal("second sighting should be a duplicate")
	}

	d.expire(time.Now().Add(time.Second))

	if d.Len() != 0 {
		t.Errorf("expired entries remain: %d", d.Len())
	}

	if !d.Check([]byte("a")) {
		t.Error("expired message should be new again")
	}
}
