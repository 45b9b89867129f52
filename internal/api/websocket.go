package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"GuardianScope/internal/logger"
)

const (
	// defaultThrottle is the minimum gap between two snapshot pushes.
	defaultThrottle = 250 * time.Millisecond

	// writeWait bounds one websocket write.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 10,
	WriteBufferSize: 1 << 12,
}

// handleWebsocket pushes the snapshot on connect and after every change,
// at most once per throttle interval.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "component", "api", "error", err)
		return
	}
	defer conn.Close()

	changes, cancel := s.provider.Subscribe()
	defer cancel()

	// The reader only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.provider.Snapshot()); err != nil {
			logger.Debug("websocket write failed", "component", "api", "error", err)
			return
		}

		select {
		case <-time.After(s.throttle):
		case <-closed:
			return
		case <-ctx.Done():
			return
		}

		select {
		case <-changes:
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
