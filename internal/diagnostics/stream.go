package diagnostics

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"surfwright/internal/logging"
)

// Hub fans a live tail of sink events out to connected websocket readers.
// It is optional: nothing in the control plane requires a subscriber, and
// a Hub with zero clients drops events on the floor rather than buffering
// them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub builds a Hub whose upgrader accepts every request (CheckOrigin
// always returns true); the Hub does no address filtering of its own and
// relies on being served from a loopback-only listener.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Broadcast fans a pre-marshaled NDJSON line out to every connected
// client's outbound buffer. A client whose buffer is full is dropped
// rather than allowed to stall the broadcaster.
func (h *Hub) Broadcast(line []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- line:
		default:
			delete(h.clients, conn)
			close(ch)
			_ = conn.Close()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Warn("diagnostics stream upgrade failed", zap.Error(err))
		return
	}
	out := make(chan []byte, 64)

	h.mu.Lock()
	h.clients[conn] = out
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for line := range out {
		if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
			return
		}
	}
}
