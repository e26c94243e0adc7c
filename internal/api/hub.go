package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

// Hub tracks WebSocket listeners and broadcasts snapshot updates to them.
type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu     sync.Mutex
	conns  map[*websocket.Conn]*wsConn
	closed bool
}

// wsConn pairs a connection with its write lock; gorilla allows one
// concurrent writer per connection, so locking is per-peer and a slow
// listener never delays writes to the others.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			// Host-platform listeners connect from the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		conns:        make(map[*websocket.Conn]*wsConn),
	}
}

// HandleWS upgrades the request and registers the connection for broadcasts.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conns[conn] = &wsConn{conn: conn}
	count := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("WebSocket listener connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("listeners", count))

	// Drain incoming frames so pings and close handshakes are processed;
	// the channel is push-only from our side.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	count := len(h.conns)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug("WebSocket listener disconnected", zap.Int("listeners", count))
}

func (h *Hub) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends a JSON message to every connected listener. Each write
// carries a deadline so a listener that stops reading cannot block the
// caller; peers that miss the deadline or fail the write are dropped.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := c.conn.WriteJSON(v)
		c.mu.Unlock()

		if err != nil {
			h.logger.Warn("WebSocket write failed, dropping listener", zap.Error(err))
			h.drop(c.conn)
		}
	}
}

// Close disconnects all listeners and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]*wsConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		c.conn.Close()
	}
}
