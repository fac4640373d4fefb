// Package broadcast implements the single-producer multi-consumer
// publish-subscribe fan-out behind the real-time UI: per-subscriber
// bounded buffers with a drop-oldest policy on overflow, so back-pressure
// from a slow client never propagates to the evaluators that produce
// messages.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientSendBuf = 256
	writeWait     = 10 * time.Second
	pongWait      = 30 * time.Second
	pingPeriod    = 20 * time.Second
)

// MessageType enumerates the broadcast message shapes.
type MessageType string

const (
	TypeAlertTriggered  MessageType = "alert_triggered"
	TypeMatchUpdate     MessageType = "match_update"
	TypePatternDetected MessageType = "pattern_detected"
	TypeSystemStatus    MessageType = "system_status"
)

// Message is the JSON envelope broadcast to subscribers.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    *int64      `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

// Hub fans out Messages to every connected WebSocket subscriber. Delivery
// is best-effort: messages are dropped if a client is not connected, and
// no retry is attempted.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty broadcast Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// HandleWS upgrades an HTTP connection to a WebSocket subscriber and
// registers it with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("broadcast: websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendBuf)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Publish sends a Message to every connected subscriber. Per-client
// delivery is best-effort: if a client's buffer is full, the oldest
// queued message is dropped to make room rather than blocking the
// publisher or dropping the newest message.
func (h *Hub) Publish(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("broadcast: marshal failed", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

// enqueue delivers data to c's send channel, evicting the oldest buffered
// message first if the channel is already full.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
		// Buffer churned faster than we could re-insert; drop silently,
		// consistent with the channel's best-effort contract.
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// Subscribers are read-only; any inbound message (or close/error)
		// ends the connection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Subscribers reports the current connection count, used by get-stats.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
