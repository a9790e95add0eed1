package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/metrics"
	"github.com/gorilla/websocket"
)

const (
	defaultClientBuffer = 16
	defaultWriteTimeout = 10 * time.Second
	defaultPongTimeout  = 60 * time.Second
	maxClientMessage    = 512
)

// HubConfig configures the live feed hub.
type HubConfig struct {
	// ClientBuffer is the number of messages queued per client before it is dropped.
	ClientBuffer int
	WriteTimeout time.Duration
	// PongTimeout is how long a silent client is kept. Pings go out at 9/10 of it.
	PongTimeout time.Duration
	// AllowedOrigins lists cross-origin pages allowed to connect; "*" allows any.
	AllowedOrigins []string
}

// Message is what clients receive.
type Message struct {
	Type    string   `json:"type"`
	Changes []Change `json:"changes"`
}

// Hub fans changes out to websocket clients.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// NewHub creates a hub.
func NewHub(config HubConfig) *Hub {
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaultClientBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaultPongTimeout
	}

	h := &Hub{
		config:  config,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and streams changes until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered with an error status.
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.config.ClientBuffer)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.config.WriteTimeout))
		_ = conn.Close()
		return
	}

	logger.Debug("live feed client connected", "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)

	logger.Debug("live feed client disconnected", "remote_addr", r.RemoteAddr)
}

// Publish sends changes to every client. Clients whose queue is full are dropped.
func (h *Hub) Publish(_ context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}

	data, err := json.Marshal(Message{Type: "changes", Changes: changes})
	if err != nil {
		slog.Error("failed to encode feed message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("dropping slow live feed client")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.FeedClients.Inc()
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	metrics.FeedClients.Dec()
}

// readPump consumes control frames so pongs are seen. Clients have nothing to say.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("live feed read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
