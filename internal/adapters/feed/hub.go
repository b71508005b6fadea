package feed

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghalamif/telemdeck/internal/adapters/observability"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Message is the envelope pushed to feed clients.
type Message struct {
	Type string       `json:"type"`
	Data domain.Batch `json:"data"`
}

// Hub broadcasts every batch as JSON to the connected WebSocket clients.
type Hub struct {
	upgrader   websocket.Upgrader
	obs        ports.Observability
	maxClients int

	mu      sync.RWMutex
	clients map[*client]struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

type Option func(*Hub)

func WithObservability(obs ports.Observability) Option {
	return func(h *Hub) {
		if obs != nil {
			h.obs = obs
		}
	}
}

func WithMaxClients(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		obs:        observability.Nop{},
		maxClients: 32,
		clients:    make(map[*client]struct{}),
		stop:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     sameOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// sameOrigin accepts requests without an Origin header and those whose origin
// host matches the requested host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (h *Hub) Name() string { return "websocket-feed" }

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Clients() >= h.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.obs.LogError("feed_upgrade_failed", err)
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// reads are only needed to notice the client going away
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.obs.LogError("feed_read_failed", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-h.stop:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// WriteBatch implements ports.Sink. Clients that fail to receive are dropped;
// that is never reported as a sink error.
func (h *Hub) WriteBatch(batch domain.Batch) error {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return nil
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(Message{Type: "batch", Data: batch})
	if err != nil {
		return err
	}

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, data); err != nil {
			_ = c.conn.Close()
			h.remove(c)
		}
	}
	return nil
}

// Close tells every client handler to send a close frame and return.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

var _ ports.Sink = (*Hub)(nil)
