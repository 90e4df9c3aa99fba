// Package ws pushes job snapshots to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

const writeTimeout = 10 * time.Second

// Source supplies job snapshots and change notifications.
type Source interface {
	List() []models.Job
	Subscribe() (<-chan struct{}, func())
}

type snapshot struct {
	Type string    `json:"type"`
	Jobs []jobView `json:"jobs"`
}

// jobView is a job without its log text, which can be large and changes on
// every flush. Clients fetch the full job over the REST API.
type jobView struct {
	models.Job
	Logs     string `json:"logs,omitempty"`
	LogBytes int    `json:"logBytes"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts the job list, without logs, to every connected client after
// each store change. Only the newest snapshot is queued for a slow client.
type Hub struct {
	source   Source
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// AllowAnyOrigin accepts cross-origin upgrades. Without it only requests
// whose Origin matches the Host are accepted.
func AllowAnyOrigin() Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// NewHub creates a Hub reading from source.
func NewHub(source Source, opts ...Option) *Hub {
	h := &Hub{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run broadcasts on every store change until ctx is done, then disconnects
// all clients.
func (h *Hub) Run(ctx context.Context) {
	changes, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-changes:
			h.broadcast()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and sends the current snapshot immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 1)}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if data, err := h.snapshot(); err == nil {
		enqueue(c, data)
	}
	slog.Info("websocket client connected", "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	slog.Info("websocket client disconnected", "clients", len(h.clients))
}

// readLoop discards client messages and unregisters on disconnect.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) snapshot() ([]byte, error) {
	jobs := h.source.List()
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = jobView{Job: j, LogBytes: len(j.Logs)}
	}
	data, err := json.Marshal(snapshot{Type: "jobs", Jobs: views})
	if err != nil {
		slog.Error("encode job snapshot failed", "error", err)
		return nil, err
	}
	return data, nil
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	data, err := h.snapshot()
	if err != nil {
		return
	}
	for c := range h.clients {
		enqueue(c, data)
	}
}

// enqueue replaces any unsent snapshot with data.
func enqueue(c *client, data []byte) {
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
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
