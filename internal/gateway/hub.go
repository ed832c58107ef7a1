// Package gateway pushes fresh_analytics frames to WebSocket clients.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// Hub tracks connected clients and fans out each published output.
// It is an OutputSink: the worker publishes to it directly, or a
// PubSubRouter relays outputs published by another process.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay      *ReplayBuffer
	Latency     *LatencyTracker
	Broadcaster *Broadcaster

	// OnClients is called with the client count after every change.
	OnClients func(n int)
	// OnDrop is called when a slow client misses a frame.
	OnDrop func()
}

// NewHub creates a hub retaining replaySize frames for reconnects.
func NewHub(log *logger.Logger, replaySize int) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		log:     log.With(logger.String("component", "ws_hub")),
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		Latency: NewLatencyTracker(1024),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

func (h *Hub) Name() string { return "websocket" }

// Publish broadcasts out to every connected client.
func (h *Hub) Publish(_ context.Context, out *model.Output) error {
	_, err := h.Broadcaster.Broadcast(out)
	return err
}

// ServeHTTP upgrades the request. Query parameters:
//
//	since    last seq the client saw; newer buffered frames are replayed
//	symbols  comma-separated codes to receive; empty means all
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", logger.Error(err))
		return
	}

	since := int64(-1)
	if s := r.URL.Query().Get("since"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			since = v
		}
	}
	var symbols []string
	if s := r.URL.Query().Get("symbols"); s != "" {
		symbols = strings.Split(s, ",")
	}
	h.Register(conn, since, symbols)
}

// Register adds conn as a client and starts its pumps. The client first
// receives the frames after since, or the latest frame when since < 0.
func (h *Hub) Register(conn *websocket.Conn, since int64, symbols []string) *Client {
	c := newClient(h, conn, symbols)
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	// queue catch-up under the lock so no broadcast interleaves
	c.catchUp(h.replay, since)
	h.mu.Unlock()

	h.log.Info("ws client connected", logger.Int("clients", n), logger.Int64("since", since))
	if h.OnClients != nil {
		h.OnClients(n)
	}

	go c.writePump()
	go c.readPump()
	return c
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", logger.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the seq of the last broadcast frame.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Replay returns buffered frames in [from, to] for gap backfill.
func (h *Hub) Replay(from, to int64) []*Frame {
	return h.replay.Range(from, to)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), deadline)
		conn.Close()
	}
}
