package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 64
)

// Client is a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu   sync.RWMutex
	symbols []string // sorted; empty means all
}

// controlMsg is what clients send: SUBSCRIBE/UNSUBSCRIBE with symbols, or
// {"ping": <ms>}.
type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn, symbols []string) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendQueue),
		hub:     h,
		symbols: normaliseSymbols(symbols),
	}
}

// Symbols returns the client's symbol filter.
func (c *Client) Symbols() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return append([]string(nil), c.symbols...)
}

// enqueue queues f without blocking. Caller holds the hub lock.
func (c *Client) enqueue(f *Frame) bool {
	c.subMu.RLock()
	b := f.Bytes(c.symbols)
	c.subMu.RUnlock()
	if b == nil {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// catchUp queues replayed frames. Caller holds the hub lock.
func (c *Client) catchUp(rb *ReplayBuffer, since int64) {
	if since < 0 {
		if f := rb.Latest(); f != nil {
			c.enqueue(f)
		}
		return
	}
	for _, f := range rb.Since(since) {
		if !c.enqueue(f) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply(map[string]any{"type": "error", "error": "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg controlMsg) {
	switch msg.Type {
	case "SUBSCRIBE":
		c.subMu.Lock()
		c.symbols = normaliseSymbols(msg.Symbols)
		syms := c.symbols
		c.subMu.Unlock()
		c.reply(map[string]any{"type": "subscribed", "symbols": syms})

	case "UNSUBSCRIBE":
		drop := make(map[string]bool, len(msg.Symbols))
		for _, s := range normaliseSymbols(msg.Symbols) {
			drop[s] = true
		}
		c.subMu.Lock()
		kept := c.symbols[:0:0]
		for _, s := range c.symbols {
			if !drop[s] {
				kept = append(kept, s)
			}
		}
		c.symbols = kept
		c.subMu.Unlock()
		c.reply(map[string]any{"type": "unsubscribed", "symbols": kept})

	default:
		if msg.Ping > 0 {
			c.reply(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
				"seq":       c.hub.Seq(),
			})
			return
		}
		c.reply(map[string]any{"type": "error", "error": "unknown message type " + msg.Type})
	}
}

// reply queues a control response unless the client is gone or backed up.
func (c *Client) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
