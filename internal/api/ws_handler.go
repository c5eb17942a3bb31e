package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ammpool-backend/internal/pool"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[uint64]bool // pool IDs; 0 subscribes to every pool
	closed bool
}

// close is called by the hub only.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) wants(poolID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[0] || c.subs[poolID]
}

func (c *Client) subscriptions() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type broadcast struct {
	poolID uint64
	data   []byte
}

// Hub manages all WebSocket clients and implements pool.EventSink. Events are
// delivered only to clients subscribed to the event's pool.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws-hub")),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.poolID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer
					client.close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for subscribed clients. It never blocks: when the
// broadcast buffer is full the event is dropped and logged.
func (h *Hub) Publish(_ context.Context, ev pool.Event) error {
	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: MethodEvent, Params: ev})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- broadcast{poolID: ev.PoolID, data: data}:
	default:
		h.logger.Warn("ws: broadcast channel full, dropping event",
			slog.Uint64("pool_id", ev.PoolID),
			slog.String("type", string(ev.Type)),
		)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket handles GET /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[uint64]bool),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads JSON-RPC requests from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws: read error", slog.String("error", err.Error()))
			}
			return
		}

		resp := c.handle(message)
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if !c.reply(data) {
			return
		}
	}
}

// reply queues data unless the hub has already dropped the client.
func (c *Client) reply(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
	default:
	}
	return true
}

func (c *Client) handle(message []byte) Response {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		return newError(0, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" {
		return newError(req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
	}

	switch req.Method {
	case MethodPing:
		return newResult(req.ID, PingResult{Pong: "pong"})

	case MethodSubscribe, MethodUnsubscribe:
		var params SubscribeParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return newError(req.ID, CodeInvalidParams, "params must be {\"pool_id\": N}")
			}
		}
		c.mu.Lock()
		if req.Method == MethodSubscribe {
			c.subs[params.PoolID] = true
		} else {
			delete(c.subs, params.PoolID)
		}
		c.mu.Unlock()
		return newResult(req.ID, SubscribeResult{Subscriptions: c.subscriptions()})

	default:
		return newError(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}
