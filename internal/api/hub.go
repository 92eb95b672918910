package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enliven17/somnia-predict/internal/feed"
	"github.com/enliven17/somnia-predict/internal/model"
	"github.com/enliven17/somnia-predict/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types pushed to WebSocket clients.
const (
	FrameHello        = "hello"
	FrameEvent        = "event"
	FrameNotification = "notification"
)

// Message is one WebSocket frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type hello struct {
	ClientID string `json:"clientId"`
	Scope    string `json:"scope"`
}

// Client is one WebSocket connection bound to a feed scope.
type Client struct {
	id    string
	scope string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
}

// Hub fans feed events and notifications out to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

// Run forwards events from a global feed subscription until ctx is done or
// the subscription is closed.
func (h *Hub) Run(ctx context.Context, sub *feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			h.BroadcastEvent(event)
		}
	}
}

// BroadcastEvent sends an event frame to clients watching all markets or the event's market.
func (h *Hub) BroadcastEvent(event model.MarketEvent) {
	frame, err := encodeFrame(FrameEvent, event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	h.broadcast(frame, func(c *Client) bool {
		return c.scope == model.UnscopedMarket || c.scope == event.MarketID
	})
}

// Name implements notify.Sink.
func (h *Hub) Name() string { return "websocket" }

// Send implements notify.Sink by pushing a notification frame to every client.
func (h *Hub) Send(_ context.Context, n notify.Notification) error {
	frame, err := encodeFrame(FrameNotification, n)
	if err != nil {
		return err
	}
	h.broadcast(frame, func(*Client) bool { return true })
	return nil
}

func (h *Hub) broadcast(frame []byte, match func(*Client) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			h.logger.Warn("client buffer full, closing connection", zap.String("client_id", client.id))
			h.removeLocked(client)
		}
	}
}

// ServeWS upgrades the request and registers a client for the market query scope.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("market")
	if scope == "" {
		scope = model.UnscopedMarket
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		id:    uuid.NewString(),
		scope: scope,
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, clientSendSize),
	}
	if frame, err := encodeFrame(FrameHello, hello{ClientID: client.id, Scope: scope}); err == nil {
		client.send <- frame
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client registered",
		zap.String("client_id", client.id),
		zap.String("scope", scope),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("total_clients", total),
	)

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
	h.logger.Info("hub stopped")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		h.removeLocked(client)
		h.logger.Info("client unregistered", zap.String("client_id", client.id), zap.Int("total_clients", len(h.clients)))
	}
}

func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	close(client.send)
}

// readPump discards inbound frames and unregisters the client on close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

func encodeFrame(frameType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: frameType, Payload: data})
}
