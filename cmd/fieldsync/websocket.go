package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/fieldsync/backend/internal/events"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin only accepts pages served from this machine.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// WSEnvelope wraps every message pushed to clients.
type WSEnvelope struct {
	Type      events.Type  `json:"type"`
	Data      events.Event `json:"data"`
	Timestamp int64        `json:"timestamp"`
}

type wsMessage struct {
	typ  events.Type
	data []byte
}

// WSClient is one websocket connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu            sync.Mutex
	subscriptions map[events.Type]bool
}

// WSHub relays bus events to connected websocket clients.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	unregister chan *WSClient
	done       chan struct{}
	logger     *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewWSHub creates a hub. Run must be called to start delivery.
func NewWSHub(logger *logging.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, sendBuffer),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		logger:     logger.Component("websocket"),
	}
}

// Run manages connections and fans out messages until ctx is done.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client disconnected", map[string]interface{}{"client_id": client.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.subscribed(msg.typ) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow reader; drop it.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues e for delivery. It never blocks the event bus: when the
// hub is backed up the event is dropped.
func (h *WSHub) Publish(e events.Event) {
	data, err := json.Marshal(WSEnvelope{
		Type:      e.Type,
		Data:      e,
		Timestamp: e.Timestamp.UnixMilli(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal event", err, map[string]interface{}{"type": string(e.Type)})
		return
	}
	select {
	case h.broadcast <- wsMessage{typ: e.Type, data: data}:
	default:
		h.logger.Warn("Websocket hub backed up, event dropped", map[string]interface{}{"type": string(e.Type)})
	}
}

// Len returns the number of connected clients.
func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &WSClient{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		hub:           h,
		subscriptions: make(map[events.Type]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Client connected", map[string]interface{}{"client_id": client.id, "total": total})

	go client.writePump()
	go client.readPump()
}

// subscribed reports whether the client wants events of typ. A client
// with no subscriptions gets everything.
func (c *WSClient) subscribed(typ events.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[typ]
}

type clientMessage struct {
	Action string        `json:"action"`
	Events []events.Type `json:"events"`
}

// readPump handles subscribe, unsubscribe and ping requests.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, typ := range msg.Events {
				c.subscriptions[typ] = true
			}
			c.mu.Unlock()
			c.reply(map[string]interface{}{"action": "subscribe_ack", "subscribed": msg.Events})

		case "unsubscribe":
			c.mu.Lock()
			for _, typ := range msg.Events {
				delete(c.subscriptions, typ)
			}
			c.mu.Unlock()

		case "ping":
			c.reply(map[string]interface{}{"action": "pong"})
		}
	}
}

// reply sends a direct response to this client.
func (c *WSClient) reply(msg map[string]interface{}) {
	msg["timestamp"] = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes queued messages and keeps the connection alive.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
