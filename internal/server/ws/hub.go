// Package ws streams published events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wallwatch/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame is what clients receive for every event.
type Frame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// controlMsg is what clients send to change their topic set.
type controlMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// Hub bridges the signal bus pub/sub channels to websocket clients. Each
// client starts subscribed to every topic.
type Hub struct {
	bus      domain.SignalBus
	channels map[string]string // topic -> pub/sub channel
	logger   *slog.Logger

	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub relaying the given topic channels.
func NewHub(bus domain.SignalBus, channels map[string]string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		channels:   channels,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run subscribes to every topic channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for topic, channel := range h.channels {
		go h.relay(ctx, topic, channel)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			frame, err := json.Marshal(Frame{Topic: msg.topic, Data: msg.data})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("ws dropping frame for slow client", slog.String("topic", msg.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards one pub/sub channel into the broadcast loop.
func (h *Hub) relay(ctx context.Context, topic, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if !json.Valid(data) {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{topic: topic, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool, len(h.channels)),
	}
	for topic := range h.channels {
		c.topics[topic] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *client) apply(msg controlMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.topics[t] = true
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg controlMsg
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
