// Package monitoring streams prediction events to websocket subscribers and
// keeps in-process service metrics.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type MessageType string

const (
	PredictionServed MessageType = "prediction"
	ModelReloaded    MessageType = "model_reloaded"
	Heartbeat        MessageType = "heartbeat"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	maxReadBytes = 4096

	defaultHeartbeat = 30 * time.Second
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionEvent is broadcast after every successful prediction.
type PredictionEvent struct {
	RequestID    string  `json:"request_id,omitempty"`
	Label        string  `json:"label"`
	ClassIndex   int     `json:"class_index"`
	Confidence   float64 `json:"confidence"`
	Risk         string  `json:"risk"`
	Malignant    bool    `json:"malignant"`
	ModelVersion uint64  `json:"model_version"`
	Source       string  `json:"source"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// Stats counts hub traffic.
type Stats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	StartTime        time.Time `json:"start_time"`
}

type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	connected atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	startTime time.Time
	runOnce   sync.Once

	heartbeat time.Duration
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:    logger,
		startTime: time.Now(),
		heartbeat: defaultHeartbeat,
	}
}

// Run dispatches messages until ctx is cancelled. It must be started exactly
// once before clients connect.
func (h *Hub) Run(ctx context.Context) {
	h.runOnce.Do(func() { h.run(ctx) })
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Debug("websocket hub stopped")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.connected.Store(int64(len(h.clients)))
			h.logger.Debug("websocket client connected",
				zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.connected.Store(int64(len(h.clients)))
			h.logger.Debug("websocket client disconnected",
				zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case message := <-h.broadcast:
			h.fanout(message)

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			message, err := encodeMessage(Heartbeat, h.Stats())
			if err != nil {
				h.logger.Warn("encode heartbeat", zap.Error(err))
				continue
			}
			h.fanout(message)

		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.connected.Store(0)
			return
		}
	}
}

func (h *Hub) fanout(message []byte) {
	for c := range h.clients {
		select {
		case c.send <- message:
			h.sent.Add(1)
		default:
			// slow consumer
			close(c.send)
			delete(h.clients, c)
			h.dropped.Add(1)
		}
	}
	h.connected.Store(int64(len(h.clients)))
}

// HandleWebSocket upgrades the request and subscribes the connection to all
// events.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan []byte, 64),
		clientID: uuid.NewString(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(h.logger)
	go c.readPump(h)
}

// Publish encodes data as a message of type t and queues it for broadcast.
// Messages are dropped when the queue is full.
func (h *Hub) Publish(t MessageType, data interface{}) error {
	message, err := encodeMessage(t, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
		h.logger.Warn("websocket broadcast queue is full, dropping message", zap.String("type", string(t)))
	}
	return nil
}

func encodeMessage(t MessageType, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", t, err)
	}
	message, err := json.Marshal(Message{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      payload,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return message, nil
}

func (h *Hub) PublishPrediction(event PredictionEvent) error {
	return h.Publish(PredictionServed, event)
}

func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedClients: h.connected.Load(),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
		StartTime:        h.startTime,
	}
}

func (c *client) writePump(logger *zap.Logger) {
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
				logger.Debug("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
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

// readPump drains client frames so control messages are processed and a
// closed connection is noticed.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
	}
}
