// Package ws bridges pub/sub topics to browser websocket connections.
//
// Each connection carries a subscriber id, normally one per dashboard tab.
// Subscriptions are owned by the pubsub.Pool under that id, so a tab that
// reconnects within the grace period resumes its subscriptions and
// receives what was buffered while it was away.
package ws

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/xiaot623/agentrun/internal/pubsub"
)

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single WebSocket connection.
type Connection struct {
	ID           string
	SubscriberID string
	Conn         *websocket.Conn
	Send         chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards writes to Conn
	pumpMu sync.Mutex
	pumps  map[string]*pubsub.Subscriber
}

// Hub manages all WebSocket connections.
type Hub struct {
	pool   *pubsub.Pool
	grace  time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	connections map[string]*Connection
	// current connection and topics per subscriber id
	owners  map[string]*Connection
	topics  map[string]map[string]bool
	expires map[string]*time.Timer
}

// NewHub creates a hub. Subscriptions of a subscriber id with no
// connection are cancelled after grace.
func NewHub(pool *pubsub.Pool, grace time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		pool:        pool,
		grace:       grace,
		logger:      logger.With("component", "ws.hub"),
		connections: make(map[string]*Connection),
		owners:      make(map[string]*Connection),
		topics:      make(map[string]map[string]bool),
		expires:     make(map[string]*time.Timer),
	}
}

func newConnectionID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewConnection wraps ws. An empty subscriberID gets a fresh one.
func (h *Hub) NewConnection(ws *websocket.Conn, subscriberID string) *Connection {
	id := newConnectionID()
	if subscriberID == "" {
		subscriberID = "sub_" + id
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:           id,
		SubscriberID: subscriberID,
		Conn:         ws,
		Send:         make(chan []byte, 256),
		ctx:          ctx,
		cancel:       cancel,
		pumps:        make(map[string]*pubsub.Subscriber),
	}
}

// Register makes conn the owner of its subscriber id and resumes the
// subscriptions the id already holds. A previous connection with the same
// id is displaced.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.ID] = conn
	prev := h.owners[conn.SubscriberID]
	h.owners[conn.SubscriberID] = conn
	if t, ok := h.expires[conn.SubscriberID]; ok {
		t.Stop()
		delete(h.expires, conn.SubscriberID)
	}
	resume := make([]string, 0, len(h.topics[conn.SubscriberID]))
	for topic := range h.topics[conn.SubscriberID] {
		resume = append(resume, topic)
	}
	h.mu.Unlock()

	if prev != nil && prev != conn {
		h.logger.Info("connection displaced", "subscriber_id", conn.SubscriberID, "old", prev.ID, "new", conn.ID)
		prev.cancel()
	}
	for _, topic := range resume {
		if err := h.Subscribe(conn, topic, false); err != nil {
			h.logger.Warn("failed to resume subscription", "subscriber_id", conn.SubscriberID, "topic", topic, "error", err)
		}
	}
	h.logger.Info("connection registered", "connection_id", conn.ID, "subscriber_id", conn.SubscriberID, "resumed", len(resume))
}

// Unregister removes conn. Its subscriptions survive for the grace period.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn.ID)
	// Stop the pumps before anyone can observe the connection as gone.
	conn.cancel()
	sid := conn.SubscriberID
	if h.owners[sid] == conn {
		delete(h.owners, sid)
		if len(h.topics[sid]) > 0 {
			h.expires[sid] = time.AfterFunc(h.grace, func() { h.expire(sid) })
		}
	}
	h.mu.Unlock()

	h.logger.Info("connection unregistered", "connection_id", conn.ID, "subscriber_id", sid)
}

func (h *Hub) expire(sid string) {
	h.mu.Lock()
	if _, owned := h.owners[sid]; owned {
		h.mu.Unlock()
		return
	}
	topics := h.topics[sid]
	delete(h.topics, sid)
	delete(h.expires, sid)
	h.mu.Unlock()

	for topic := range topics {
		h.pool.CancelSubscriber(sid, topic)
	}
	h.logger.Debug("subscriber expired", "subscriber_id", sid, "topics", len(topics))
}

// Subscribe binds conn's subscriber id to topic and starts forwarding.
func (h *Hub) Subscribe(conn *Connection, topic string, recreate bool) error {
	sub, err := h.pool.CreateSubscriber(conn.ctx, conn.SubscriberID, topic, recreate)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.topics[conn.SubscriberID] == nil {
		h.topics[conn.SubscriberID] = make(map[string]bool)
	}
	h.topics[conn.SubscriberID][topic] = true
	h.mu.Unlock()

	conn.pumpMu.Lock()
	running := conn.pumps[topic] == sub
	conn.pumps[topic] = sub
	conn.pumpMu.Unlock()
	if !running {
		go h.pump(conn, topic, sub)
	}
	return nil
}

// Unsubscribe cancels conn's subscription to topic.
func (h *Hub) Unsubscribe(conn *Connection, topic string) {
	h.mu.Lock()
	delete(h.topics[conn.SubscriberID], topic)
	h.mu.Unlock()
	h.pool.CancelSubscriber(conn.SubscriberID, topic)
}

// pump forwards messages from sub to conn until either ends.
func (h *Hub) pump(conn *Connection, topic string, sub *pubsub.Subscriber) {
	defer func() {
		conn.pumpMu.Lock()
		if conn.pumps[topic] == sub {
			delete(conn.pumps, topic)
		}
		conn.pumpMu.Unlock()
	}()
	for {
		msg, err := sub.Next(conn.ctx)
		if err != nil {
			return
		}
		err = h.SendToConnection(conn, msg.Payload)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			h.logger.Warn("connection buffer full, closing", "connection_id", conn.ID)
			h.Unregister(conn)
			return
		}
	}
}

// SendToConnection queues data for conn without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case <-conn.ctx.Done():
		return context.Canceled
	default:
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Topics returns the topics held for a subscriber id.
func (h *Hub) Topics(subscriberID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.topics[subscriberID]))
	for t := range h.topics[subscriberID] {
		out = append(out, t)
	}
	return out
}

// Done is closed when the connection is unregistered or displaced.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

func (c *Connection) Close() error {
	return c.Conn.Close()
}
