// Package realtime pushes best-effort events to the live connections of an
// identity. The durable store stays the source of truth; nothing here is
// retried or persisted.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotchat/services/booking-service/internal/metrics"
)

type Kind string

const (
	KindMessage     Kind = "message"
	KindTyping      Kind = "typing"
	KindReadReceipt Kind = "read_receipt"
	// KindError reports a refused inbound frame to its sender only.
	KindError       Kind = "error"
)

type Event struct {
	Kind          Kind            `json:"kind"`
	From          string          `json:"from"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Publisher routes an event to the recipient's channel. Delivery to an
// offline recipient is not an error.
type Publisher interface {
	Publish(ctx context.Context, recipient string, evt Event) error
}

// Conn is one live subscription handle.
type Conn struct {
	ID     string
	UserID string
	send   chan Event
}

func (c *Conn) Events() <-chan Event { return c.send }

// Hub is the process-scoped table of identity -> live connections.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[string]*Conn
	buffer int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{conns: map[string]map[string]*Conn{}, buffer: buffer, logger: logger}
}

func (h *Hub) Register(userID string) *Conn {
	c := &Conn{ID: uuid.NewString(), UserID: userID, send: make(chan Event, h.buffer)}
	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = map[string]*Conn{}
		h.conns[userID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()

	metrics.AddRealtimeConnections(1)
	h.logger.Debug("realtime connected", "user_id", userID, "conn_id", c.ID)
	return c
}

// Unregister removes the connection and closes its event channel. Safe to call twice.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	set := h.conns[c.UserID]
	if _, ok := set[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(h.conns, c.UserID)
	}
	close(c.send)
	h.mu.Unlock()

	metrics.AddRealtimeConnections(-1)
	h.logger.Debug("realtime disconnected", "user_id", c.UserID, "conn_id", c.ID)
}

// Deliver hands evt to every live connection of userID without blocking.
// A connection whose buffer is full misses the event.
func (h *Hub) Deliver(userID string, evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, c := range h.conns[userID] {
		select {
		case c.send <- evt:
			delivered++
		default:
			metrics.IncRealtimeDropped(string(evt.Kind))
		}
	}
	return delivered
}

func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Publish makes the hub a single-process Publisher.
func (h *Hub) Publish(_ context.Context, recipient string, evt Event) error {
	h.Deliver(recipient, evt)
	return nil
}
