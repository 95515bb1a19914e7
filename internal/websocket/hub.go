package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a real-time notification about ledger activity: balance credits,
// migrations, redemptions, and code validations. StoreID scopes the event to
// a tenant.
type Message struct {
	Type    string         `json:"type"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	StoreID int64          `json:"store_id,omitempty"`
	ID      int64          `json:"id,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, storeID, id int64, extra map[string]any) Message {
	return Message{
		Type:    fmt.Sprintf("%s_%s", entity, action),
		Entity:  entity,
		Action:  action,
		StoreID: storeID,
		ID:      id,
		Extra:   extra,
	}
}

// Hub maintains the set of active WebSocket clients and fans events out to
// the clients watching the event's store.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast delivers a message to every client subscribed to its store. A
// client with storeID 0 watches all stores; a message with StoreID 0 reaches
// everyone.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.storeID != 0 && msg.StoreID != 0 && c.storeID != msg.StoreID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
