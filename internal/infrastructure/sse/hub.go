package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

const clientBuffer = 64

// Client is one open event stream belonging to a user.
type Client struct {
	ClientID    string
	UserID      string
	ConnectedAt time.Time
	Messages    chan *Message
}

func NewClient(userID string) *Client {
	return &Client{
		ClientID:    uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Messages:    make(chan *Message, clientBuffer),
	}
}

// Message is one server-sent event.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub fans negotiation events out to connected parties.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		close(c.Messages)
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToUser delivers msg to every stream the user has open and returns how
// many accepted it. Streams with a full buffer miss the message.
func (h *Hub) SendToUser(userID string, msg *Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if c.UserID == userID && trySend(c, msg) {
			delivered++
		}
	}
	return delivered
}

// Publish implements negotiation.Publisher. Both parties receive the event.
func (h *Hub) Publish(_ context.Context, event negotiation.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &Message{
		ID:        event.EventID.String(),
		Event:     string(event.Type),
		Data:      data,
		Timestamp: event.OccurredAt,
	}
	h.SendToUser(event.BuyerID, msg)
	h.SendToUser(event.SellerID, msg)
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.Messages)
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.Messages <- msg:
		return true
	default:
		return false
	}
}
