// Package websocket fans committed order events out to match-engine subscribers.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/models"
)

// Event types published on the feed.
const (
	EventOrderCreated   = "order.created"
	EventOrderCancelled = "order.cancelled"
)

// ErrBacklogFull is returned when the hub cannot accept another event without blocking.
var ErrBacklogFull = errors.New("match feed backlog full")

// Event is the JSON frame sent to subscribers.
type Event struct {
	Type  string        `json:"type"`
	Order *models.Order `json:"order"`
	At    time.Time     `json:"at"`
}

// Client is one subscriber. Send is closed by the hub when the client is dropped.
type Client struct {
	Addr string
	Send chan []byte
}

// NewClient creates a subscriber with a buffered outbound queue.
func NewClient(addr string, buffer int) *Client {
	return &Client{Addr: addr, Send: make(chan []byte, buffer)}
}

// Hub manages subscribers and broadcasts order events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	now        func() time.Time
}

// NewHub creates a hub whose broadcast queue holds buffer frames.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	logs.Info("Starting match feed hub...")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.stopOnce.Do(func() { close(h.done) })
			logs.Info("Match feed hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logs.Infof("Match feed subscriber registered: %s", client.Addr)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				logs.Infof("Match feed subscriber unregistered: %s", client.Addr)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					logs.Errorf("Subscriber send buffer full, dropping %s", client.Addr)
					delete(h.clients, client)
					close(client.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe adds client to the feed. It returns false once the hub has stopped,
// in which case client.Send is never written to.
func (h *Hub) Subscribe(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unsubscribe drops client and closes its Send channel. It is a no-op for
// clients already dropped and never blocks after the hub has stopped.
func (h *Hub) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Clients reports the number of registered subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// OrderCreated publishes a newly committed order.
func (h *Hub) OrderCreated(_ context.Context, order *models.Order) error {
	return h.publish(EventOrderCreated, order)
}

// OrdersCancelled publishes one event per cancelled order.
func (h *Hub) OrdersCancelled(_ context.Context, orders []*models.Order) error {
	var errList []error
	for _, order := range orders {
		if err := h.publish(EventOrderCancelled, order); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (h *Hub) publish(eventType string, order *models.Order) error {
	msg, err := json.Marshal(Event{Type: eventType, Order: order, At: h.now().UTC()})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
		return nil
	default:
		return ErrBacklogFull
	}
}
