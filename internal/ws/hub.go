package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single WebSocket connection with staff context.
type Client struct {
	StaffID uint
	Send    chan []byte
	Hub     *Hub // set so Close() can unregister
	mu      sync.Mutex
	closed  bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
}

// Hub maintains the set of active clients and broadcasts to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// BroadcastAll queues payload for every client. Slow clients drop messages
// rather than block the sender.
func (h *Hub) BroadcastAll(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.Send <- data:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunFeed streams autopay progress to the back office.
type RunFeed struct {
	*Hub
}

func NewRunFeed() *RunFeed {
	return &RunFeed{Hub: NewHub()}
}

// Notify broadcasts {"type": kind, "data": payload}.
func (f *RunFeed) Notify(kind string, payload interface{}) {
	f.BroadcastAll(map[string]interface{}{"type": kind, "data": payload})
}
