package api

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const sendBuffer = 64

// client is one WebSocket connection and the channels it joined.
type client struct {
	id   string
	send chan []byte

	mu       sync.Mutex
	channels map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newClient() *client {
	return &client{
		id:       uuid.NewString(),
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

func (c *client) join(channel string) {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
}

func (c *client) leave(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

func (c *client) member(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans frames out to the clients that joined a channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Broadcast queues data for every client in channel and returns how many
// received it. Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(channel string, data []byte) int {
	h.mu.RLock()
	var slow []*client
	n := 0
	for c := range h.clients {
		if !c.member(channel) {
			continue
		}
		select {
		case c.send <- data:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.WithField("client", c.id).Warn("client send buffer full, disconnecting")
		h.remove(c)
	}
	return n
}

// Subscribers returns the number of clients in channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.member(channel) {
			n++
		}
	}
	return n
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
