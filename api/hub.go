package api

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatserver/models"
)

// client is one websocket connection plus its room subscriptions. The write
// mutex serializes hub broadcasts with reader-side replies.
type client struct {
	conn  *websocket.Conn
	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *client) send(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Hub manages websocket clients and routes events to them. Events without a
// room go to every client; roomed events go to subscribers only.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *Hub) Add(conn *websocket.Conn) *client {
	c := &client{conn: conn, rooms: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket client connected", zap.String("remote_addr", conn.RemoteAddr().String()))
	return c
}

func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
	h.logger.Info("websocket client disconnected", zap.String("remote_addr", c.conn.RemoteAddr().String()))
}

func (h *Hub) Join(c *client, room string) {
	h.mu.Lock()
	c.rooms[room] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(c *client, room string) {
	h.mu.Lock()
	delete(c.rooms, room)
	h.mu.Unlock()
}

// Broadcast delivers the event to its audience. Write failures evict the
// client.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if ev.Room != "" {
			if _, ok := c.rooms[ev.Room]; !ok {
				continue
			}
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(ev); err != nil {
			h.logger.Error("websocket write error", zap.Error(err),
				zap.String("remote_addr", c.conn.RemoteAddr().String()))
			h.Remove(c)
		}
	}
}

// ClientCount reports connected clients (used by tests and logs).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
