package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/websocket/v2"
)

// Hub tracks observers per room and broadcasts to them.
type Hub struct {
	name   string
	logger *slog.Logger

	rooms map[string]map[*Client]struct{}

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running atomic.Bool
	done    chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a hub. Call Run before clients connect.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     slog.Default(),
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub.Hub", "hub", name)
	return h
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client's send channel. Run must be called once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for room, clients := range h.rooms {
				for c := range clients {
					close(c.send)
				}
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.rooms[client.room]
			if !ok {
				clients = make(map[*Client]struct{})
				h.rooms[client.room] = clients
			}
			clients[client] = struct{}{}
			count := len(clients)
			h.mu.Unlock()
			h.logger.Debug("observer connected", "room", client.room, "observers", count)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			count := len(h.rooms[client.room])
			h.mu.Unlock()
			h.logger.Debug("observer disconnected", "room", client.room, "observers", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[message.Room] {
				select {
				case client.send <- message:
				default:
					h.remove(client)
					h.logger.Warn("dropped slow observer", "room", message.Room)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *Client) {
	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
}

// Broadcast queues a message for its room's observers. It never blocks; a
// full queue drops the message.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message", "room", msg.Room)
	}
}

// Publish sends a pre-encoded JSON payload to a room's observers.
func (h *Hub) Publish(room string, payload []byte) {
	h.Broadcast(NewJSONMessage(room, payload))
}

// Serve registers a websocket connection as an observer of room and blocks
// until it disconnects. Use it as the body of a websocket handler.
func (h *Hub) Serve(conn *websocket.Conn, room string) {
	NewClient(h, room, conn).Run()
}

// ClientCount returns the number of observers of room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomCount returns the number of rooms with at least one observer.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// IsRunning returns whether the hub loop is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Snapshot is the hub state reported by health checks.
type Snapshot struct {
	Running   bool   `json:"running"`
	Rooms     int    `json:"rooms"`
	Observers int    `json:"observers"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// Snapshot returns current counts.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	observers := 0
	for _, clients := range h.rooms {
		observers += len(clients)
	}
	h.mu.RUnlock()
	return Snapshot{
		Running:   h.IsRunning(),
		Rooms:     h.RoomCount(),
		Observers: observers,
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
	}
}
