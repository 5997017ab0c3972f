// Package gateway exposes the game engine over WebSocket channels: one
// connection per player device, grouped into per-game rooms.
package gateway

import (
	"sync"

	"go.uber.org/zap"

	"github.com/channel27tech/clubmaster-sub003/internal/obslog"
	"github.com/channel27tech/clubmaster-sub003/pkg/gamewire"
)

// client is one live channel. The out queue is drained by the connection's
// writer goroutine; the hub never blocks on a slow client.
type client struct {
	id       string
	playerID string

	mu     sync.Mutex
	gameID string

	out  chan gamewire.Envelope
	stop func()
}

func (c *client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID
}

func (c *client) setRoom(gameID string) {
	c.mu.Lock()
	c.gameID = gameID
	c.mu.Unlock()
}

// Hub is the channel registry and room fan-out. It satisfies the session
// layer's Broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client            // channel id -> client
	rooms   map[string]map[string]*client // game id -> channel id -> client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) join(gameID string, c *client) {
	c.setRoom(gameID)
	h.mu.Lock()
	room, ok := h.rooms[gameID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[gameID] = room
	}
	room[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(channelID string) {
	h.mu.Lock()
	c, ok := h.clients[channelID]
	if ok {
		delete(h.clients, channelID)
		if room, ok := h.rooms[c.room()]; ok {
			delete(room, channelID)
			if len(room) == 0 {
				delete(h.rooms, c.room())
			}
		}
	}
	h.mu.Unlock()
}

// CloseRoom force-disconnects every channel still in a game's room. Wired
// into game eviction.
func (h *Hub) CloseRoom(gameID string) {
	h.mu.Lock()
	room := h.rooms[gameID]
	delete(h.rooms, gameID)
	members := make([]*client, 0, len(room))
	for _, c := range room {
		delete(h.clients, c.id)
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		c.stop()
	}
}

// CloseChannel disconnects one channel, used when a newer connection for the
// same player supersedes it.
func (h *Hub) CloseChannel(channelID string) {
	h.mu.Lock()
	c, ok := h.clients[channelID]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.remove(channelID)
	c.stop()
}

// Broadcast queues an envelope for every channel in the game's room.
func (h *Hub) Broadcast(gameID string, env gamewire.Envelope) {
	h.mu.Lock()
	room := h.rooms[gameID]
	members := make([]*client, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		h.enqueue(c, env)
	}
}

// Send queues an envelope for a single channel.
func (h *Hub) Send(channelID string, env gamewire.Envelope) {
	h.mu.Lock()
	c, ok := h.clients[channelID]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.enqueue(c, env)
}

// enqueue drops the frame and kills the channel when its queue is full. A
// reconnecting client resyncs anyway, so a gap is recoverable; a wedged
// writer is not.
func (h *Hub) enqueue(c *client, env gamewire.Envelope) {
	select {
	case c.out <- env:
	default:
		obslog.L().Warn("channel_backpressure_close",
			zap.String("channel_id", c.id),
			zap.String("player_id", c.playerID),
			zap.String("event", env.Type),
		)
		h.remove(c.id)
		c.stop()
	}
}
