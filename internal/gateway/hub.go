package gateway

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room"
	"github.com/dialectica/realtime/internal/room/events"
)

// Hub fans committed state deltas out to every connection subscribed to a
// room. Publish is called from room actors in commit order, so per-room
// delivery order to each connection matches commit order. No ordering
// holds across rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Conn]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[uuid.UUID]map[*Conn]bool)}
}

var _ room.Broadcaster = (*Hub)(nil)

// Publish implements room.Broadcaster. It never blocks the calling actor:
// slow connections are flagged for a forced snapshot resync instead.
func (h *Hub) Publish(delta events.StateDelta) {
	data, err := json.Marshal(DeltaFrame{Type: FrameStateDelta, Delta: delta})
	if err != nil {
		log.Error().Err(err).Str("room_id", delta.RoomID.String()).Msg("failed to marshal delta")
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[delta.RoomID]))
	for c := range h.rooms[delta.RoomID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueueDelta(data)
	}
}

// CloseRoom implements room.Broadcaster. Called after the terminal
// room_terminated delta is published; the connections stay open and may
// join other rooms.
func (h *Hub) CloseRoom(roomID uuid.UUID) {
	h.mu.Lock()
	conns := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for c := range conns {
		c.setRoom(nil)
	}
}

// Subscribe attaches a connection to a room's delta stream.
func (h *Hub) Subscribe(roomID uuid.UUID, c *Conn) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()
	c.setRoom(&roomID)
}

// Unsubscribe detaches a connection from its room, if any.
func (h *Hub) Unsubscribe(c *Conn) {
	roomID, ok := c.room()
	if !ok {
		return
	}
	h.mu.Lock()
	if conns, exists := h.rooms[roomID]; exists {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	c.setRoom(nil)
}

// Stats reports subscriber counts per active room.
func (h *Hub) Stats() (totalConns int, roomCounts map[string]int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomCounts = make(map[string]int, len(h.rooms))
	for id, conns := range h.rooms {
		roomCounts[id.String()] = len(conns)
		totalConns += len(conns)
	}
	return totalConns, roomCounts
}
