package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room"
)

// ConnectionConfig holds websocket tuning for client connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	// MaxBacklogDeltas bounds the per-connection outbound queue. A
	// connection that falls further behind is forced onto a fresh
	// snapshot instead of queueing unbounded backlog.
	MaxBacklogDeltas int
	CheckOrigin      func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default websocket tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		MaxMessageSize:   4096,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		MaxBacklogDeltas: 64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Conn is one live client connection. All writes to the websocket happen
// on the writePump goroutine; everything else only enqueues.
type Conn struct {
	ID      string
	ws      *websocket.Conn
	handler *Handler

	send   chan []byte
	closed chan struct{}

	session *Session

	mu     sync.Mutex
	roomID *uuid.UUID

	// needResync is set when the send queue overflows. The writePump
	// clears it by pushing a fresh snapshot.
	needResync atomic.Bool
}

func newConn(ws *websocket.Conn, h *Handler) *Conn {
	return &Conn{
		ID:      uuid.New().String(),
		ws:      ws,
		handler: h,
		send:    make(chan []byte, h.cfg.MaxBacklogDeltas),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) setRoom(id *uuid.UUID) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

func (c *Conn) room() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == nil {
		return uuid.UUID{}, false
	}
	return *c.roomID, true
}

// enqueueDelta queues a broadcast frame without ever blocking the room
// actor. Overflow marks the connection for a forced resync; the dropped
// deltas are superseded by the snapshot that follows.
func (c *Conn) enqueueDelta(data []byte) {
	if c.needResync.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		c.needResync.Store(true)
		log.Warn().
			Str("conn_id", c.ID).
			Msg("connection backlog exceeded, forcing snapshot resync")
	}
}

// enqueue queues a reply or snapshot frame, blocking until there is room.
// Called from the readPump goroutine, never from a room actor.
func (c *Conn) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to marshal frame")
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	}
}

func (c *Conn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	if c.ws != nil {
		c.ws.Close()
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.handler.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		if c.needResync.CompareAndSwap(true, false) {
			c.writeResyncSnapshot()
		}

		select {
		case <-c.closed:
			return
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("ping failed")
				return
			}
		}
	}
}

// writeResyncSnapshot pushes the room's current snapshot directly on the
// write goroutine. Deltas dropped while the flag was set all carry a seq
// at or below the snapshot's, so the client loses nothing.
func (c *Conn) writeResyncSnapshot() {
	roomID, ok := c.room()
	if !ok {
		return
	}
	snap, err := c.handler.store.Snapshot(roomID)
	if err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID).Msg("resync snapshot unavailable")
		return
	}
	data, err := json.Marshal(SnapshotFrame{Type: FrameSnapshot, Snapshot: snap})
	if err != nil {
		return
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID).Msg("resync write failed")
	}
}

func (c *Conn) readPump() {
	defer func() {
		c.handler.dropConnection(c)
	}()

	c.ws.SetReadLimit(c.handler.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.enqueue(errorReply("", room.NewError(room.CodeInternal, "malformed command: %v", err)))
			continue
		}
		c.handler.handleCommand(c, cmd)
	}
}
