package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room"
)

// Handler owns the websocket endpoint: it attaches connections to the
// registry, decodes client commands and runs them against the room store.
type Handler struct {
	upgrader websocket.Upgrader
	cfg      ConnectionConfig
	registry *Registry
	hub      *Hub
	store    *room.Store
}

func NewHandler(cfg ConnectionConfig, registry *Registry, hub *Hub, store *room.Store) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg:      cfg,
		registry: registry,
		hub:      hub,
		store:    store,
	}
}

// RegisterRoutes registers the websocket endpoints on an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}

// HandleWS upgrades the connection and attaches it to the registry. The
// identity in the query string is opaque and already validated by the
// upstream auth layer; the coordinator only trusts its verdict.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	identityID := r.URL.Query().Get("identity")
	if identityID == "" {
		http.Error(w, "identity is required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = identityID
	}
	host := r.URL.Query().Get("host")
	identity := room.Identity{
		ID:          identityID,
		DisplayName: name,
		Host:        host == "true" || host == "1",
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := newConn(ws, h)
	sess, rebind := h.registry.Attach(c, identity)

	go c.writePump()

	// An identity still belonging to a room gets a full snapshot before
	// any live deltas. Subscribe first so no delta can slip between the
	// snapshot and the live stream, same as the join path.
	reconnected := false
	if rebind != nil {
		h.hub.Subscribe(*rebind, c)
		if snap, ok := h.registry.Rebind(sess, *rebind); ok {
			c.enqueue(SnapshotFrame{Type: FrameSnapshot, Snapshot: *snap})
			reconnected = true
		} else {
			h.hub.Unsubscribe(c)
		}
	}

	go c.readPump()

	log.Info().
		Str("conn_id", c.ID).
		Str("identity_id", identity.ID).
		Bool("reconnected", reconnected).
		Msg("websocket connection established")
}

// dropConnection runs when a connection's read loop ends for any reason.
// Membership is not touched here; the registry's grace window decides
// whether the participant is eventually evicted.
func (h *Handler) dropConnection(c *Conn) {
	c.close()
	h.hub.Unsubscribe(c)
	if c.session != nil {
		h.registry.Detach(c.session)
	}
}

func (h *Handler) handleCommand(c *Conn, cmd ClientCommand) {
	switch cmd.Type {
	case CmdCreateRoom:
		h.handleCreateRoom(c, cmd)
	case CmdJoinRoom:
		h.handleJoinRoom(c, cmd)
	case CmdLeaveRoom:
		h.handleLeaveRoom(c, cmd)
	case CmdStart, CmdPause, CmdResume, CmdYieldTurn, CmdTerminateRoom:
		h.handleControl(c, cmd)
	case CmdResync:
		h.handleResync(c, cmd)
	default:
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeInternal, "unknown command %q", cmd.Type)))
	}
}

func (h *Handler) handleCreateRoom(c *Conn, cmd ClientCommand) {
	snap, err := h.store.CreateRoom(c.session.Identity, cmd.Format)
	if err != nil {
		c.enqueue(errorReply(cmd.RequestID, err))
		return
	}
	reply := okReply(cmd.RequestID)
	reply.Snapshot = &snap
	c.enqueue(reply)
}

func (h *Handler) handleJoinRoom(c *Conn, cmd ClientCommand) {
	if _, already := c.room(); already {
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeAlreadyJoined, "connection is already in a room")))
		return
	}
	roomID, err := uuid.Parse(cmd.RoomID)
	if err != nil {
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeRoomNotFound, "invalid room id %q", cmd.RoomID)))
		return
	}

	// Subscribe before joining so no delta can slip between the join's
	// snapshot and the live stream. Deltas at or below the snapshot's seq
	// are ignored client-side.
	h.hub.Subscribe(roomID, c)
	res, err := h.store.Join(roomID, c.session.Identity, room.Role(cmd.Role))
	if err != nil {
		h.hub.Unsubscribe(c)
		c.enqueue(errorReply(cmd.RequestID, err))
		return
	}
	h.registry.BindRoom(c.session, roomID)

	reply := okReply(cmd.RequestID)
	reply.Role = res.Role
	reply.Snapshot = &res.Snapshot
	c.enqueue(reply)
}

func (h *Handler) handleLeaveRoom(c *Conn, cmd ClientCommand) {
	roomID, ok := c.room()
	if !ok {
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeRoomNotFound, "connection is not in a room")))
		return
	}
	if err := h.store.Leave(roomID, c.session.Identity.ID); err != nil {
		c.enqueue(errorReply(cmd.RequestID, err))
		return
	}
	h.hub.Unsubscribe(c)
	h.registry.UnbindRoom(c.session)
	c.enqueue(okReply(cmd.RequestID))
}

var controlEvents = map[string]room.ControlEvent{
	CmdStart:         room.ControlStart,
	CmdPause:         room.ControlPause,
	CmdResume:        room.ControlResume,
	CmdYieldTurn:     room.ControlYield,
	CmdTerminateRoom: room.ControlTerminate,
}

func (h *Handler) handleControl(c *Conn, cmd ClientCommand) {
	roomID, ok := c.room()
	if !ok {
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeRoomNotFound, "connection is not in a room")))
		return
	}

	snap, err := h.store.ApplyControl(roomID, c.session.Identity.ID, controlEvents[cmd.Type])
	if err != nil {
		c.enqueue(errorReply(cmd.RequestID, err))
		return
	}
	if cmd.Type == CmdTerminateRoom {
		h.registry.UnbindRoom(c.session)
	}

	reply := okReply(cmd.RequestID)
	reply.Snapshot = &snap
	c.enqueue(reply)
}

// handleResync answers a reconnecting client's last known sequence. A
// client that is behind gets the full current snapshot; incremental replay
// across a gap is never attempted. Replaying resync at the current
// sequence returns the same snapshot, so the call is idempotent.
func (h *Handler) handleResync(c *Conn, cmd ClientCommand) {
	roomID, ok := c.room()
	if !ok {
		c.enqueue(errorReply(cmd.RequestID, room.NewError(room.CodeRoomNotFound, "connection is not in a room")))
		return
	}
	snap, err := h.store.Snapshot(roomID)
	if err != nil {
		c.enqueue(errorReply(cmd.RequestID, err))
		return
	}
	if cmd.LastSeq > snap.Seq {
		log.Warn().
			Str("conn_id", c.ID).
			Uint64("client_seq", cmd.LastSeq).
			Uint64("room_seq", snap.Seq).
			Msg("client reported a sequence ahead of the room")
	}

	reply := okReply(cmd.RequestID)
	reply.Snapshot = &snap
	c.enqueue(reply)
}

// HandleStats reports active connection counts per room.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := h.hub.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"active_rooms":      len(rooms),
		"room_connections":  rooms,
	})
}
