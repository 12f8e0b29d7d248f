package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room"
)

// RoomStore is what the registry needs from the room store. The registry
// never mutates room state directly; these calls enter each room's
// serialized mutation queue.
type RoomStore interface {
	MarkDisconnected(roomID uuid.UUID, identityID string)
	MarkReconnected(roomID uuid.UUID, identityID string) (room.Snapshot, error)
	Evict(roomID uuid.UUID, identityID string)
	GraceWindow() time.Duration
}

// Session binds a live connection to a verified identity and, once the
// client joins, to a room.
type Session struct {
	ID       uuid.UUID
	Identity room.Identity

	mu     sync.Mutex
	conn   *Conn
	roomID *uuid.UUID
}

// CurrentRoom returns the room this session is a member of, if any.
func (s *Session) CurrentRoom() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID == nil {
		return uuid.UUID{}, false
	}
	return *s.roomID, true
}

func (s *Session) setRoom(id *uuid.UUID) {
	s.mu.Lock()
	s.roomID = id
	s.mu.Unlock()
}

// Registry tracks which identity is attached through which connection and
// runs the reconnection grace window: a disconnected participant keeps
// their slot until the window elapses, and re-attaching before then
// rebinds them with a full snapshot and no state loss.
type Registry struct {
	clock clockwork.Clock
	store RoomStore

	mu       sync.Mutex
	sessions map[string]*Session      // keyed by identity ID
	grace    map[string]chan struct{} // pending grace timers, keyed by identity ID
	rebinds  map[string]uuid.UUID     // room to rebind into on reattach, keyed by identity ID
}

func NewRegistry(clock clockwork.Clock, store RoomStore) *Registry {
	return &Registry{
		clock:    clock,
		store:    store,
		sessions: make(map[string]*Session),
		grace:    make(map[string]chan struct{}),
		rebinds:  make(map[string]uuid.UUID),
	}
}

// Attach associates a connection with an identity. If the identity still
// belongs to a room, either through a pending grace window or through a
// live session this attach replaces, the room to rebind into is returned;
// the caller subscribes to its delta stream and then calls Rebind.
func (r *Registry) Attach(c *Conn, identity room.Identity) (*Session, *uuid.UUID) {
	r.mu.Lock()

	// A second connection for the same identity replaces the first. The
	// replaced session's room carries over so the new connection is
	// rebound instead of stranding the membership.
	var replacedRoom *uuid.UUID
	if old, ok := r.sessions[identity.ID]; ok {
		if roomID, ok := old.CurrentRoom(); ok {
			replacedRoom = &roomID
		}
		if oldConn := old.connection(); oldConn != nil && oldConn != c {
			log.Warn().
				Str("identity_id", identity.ID).
				Msg("identity attached twice, closing previous connection")
			oldConn.close()
		}
	}

	r.cancelGraceLocked(identity.ID)

	sess := &Session{ID: uuid.New(), Identity: identity, conn: c}
	r.sessions[identity.ID] = sess
	r.mu.Unlock()

	c.session = sess

	rebind := replacedRoom
	if roomID, ok := r.pendingRoom(identity.ID); ok {
		rebind = &roomID
	}

	log.Debug().
		Str("identity_id", identity.ID).
		Str("session_id", sess.ID.String()).
		Msg("session attached")
	return sess, rebind
}

// Rebind marks the identity reconnected in its room and binds the session.
// The caller must already be subscribed to the room's delta stream, so no
// delta committed during the rebind can slip past the returned snapshot
// (clients drop deltas at or below its seq).
func (r *Registry) Rebind(sess *Session, roomID uuid.UUID) (*room.Snapshot, bool) {
	snap, err := r.store.MarkReconnected(roomID, sess.Identity.ID)
	if err != nil {
		return nil, false
	}
	sess.setRoom(&roomID)
	log.Info().
		Str("identity_id", sess.Identity.ID).
		Str("room_id", roomID.String()).
		Msg("participant rebound to room")
	return &snap, true
}

// Detach handles a transport-level disconnect. The participant is not
// removed from their room: a grace timer starts, and only its expiry
// evicts them as if they had left.
func (r *Registry) Detach(sess *Session) {
	r.mu.Lock()
	current, ok := r.sessions[sess.Identity.ID]
	if !ok || current != sess {
		// A newer session already replaced this one.
		r.mu.Unlock()
		return
	}
	sess.mu.Lock()
	sess.conn = nil
	roomID := sess.roomID
	sess.mu.Unlock()

	if roomID == nil {
		delete(r.sessions, sess.Identity.ID)
		r.mu.Unlock()
		return
	}

	r.startGraceLocked(sess.Identity.ID, *roomID)
	r.mu.Unlock()

	r.store.MarkDisconnected(*roomID, sess.Identity.ID)
	log.Info().
		Str("identity_id", sess.Identity.ID).
		Str("room_id", roomID.String()).
		Dur("grace_window", r.store.GraceWindow()).
		Msg("participant disconnected, grace window started")
}

// BindRoom records a successful room join for the session.
func (r *Registry) BindRoom(sess *Session, roomID uuid.UUID) {
	sess.setRoom(&roomID)
}

// UnbindRoom clears room membership after leave or termination.
func (r *Registry) UnbindRoom(sess *Session) {
	sess.setRoom(nil)
}

// CurrentRoom returns the room a session is bound to.
func (r *Registry) CurrentRoom(sess *Session) (uuid.UUID, bool) {
	return sess.CurrentRoom()
}

func (s *Session) connection() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// pendingRoom reports the room a disconnected-but-not-evicted identity
// still belongs to.
func (r *Registry) pendingRoom(identityID string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.rebinds[identityID]
	if !ok {
		return uuid.UUID{}, false
	}
	delete(r.rebinds, identityID)
	return roomID, true
}

// startGraceLocked arms the grace timer for an identity. Caller holds r.mu.
func (r *Registry) startGraceLocked(identityID string, roomID uuid.UUID) {
	r.cancelGraceLocked(identityID)

	cancel := make(chan struct{})
	r.grace[identityID] = cancel
	r.rebinds[identityID] = roomID

	timer := r.clock.NewTimer(r.store.GraceWindow())
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			r.mu.Lock()
			if got, ok := r.grace[identityID]; !ok || got != cancel {
				// A reattach won the race against the firing timer.
				r.mu.Unlock()
				return
			}
			delete(r.grace, identityID)
			delete(r.rebinds, identityID)
			delete(r.sessions, identityID)
			r.mu.Unlock()

			r.store.Evict(roomID, identityID)
			log.Info().
				Str("identity_id", identityID).
				Str("room_id", roomID.String()).
				Msg("grace window expired, participant evicted")
		case <-cancel:
		}
	}()
}

// cancelGraceLocked stops a pending grace timer. Caller holds r.mu.
func (r *Registry) cancelGraceLocked(identityID string) {
	if cancel, ok := r.grace[identityID]; ok {
		close(cancel)
		delete(r.grace, identityID)
	}
}
