// Package room owns the authoritative state of every active debate room.
// All mutations for one room run on that room's actor goroutine, so
// join/leave/control/timer-expiry are totally ordered per room while
// different rooms proceed independently.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room/events"
)

// Config carries the coordinator's tunable windows.
type Config struct {
	// GraceWindow is how long a disconnected participant's slot is
	// reserved pending reconnection.
	GraceWindow time.Duration
	// TeardownWindow is how long a room may sit with no connected
	// participants before it is destroyed.
	TeardownWindow time.Duration
}

// DefaultConfig returns the default reconnection and teardown windows.
func DefaultConfig() Config {
	return Config{
		GraceWindow:    30 * time.Second,
		TeardownWindow: 2 * time.Minute,
	}
}

// Broadcaster receives every committed state delta, in commit order, before
// the originating mutation returns. The terminal room_terminated delta is
// followed by CloseRoom.
type Broadcaster interface {
	Publish(delta events.StateDelta)
	CloseRoom(roomID uuid.UUID)
}

// SummarySink is the persistence boundary: completed-room summaries are
// handed off here exactly once and the coordinator keeps nothing after.
type SummarySink interface {
	PublishSummary(ctx context.Context, s Summary) error
}

// NopSink discards summaries. Used when stats handoff is disabled.
type NopSink struct{}

func (NopSink) PublishSummary(context.Context, Summary) error { return nil }

// Store is the single writer of room state.
type Store struct {
	clock       clockwork.Clock
	cfg         Config
	formats     FormatSource
	broadcaster Broadcaster
	sink        SummarySink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	rooms map[uuid.UUID]*actor
}

// NewStore builds a store. The broadcaster and sink must be non-nil; use
// NopSink when stats handoff is disabled.
func NewStore(clock clockwork.Clock, cfg Config, formats FormatSource, broadcaster Broadcaster, sink SummarySink) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		clock:       clock,
		cfg:         cfg,
		formats:     formats,
		broadcaster: broadcaster,
		sink:        sink,
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[uuid.UUID]*actor),
	}
}

// Close stops every room actor and waits for them to exit. In-flight
// commands receive room_not_found.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// CreateRoom creates a room for the given format with hostID as the only
// identity allowed to issue host control events. The room starts empty in
// phase pending; its teardown countdown runs until someone joins.
func (s *Store) CreateRoom(host Identity, formatName string) (Snapshot, error) {
	if !host.Host {
		return Snapshot{}, NewError(CodeUnauthorized, "identity %s lacks host capability", host.ID)
	}
	format, ok := s.formats.Get(formatName)
	if !ok {
		return Snapshot{}, NewError(CodeRoomNotFound, "unknown format %q", formatName)
	}

	a := newActor(s, uuid.New(), format, host.ID)

	s.mu.Lock()
	s.rooms[a.id] = a
	s.mu.Unlock()

	s.wg.Add(1)
	go a.run()

	var snap Snapshot
	err := a.do(func() {
		a.emit(events.TypeRoomCreated, nil)
		a.startTeardownTimer()
		snap = a.snapshot()
	})
	if err != nil {
		return Snapshot{}, err
	}

	log.Info().
		Str("room_id", a.id.String()).
		Str("format", format.Name).
		Str("host_id", host.ID).
		Msg("room created")
	return snap, nil
}

// Join adds a participant to a room in the requested role.
func (s *Store) Join(roomID uuid.UUID, identity Identity, requestedRole Role) (JoinResult, error) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return JoinResult{}, err
	}
	var (
		res    JoinResult
		joinEr error
	)
	if err := a.do(func() { res, joinEr = a.join(identity, requestedRole) }); err != nil {
		return JoinResult{}, err
	}
	return res, joinEr
}

// Leave removes a participant, frees their slot and pauses the phase if
// they were the active speaker.
func (s *Store) Leave(roomID uuid.UUID, identityID string) error {
	a, err := s.actorFor(roomID)
	if err != nil {
		return err
	}
	var leaveErr error
	if err := a.do(func() { leaveErr = a.leave(identityID, "left") }); err != nil {
		return err
	}
	return leaveErr
}

// ApplyControl runs a host or speaker control event through the room's
// serialized mutation path and returns the resulting snapshot.
func (s *Store) ApplyControl(roomID uuid.UUID, identityID string, ev ControlEvent) (Snapshot, error) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	var (
		snap    Snapshot
		ctrlErr error
	)
	if err := a.do(func() {
		ctrlErr = a.applyControl(identityID, ev)
		if ctrlErr == nil {
			snap = a.snapshot()
		}
	}); err != nil {
		return Snapshot{}, err
	}
	if ctrlErr != nil {
		return Snapshot{}, ctrlErr
	}
	return snap, nil
}

// MarkDisconnected records a transport-level disconnect observed by the
// connection registry. The participant keeps their slot for the grace
// window; the phase auto-pauses if they were speaking.
func (s *Store) MarkDisconnected(roomID uuid.UUID, identityID string) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return
	}
	_ = a.do(func() { a.markDisconnected(identityID) })
}

// MarkReconnected rebinds a participant inside the grace window and
// returns the snapshot the reconnecting client must resync from. A phase
// paused by this participant's disconnect auto-resumes.
func (s *Store) MarkReconnected(roomID uuid.UUID, identityID string) (Snapshot, error) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	var (
		snap  Snapshot
		rcErr error
	)
	if err := a.do(func() {
		rcErr = a.markReconnected(identityID)
		if rcErr == nil {
			snap = a.snapshot()
		}
	}); err != nil {
		return Snapshot{}, err
	}
	if rcErr != nil {
		return Snapshot{}, rcErr
	}
	return snap, nil
}

// Evict removes a participant whose grace window expired, as if they had
// explicitly left.
func (s *Store) Evict(roomID uuid.UUID, identityID string) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return
	}
	_ = a.do(func() { _ = a.leave(identityID, "grace_expired") })
}

// Snapshot returns the current full state of a room.
func (s *Store) Snapshot(roomID uuid.UUID) (Snapshot, error) {
	a, err := s.actorFor(roomID)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := a.do(func() { snap = a.snapshot() }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// GraceWindow exposes the configured reconnection grace window to the
// connection registry.
func (s *Store) GraceWindow() time.Duration {
	return s.cfg.GraceWindow
}

func (s *Store) actorFor(roomID uuid.UUID) (*actor, error) {
	s.mu.RLock()
	a, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, NewError(CodeRoomNotFound, "room %s does not exist", roomID)
	}
	return a, nil
}

func (s *Store) remove(roomID uuid.UUID) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}
