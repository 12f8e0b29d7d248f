package room

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room/events"
)

const cmdBuffer = 32

// actor owns all state for one room. Every mutation runs on the actor's
// goroutine; the store's public methods only queue commands here. This is
// what makes sequence numbers strictly increasing and keeps timer expiry
// from racing host actions.
type actor struct {
	store *Store
	id    uuid.UUID

	cmdCh  chan func()
	closed chan struct{}

	// Everything below is owned by the run loop.
	format       Format
	hostID       string
	createdAt    time.Time
	participants []*Participant
	occupied     map[Role]int
	turn         TurnState
	seq          uint64

	// pausedBy holds the identity whose disconnect auto-paused the phase,
	// so their reconnect can auto-resume it.
	pausedBy string

	phaseCancel    chan struct{}
	teardownCancel chan struct{}

	terminated bool
	summarized bool
}

func newActor(s *Store, id uuid.UUID, format Format, hostID string) *actor {
	return &actor{
		store:     s,
		id:        id,
		cmdCh:     make(chan func(), cmdBuffer),
		closed:    make(chan struct{}),
		format:    format,
		hostID:    hostID,
		createdAt: s.clock.Now(),
		occupied:  make(map[Role]int),
		turn:      TurnState{Phase: 0, Status: StatusPending},
	}
}

func (a *actor) run() {
	defer a.store.wg.Done()
	defer close(a.closed)
	defer a.store.remove(a.id)

	for {
		select {
		case <-a.store.ctx.Done():
			a.cancelPhaseTimer()
			a.cancelTeardownTimer()
			return
		case fn := <-a.cmdCh:
			fn()
			if a.terminated {
				return
			}
		}
	}
}

// do queues fn on the actor and waits for it to execute. Commands that
// arrive after the room terminated resolve to room_not_found.
func (a *actor) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case a.cmdCh <- wrapped:
	case <-a.closed:
		return NewError(CodeRoomNotFound, "room %s is gone", a.id)
	}
	select {
	case <-done:
		return nil
	default:
	}
	select {
	case <-done:
		return nil
	case <-a.closed:
		// The command ran iff done closed before the loop exited.
		select {
		case <-done:
			return nil
		default:
			return NewError(CodeRoomNotFound, "room %s is gone", a.id)
		}
	}
}

// submitAsync queues fn without waiting. Used by timer goroutines.
func (a *actor) submitAsync(fn func()) {
	select {
	case a.cmdCh <- fn:
	case <-a.closed:
	}
}

// emit commits one state change: it bumps the room sequence, wraps the
// payload in a delta and hands it to the broadcaster before the mutation
// returns to its caller. Broadcast is part of the mutation, not an
// afterthought.
func (a *actor) emit(t events.DeltaType, payload any) {
	a.seq++
	delta := events.New(a.id, a.seq, t, a.store.clock.Now(), payload)
	a.store.broadcaster.Publish(delta)
	log.Debug().
		Str("room_id", a.id.String()).
		Uint64("seq", a.seq).
		Str("type", string(t)).
		Msg("delta committed")
}

func (a *actor) join(identity Identity, requestedRole Role) (JoinResult, error) {
	if a.findParticipant(identity.ID) != nil {
		return JoinResult{}, NewError(CodeAlreadyJoined, "identity %s already holds a slot in room %s", identity.ID, a.id)
	}

	role, err := assignRole(a.format, a.occupied, requestedRole)
	if err != nil {
		// Failed joins mutate nothing and emit nothing.
		return JoinResult{}, err
	}

	a.occupied[role]++
	a.participants = append(a.participants, &Participant{
		Identity:  identity,
		Role:      role,
		Connected: true,
		JoinedAt:  a.store.clock.Now(),
	})
	a.cancelTeardownTimer()

	a.emit(events.TypeParticipantJoined, events.ParticipantPayload{
		IdentityID:  identity.ID,
		DisplayName: identity.DisplayName,
		Role:        string(role),
	})
	return JoinResult{Role: role, Snapshot: a.snapshot()}, nil
}

func (a *actor) leave(identityID, reason string) error {
	p := a.findParticipant(identityID)
	if p == nil {
		return NewError(CodeUnauthorized, "identity %s is not a participant of room %s", identityID, a.id)
	}

	wasActiveSpeaker := a.turn.Status == StatusRunning && p.Role == a.turn.ActiveSpeaker

	a.removeParticipant(identityID)
	releaseRole(a.occupied, p.Role)

	a.emit(events.TypeParticipantLeft, events.ParticipantPayload{
		IdentityID:  p.Identity.ID,
		DisplayName: p.Identity.DisplayName,
		Role:        string(p.Role),
	})

	if wasActiveSpeaker {
		a.pause("speaker_" + reason)
	}
	if !a.anyConnected() {
		a.startTeardownTimer()
	}
	return nil
}

func (a *actor) markDisconnected(identityID string) {
	p := a.findParticipant(identityID)
	if p == nil || !p.Connected {
		return
	}
	p.Connected = false

	a.emit(events.TypeParticipantDisconnect, events.ParticipantPayload{
		IdentityID:  p.Identity.ID,
		DisplayName: p.Identity.DisplayName,
		Role:        string(p.Role),
	})

	if a.turn.Status == StatusRunning && p.Role == a.turn.ActiveSpeaker {
		a.pausedBy = identityID
		a.pause("speaker_disconnected")
	}
	if !a.anyConnected() {
		a.startTeardownTimer()
	}
}

func (a *actor) markReconnected(identityID string) error {
	p := a.findParticipant(identityID)
	if p == nil {
		return NewError(CodeRoomNotFound, "identity %s is no longer a participant of room %s", identityID, a.id)
	}
	p.Connected = true
	a.cancelTeardownTimer()

	a.emit(events.TypeParticipantReconnected, events.ParticipantPayload{
		IdentityID:  p.Identity.ID,
		DisplayName: p.Identity.DisplayName,
		Role:        string(p.Role),
	})

	if a.turn.Status == StatusPaused && a.pausedBy == identityID {
		a.resume()
	}
	return nil
}

func (a *actor) findParticipant(identityID string) *Participant {
	for _, p := range a.participants {
		if p.Identity.ID == identityID {
			return p
		}
	}
	return nil
}

func (a *actor) removeParticipant(identityID string) {
	for i, p := range a.participants {
		if p.Identity.ID == identityID {
			a.participants = append(a.participants[:i], a.participants[i+1:]...)
			return
		}
	}
}

func (a *actor) anyConnected() bool {
	for _, p := range a.participants {
		if p.Connected {
			return true
		}
	}
	return false
}

func (a *actor) snapshot() Snapshot {
	participants := make([]Participant, len(a.participants))
	for i, p := range a.participants {
		participants[i] = *p
	}

	view := TurnView{
		Phase:         a.turn.Phase,
		Status:        a.turn.Status,
		ActiveSpeaker: a.turn.ActiveSpeaker,
	}
	if a.turn.Phase < len(a.format.Phases) {
		view.PhaseName = a.format.Phases[a.turn.Phase].Name
	}
	switch a.turn.Status {
	case StatusRunning:
		view.TimeRemainingSec = remainingSeconds(a.turn.StartedAt.Add(a.turn.Remaining), a.store.clock.Now())
	case StatusPaused:
		view.TimeRemainingSec = int(a.turn.Remaining / time.Second)
	}

	return Snapshot{
		RoomID:       a.id,
		Format:       a.format.Name,
		HostID:       a.hostID,
		Participants: participants,
		Turn:         view,
		Seq:          a.seq,
		CreatedAt:    a.createdAt,
	}
}

func remainingSeconds(deadline, now time.Time) int {
	rem := int(deadline.Sub(now).Seconds())
	if rem < 0 {
		return 0
	}
	return rem
}
