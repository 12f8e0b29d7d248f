package room

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room/events"
)

// Turn timer engine. Phase transitions are driven exclusively by the
// server clock and run on the room actor like any other mutation, so a
// timer firing against a state that already advanced is a no-op (the
// epoch guard below).

func (a *actor) applyControl(identityID string, ev ControlEvent) error {
	if a.turn.Status == StatusCompleted && ev != ControlTerminate {
		return NewError(CodeInvalidTransition, "debate already completed")
	}

	switch ev {
	case ControlStart:
		if err := a.requireHost(identityID); err != nil {
			return err
		}
		return a.start()
	case ControlPause:
		if err := a.requireHost(identityID); err != nil {
			return err
		}
		if a.turn.Status != StatusRunning {
			return NewError(CodeInvalidTransition, "cannot pause while %s", a.turn.Status)
		}
		a.pausedBy = ""
		a.pause("host_pause")
		return nil
	case ControlResume:
		if err := a.requireHost(identityID); err != nil {
			return err
		}
		if a.turn.Status != StatusPaused {
			return NewError(CodeInvalidTransition, "cannot resume while %s", a.turn.Status)
		}
		a.resume()
		return nil
	case ControlYield:
		return a.yield(identityID)
	case ControlTerminate:
		if err := a.requireHost(identityID); err != nil {
			return err
		}
		a.terminate("host_terminate")
		return nil
	default:
		return NewError(CodeInvalidTransition, "unknown control event %q", ev)
	}
}

func (a *actor) requireHost(identityID string) error {
	if identityID != a.hostID {
		return NewError(CodeUnauthorized, "identity %s is not the room host", identityID)
	}
	return nil
}

func (a *actor) start() error {
	if a.turn.Status != StatusPending {
		return NewError(CodeInvalidTransition, "cannot start while %s", a.turn.Status)
	}
	if !debatersPresent(a.format, a.occupied) {
		return NewError(CodeParticipantsIncomplete, "all speaking roles must be filled before start")
	}

	phase := a.format.Phases[0]
	now := a.store.clock.Now()
	a.turn = TurnState{
		Phase:         0,
		Status:        StatusRunning,
		ActiveSpeaker: phase.Speaker,
		StartedAt:     now,
		Remaining:     phase.Duration,
		Epoch:         a.turn.Epoch + 1,
	}
	a.schedulePhaseTimer(phase.Duration)

	a.emit(events.TypeDebateStarted, events.DebateStartedPayload{
		Phase:            0,
		PhaseName:        phase.Name,
		ActiveSpeaker:    string(phase.Speaker),
		StartedAt:        now,
		DurationSec:      int(phase.Duration / time.Second),
		TimeRemainingSec: int(phase.Duration / time.Second),
	})
	return nil
}

// handlePhaseExpiry runs when a phase timer fires. The epoch check makes a
// stale firing, queued behind a transition that already happened, a no-op.
func (a *actor) handlePhaseExpiry(epoch uint64) {
	if a.terminated || a.turn.Status != StatusRunning || a.turn.Epoch != epoch {
		log.Debug().
			Str("room_id", a.id.String()).
			Uint64("fired_epoch", epoch).
			Uint64("current_epoch", a.turn.Epoch).
			Str("status", string(a.turn.Status)).
			Msg("stale phase timer ignored")
		return
	}
	a.advancePhase()
}

func (a *actor) advancePhase() {
	next := a.turn.Phase + 1
	if next >= len(a.format.Phases) {
		a.complete()
		return
	}

	phase := a.format.Phases[next]
	now := a.store.clock.Now()
	a.turn = TurnState{
		Phase:         next,
		Status:        StatusRunning,
		ActiveSpeaker: phase.Speaker,
		StartedAt:     now,
		Remaining:     phase.Duration,
		Epoch:         a.turn.Epoch + 1,
	}
	a.schedulePhaseTimer(phase.Duration)

	a.emit(events.TypePhaseAdvanced, events.PhaseAdvancedPayload{
		Phase:            next,
		PhaseName:        phase.Name,
		ActiveSpeaker:    string(phase.Speaker),
		StartedAt:        now,
		DurationSec:      int(phase.Duration / time.Second),
		TimeRemainingSec: int(phase.Duration / time.Second),
	})
}

// pause freezes the running phase and snapshots its remaining time. Time
// already spent is preserved, not reset.
func (a *actor) pause(reason string) {
	if a.turn.Status != StatusRunning {
		return
	}
	now := a.store.clock.Now()
	remaining := a.turn.StartedAt.Add(a.turn.Remaining).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	a.turn.Status = StatusPaused
	a.turn.Remaining = remaining
	a.turn.Epoch++
	a.cancelPhaseTimer()

	a.emit(events.TypeDebatePaused, events.PausedPayload{
		Reason:           reason,
		PausedAt:         now,
		TimeRemainingSec: int(remaining / time.Second),
	})
}

func (a *actor) resume() {
	if a.turn.Status != StatusPaused {
		return
	}
	now := a.store.clock.Now()
	a.turn.Status = StatusRunning
	a.turn.StartedAt = now
	a.turn.Epoch++
	a.pausedBy = ""
	a.schedulePhaseTimer(a.turn.Remaining)

	a.emit(events.TypeDebateResumed, events.ResumedPayload{
		ResumedAt:        now,
		TimeRemainingSec: int(a.turn.Remaining / time.Second),
	})
}

// yield transfers speaking privilege between the debaters inside an
// interruptible phase without touching the phase index or deadline.
func (a *actor) yield(identityID string) error {
	if a.turn.Status != StatusRunning {
		return NewError(CodeInvalidTransition, "cannot yield while %s", a.turn.Status)
	}
	phase := a.format.Phases[a.turn.Phase]
	if !phase.Interruptible {
		return NewError(CodeInvalidTransition, "phase %q is not interruptible", phase.Name)
	}

	p := a.findParticipant(identityID)
	isActiveSpeaker := p != nil && p.Role == a.turn.ActiveSpeaker
	if !isActiveSpeaker && identityID != a.hostID {
		return NewError(CodeUnauthorized, "only the active speaker or the host may yield")
	}

	other, ok := otherDebater(a.turn.ActiveSpeaker)
	if !ok {
		return NewError(CodeInvalidTransition, "active role %q cannot yield", a.turn.ActiveSpeaker)
	}
	a.turn.ActiveSpeaker = other

	a.emit(events.TypeTurnYielded, events.TurnYieldedPayload{
		Phase:         a.turn.Phase,
		ActiveSpeaker: string(other),
	})
	return nil
}

func (a *actor) complete() {
	a.turn.Status = StatusCompleted
	a.turn.ActiveSpeaker = ""
	a.turn.Epoch++
	a.cancelPhaseTimer()

	a.emit(events.TypeDebateCompleted, events.CompletedPayload{
		CompletedAt: a.store.clock.Now(),
		TotalPhases: len(a.format.Phases),
	})
	a.handoffSummary("")
}

// terminate is the terminal transition for a room: host terminate, empty
// room teardown or a fatal room error all end here. Subscribers get a
// final room_terminated delta, the summary is handed off if it has not
// been already, and the actor exits.
func (a *actor) terminate(reason string) {
	if a.terminated {
		return
	}
	a.cancelPhaseTimer()
	a.cancelTeardownTimer()

	a.emit(events.TypeRoomTerminated, events.TerminatedPayload{
		Reason:       reason,
		TerminatedAt: a.store.clock.Now(),
	})
	a.handoffSummary(reason)
	a.store.broadcaster.CloseRoom(a.id)
	a.terminated = true

	log.Info().
		Str("room_id", a.id.String()).
		Str("reason", reason).
		Msg("room terminated")
}

func (a *actor) handoffSummary(reason string) {
	if a.summarized {
		return
	}
	a.summarized = true

	roster := make([]RosterEntry, 0, len(a.participants))
	for _, p := range a.participants {
		roster = append(roster, RosterEntry{
			IdentityID:  p.Identity.ID,
			DisplayName: p.Identity.DisplayName,
			Role:        p.Role,
		})
	}
	summary := Summary{
		RoomID:      a.id,
		Format:      a.format.Name,
		Status:      a.turn.Status,
		Reason:      reason,
		Roster:      roster,
		FinalPhase:  a.turn.Phase,
		CreatedAt:   a.createdAt,
		CompletedAt: a.store.clock.Now(),
	}
	if err := a.store.sink.PublishSummary(a.store.ctx, summary); err != nil {
		log.Error().Err(err).
			Str("room_id", a.id.String()).
			Msg("failed to hand off room summary")
	}
}

// schedulePhaseTimer arms the one-shot phase timer for the current epoch.
func (a *actor) schedulePhaseTimer(d time.Duration) {
	a.cancelPhaseTimer()

	epoch := a.turn.Epoch
	timer := a.store.clock.NewTimer(d)
	cancel := make(chan struct{})
	a.phaseCancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			a.submitAsync(func() { a.handlePhaseExpiry(epoch) })
		case <-cancel:
			stopAndDrainTimer(timer)
		case <-a.closed:
			stopAndDrainTimer(timer)
		}
	}()
}

func (a *actor) cancelPhaseTimer() {
	if a.phaseCancel != nil {
		close(a.phaseCancel)
		a.phaseCancel = nil
	}
}

// startTeardownTimer begins the empty-room countdown. Any join or
// reconnect cancels it.
func (a *actor) startTeardownTimer() {
	a.cancelTeardownTimer()

	timer := a.store.clock.NewTimer(a.store.cfg.TeardownWindow)
	cancel := make(chan struct{})
	a.teardownCancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			a.submitAsync(func() {
				if !a.terminated && !a.anyConnected() {
					a.terminate("empty_room_teardown")
				}
			})
		case <-cancel:
			stopAndDrainTimer(timer)
		case <-a.closed:
			stopAndDrainTimer(timer)
		}
	}()
}

func (a *actor) cancelTeardownTimer() {
	if a.teardownCancel != nil {
		close(a.teardownCancel)
		a.teardownCancel = nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the watching
// goroutine cannot leak a buffered fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
