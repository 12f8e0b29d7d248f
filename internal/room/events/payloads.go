// Package events holds the sequenced state-delta envelope and its typed
// payloads. It is shared between the room store and the gateway so neither
// has to import the other.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeltaType labels one kind of room state change.
type DeltaType string

const (
	TypeRoomCreated            DeltaType = "room_created"
	TypeParticipantJoined      DeltaType = "participant_joined"
	TypeParticipantLeft        DeltaType = "participant_left"
	TypeParticipantDisconnect  DeltaType = "participant_disconnected"
	TypeParticipantReconnected DeltaType = "participant_reconnected"
	TypeDebateStarted          DeltaType = "debate_started"
	TypePhaseAdvanced          DeltaType = "phase_advanced"
	TypeDebatePaused           DeltaType = "debate_paused"
	TypeDebateResumed          DeltaType = "debate_resumed"
	TypeTurnYielded            DeltaType = "turn_yielded"
	TypeDebateCompleted        DeltaType = "debate_completed"
	TypeRoomTerminated         DeltaType = "room_terminated"
)

// StateDelta is one sequenced, minimal description of a room state change.
// Seq is strictly increasing per room and every delta carries the sequence
// the mutation produced.
type StateDelta struct {
	ID        string          `json:"id"`
	RoomID    uuid.UUID       `json:"room_id"`
	Seq       uint64          `json:"seq"`
	Type      DeltaType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParticipantPayload describes a join, leave, disconnect or reconnect.
type ParticipantPayload struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// DebateStartedPayload is emitted on the pending -> running transition.
type DebateStartedPayload struct {
	Phase            int       `json:"phase"`
	PhaseName        string    `json:"phase_name"`
	ActiveSpeaker    string    `json:"active_speaker"`
	StartedAt        time.Time `json:"started_at"`
	DurationSec      int       `json:"duration_sec"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// PhaseAdvancedPayload is emitted when the timer drives the room into the
// next phase.
type PhaseAdvancedPayload struct {
	Phase            int       `json:"phase"`
	PhaseName        string    `json:"phase_name"`
	ActiveSpeaker    string    `json:"active_speaker"`
	StartedAt        time.Time `json:"started_at"`
	DurationSec      int       `json:"duration_sec"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// PausedPayload is emitted on host pause or active-speaker disconnect.
type PausedPayload struct {
	Reason           string    `json:"reason"`
	PausedAt         time.Time `json:"paused_at"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// ResumedPayload is emitted on host resume or speaker reconnect. The
// remaining time picks up from the paused snapshot, never a fresh duration.
type ResumedPayload struct {
	ResumedAt        time.Time `json:"resumed_at"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
}

// TurnYieldedPayload is emitted when speaking privilege moves between the
// debaters inside an interruptible phase.
type TurnYieldedPayload struct {
	Phase         int    `json:"phase"`
	ActiveSpeaker string `json:"active_speaker"`
}

// CompletedPayload is emitted when the final phase elapses.
type CompletedPayload struct {
	CompletedAt time.Time `json:"completed_at"`
	TotalPhases int       `json:"total_phases"`
}

// TerminatedPayload is the terminal delta for a room, whether from a host
// terminate, empty-room teardown or a fatal room error.
type TerminatedPayload struct {
	Reason       string    `json:"reason"`
	TerminatedAt time.Time `json:"terminated_at"`
}

// New builds a delta with a fresh event ID, marshalling the payload.
// Marshal failures are impossible for the payload types above, so the
// error is swallowed into an empty Data field.
func New(roomID uuid.UUID, seq uint64, t DeltaType, at time.Time, payload any) StateDelta {
	var data json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			data = b
		}
	}
	return StateDelta{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Seq:       seq,
		Type:      t,
		Timestamp: at,
		Data:      data,
	}
}
