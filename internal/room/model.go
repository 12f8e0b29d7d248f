package room

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an opaque participant identity validated by the upstream
// auth layer. The coordinator performs no credential checking itself.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Host        bool   `json:"host"`
}

// Role is a named slot in a debate format, e.g. "debater-a" or "audience".
type Role string

const (
	RoleDebaterA Role = "debater-a"
	RoleDebaterB Role = "debater-b"
	RoleJudge    Role = "judge"
	RoleAudience Role = "audience"
)

// RoleSlot defines how many participants may hold a role at once.
// Capacity 0 means unbounded (audience).
type RoleSlot struct {
	Name     Role `json:"name" yaml:"name"`
	Capacity int  `json:"capacity" yaml:"capacity"`
}

// Phase is one timed interval of a format's timeline.
type Phase struct {
	Name          string        `json:"name" yaml:"name"`
	Speaker       Role          `json:"speaker" yaml:"speaker"`
	Duration      time.Duration `json:"duration" yaml:"-"`
	Interruptible bool          `json:"interruptible" yaml:"interruptible"`
}

// Format is the static template for a debate type: the role slots it
// offers and the ordered phases it runs through.
type Format struct {
	Name   string     `json:"name" yaml:"name"`
	Roles  []RoleSlot `json:"roles" yaml:"roles"`
	Phases []Phase    `json:"phases" yaml:"phases"`
}

// SlotCapacity returns the configured capacity for a role and whether the
// role exists in this format at all.
func (f Format) SlotCapacity(r Role) (int, bool) {
	for _, slot := range f.Roles {
		if slot.Name == r {
			return slot.Capacity, true
		}
	}
	return 0, false
}

// FormatSource resolves a format name to its definition.
type FormatSource interface {
	Get(name string) (Format, bool)
}

// Status is the lifecycle state of a room's turn machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// ControlEvent is a host- or speaker-issued command against a running room.
type ControlEvent string

const (
	ControlStart     ControlEvent = "start"
	ControlPause     ControlEvent = "pause"
	ControlResume    ControlEvent = "resume"
	ControlYield     ControlEvent = "yield"
	ControlTerminate ControlEvent = "terminate"
)

// Participant is a member of a room. Connected is false while the
// participant is inside the reconnection grace window.
type Participant struct {
	Identity  Identity  `json:"identity"`
	Role      Role      `json:"role"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joined_at"`
}

// TurnState tracks the authoritative speaking-turn machine for a room.
// Epoch increments on every transition; a phase timer firing with a stale
// epoch is ignored.
type TurnState struct {
	Phase         int           `json:"phase"`
	Status        Status        `json:"status"`
	ActiveSpeaker Role          `json:"active_speaker,omitempty"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Remaining     time.Duration `json:"-"`
	Epoch         uint64        `json:"-"`
}

// Snapshot is the full externally visible state of a room, tagged with the
// sequence number it was produced at.
type Snapshot struct {
	RoomID       uuid.UUID     `json:"room_id"`
	Format       string        `json:"format"`
	HostID       string        `json:"host_id"`
	Participants []Participant `json:"participants"`
	Turn         TurnView      `json:"turn"`
	Seq          uint64        `json:"seq"`
	CreatedAt    time.Time     `json:"created_at"`
}

// TurnView is the wire form of TurnState. Remaining time is reported in
// whole seconds computed against the server clock so clients never have to
// trust their own.
type TurnView struct {
	Phase            int    `json:"phase"`
	PhaseName        string `json:"phase_name,omitempty"`
	Status           Status `json:"status"`
	ActiveSpeaker    Role   `json:"active_speaker,omitempty"`
	TimeRemainingSec int    `json:"time_remaining_sec"`
}

// JoinResult is returned from a successful join: the role actually
// assigned plus the room state the joiner should render from.
type JoinResult struct {
	Role     Role     `json:"role"`
	Snapshot Snapshot `json:"snapshot"`
}

// RosterEntry is one participant line in a completed-room summary.
type RosterEntry struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Summary is the one-shot handoff to the external stats collaborator when
// a room completes or is terminated. The coordinator keeps nothing after
// this is published.
type Summary struct {
	RoomID      uuid.UUID     `json:"room_id"`
	Format      string        `json:"format"`
	Status      Status        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Roster      []RosterEntry `json:"roster"`
	FinalPhase  int           `json:"final_phase"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
}
