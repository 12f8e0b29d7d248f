package gateway

import (
	"github.com/dialectica/realtime/internal/room"
	"github.com/dialectica/realtime/internal/room/events"
)

// Client command types. Each command carries a request_id that is echoed
// on the reply so clients can correlate.
const (
	CmdCreateRoom    = "create_room"
	CmdJoinRoom      = "join_room"
	CmdLeaveRoom     = "leave_room"
	CmdStart         = "start"
	CmdPause         = "pause"
	CmdResume        = "resume"
	CmdYieldTurn     = "yield_turn"
	CmdTerminateRoom = "terminate_room"
	CmdResync        = "resync"
)

// Server frame types.
const (
	FrameReply      = "reply"
	FrameStateDelta = "state_delta"
	FrameSnapshot   = "snapshot"
)

// ClientCommand is one inbound JSON frame from a client.
type ClientCommand struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Format    string `json:"format,omitempty"`
	RoomID    string `json:"room_id,omitempty"`
	Role      string `json:"role,omitempty"`
	LastSeq   uint64 `json:"last_seq,omitempty"`
}

// Reply answers exactly one client command.
type Reply struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Error     *ErrorBody     `json:"error,omitempty"`
	Role      room.Role      `json:"role,omitempty"`
	Snapshot  *room.Snapshot `json:"snapshot,omitempty"`
}

// ErrorBody carries a protocol error code from the room error taxonomy.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeltaFrame is one unsolicited sequenced state change pushed to every
// subscriber of a room. Clients must ignore any delta whose seq is not
// greater than the seq of the last snapshot or delta they applied; after
// a forced resync the snapshot supersedes everything queued before it.
type DeltaFrame struct {
	Type  string            `json:"type"`
	Delta events.StateDelta `json:"delta"`
}

// SnapshotFrame carries a full room snapshot tagged with the sequence it
// was produced at. Sent on subscribe, on resync, and when a connection
// falls too far behind the delta stream.
type SnapshotFrame struct {
	Type     string        `json:"type"`
	Snapshot room.Snapshot `json:"snapshot"`
}

func errorReply(requestID string, err error) Reply {
	return Reply{
		Type:      FrameReply,
		RequestID: requestID,
		OK:        false,
		Error: &ErrorBody{
			Code:    string(room.ErrorCode(err)),
			Message: err.Error(),
		},
	}
}

func okReply(requestID string) Reply {
	return Reply{Type: FrameReply, RequestID: requestID, OK: true}
}
