package room

import (
	"errors"
	"fmt"
)

// Code identifies a protocol-level failure. Codes are stable strings sent
// back to the issuing connection; they never tear down the room.
type Code string

const (
	CodeRoomNotFound           Code = "room_not_found"
	CodeSlotUnavailable        Code = "slot_unavailable"
	CodeAlreadyJoined          Code = "already_joined"
	CodeParticipantsIncomplete Code = "participants_incomplete"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeUnauthorized           Code = "unauthorized"

	// CodeStaleSequence is internal only. It triggers a snapshot resync
	// and is never surfaced to a client as a failure.
	CodeStaleSequence Code = "stale_sequence"

	// CodeInternal covers unexpected failures that are not part of the
	// protocol taxonomy.
	CodeInternal Code = "internal"
)

// Error is a recoverable coordinator error carrying its protocol code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with a formatted message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the protocol code from an error.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
