package engine

import "errors"

var (
	// ErrSlotUnavailable is returned when the commit-time conflict check finds
	// an overlapping non-terminal appointment.
	ErrSlotUnavailable = errors.New("time slot unavailable")

	// ErrOutOfHours is returned when the requested interval falls outside the
	// clinic's operating hours for that date.
	ErrOutOfHours = errors.New("outside clinic hours")

	// ErrInPast is returned when the requested slot has already started.
	ErrInPast = errors.New("slot is in the past")

	// ErrInvalidStateTransition is returned when the operation is not legal
	// for the appointment's current status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrNotFound = errors.New("appointment not found")

	// ErrValidation covers malformed input: inverted or misaligned intervals,
	// missing identifiers, unknown statuses.
	ErrValidation = errors.New("invalid request")
)
