package session

import "errors"

var (
	// ErrNotFound is returned for operations on an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when the caller is not the session owner.
	ErrUnauthorized = errors.New("caller is not the session owner")
	// ErrInvalidTransition is returned when an operation is not legal from
	// the session's current state (e.g. pause while already paused).
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrAlreadyEnded is returned for any operation on an ended session.
	ErrAlreadyEnded = errors.New("session already ended")
)
