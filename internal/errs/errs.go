package errs

import "errors"

// Domain sentinel errors, mapped to HTTP status codes in handlers.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidDuration   = errors.New("invalid session duration")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrUnauthorized      = errors.New("caller is not the session publisher")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrAlreadyTerminal   = errors.New("session already stopped or expired")

	// ErrOutOfOrder marks an update whose timestamp is older than the stored
	// position. The update is dropped, not failed: transient network
	// reordering is expected and self-correcting.
	ErrOutOfOrder = errors.New("stale position update")
)
