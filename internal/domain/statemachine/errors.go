package statemachine

import "errors"

var (
	// ErrValidation input dari caller tidak valid
	ErrValidation = errors.New("validation error")
	// ErrInvariantViolation means an operation would break a state machine or orchestrator invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrUnknownStatus means no handler is registered for a status or kind.
	ErrUnknownStatus   = errors.New("unknown status")
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrNotFound        = errors.New("not found")
)
