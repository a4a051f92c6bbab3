package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrTicketNotFound is returned when the dispatched ticket does not exist.
	ErrTicketNotFound = errors.New("dispatch: ticket not found")

	// ErrTurnLimitExceeded is returned when the conversation does not converge
	// within the turn budget. Never retried.
	ErrTurnLimitExceeded = errors.New("dispatch: turn limit exceeded")

	// ErrDispatchInProgress is returned when another dispatch holds the
	// per-ticket apply lock. The caller may re-dispatch later.
	ErrDispatchInProgress = errors.New("dispatch: another dispatch is in progress for this ticket")
)

// ValidationError is a structured rejection from the output validator.
// Offending carries the fabricated identifier for referential failures.
type ValidationError struct {
	Reason    string
	Offending string
}

func (e *ValidationError) Error() string {
	if e.Offending != "" {
		return fmt.Sprintf("invalid decision: %s: %q", e.Reason, e.Offending)
	}
	return "invalid decision: " + e.Reason
}

// ConflictError is an apply-phase failure: a resource referenced by the
// decision vanished between validation and apply.
type ConflictError struct {
	TicketID string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dispatch apply conflict for ticket %s: %v", e.TicketID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }
