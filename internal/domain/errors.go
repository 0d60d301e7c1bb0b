package domain

import (
	"errors"
	"fmt"
)

// Rejection errors are surfaced synchronously by the control surface and
// never retried; the run is never started.
var (
	ErrAlreadyRunning      = errors.New("a batch run is already in progress")
	ErrEmptySelection      = errors.New("selection is empty")
	ErrRestartNotSupported = errors.New("host restart is not supported in this deployment")
	ErrInvalidLogLimit     = errors.New("log limit must not be negative")
)

// UnknownItemError reports a selected id that does not resolve to a pending
// update item in the current snapshot.
type UnknownItemError struct {
	ID string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("unknown or non-pending update item: %s", e.ID)
}

// PolicyBlockedError reports a run request blocked by the admission policy.
type PolicyBlockedError struct {
	Reason string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("run blocked by policy: %s", e.Reason)
}

// RejectionCode maps a rejection error to its machine-readable code, for the
// HTTP error envelope. Returns "" for non-rejection errors.
func RejectionCode(err error) string {
	var unknownItem *UnknownItemError
	var blocked *PolicyBlockedError
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrEmptySelection):
		return "empty_selection"
	case errors.As(err, &unknownItem):
		return "unknown_item"
	case errors.As(err, &blocked):
		return "policy_blocked"
	case errors.Is(err, ErrRestartNotSupported):
		return "not_applicable"
	}
	return ""
}
