package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds surfaced by the session core. Callers match with errors.Is.
var (
	// ErrActiveSessionExists: another start holds the actor lock.
	ErrActiveSessionExists = errors.New("active session exists")
	// ErrNoActiveSession: Attempt, End or Status without an active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrSubjectNotFound: the subject is not in the catalog.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrInvalidInput: rejected before any state mutation.
	ErrInvalidInput = errors.New("invalid input")
)

// NewInvalidInput formats a message wrapped as ErrInvalidInput.
func NewInvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
