package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoCredential      = errors.New("no matching credential")
)

// ValidationError is returned for malformed requests, before any run exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError wraps ErrInvalidTransition with the attempted move.
type TransitionError struct {
	From RunStatus
	To   RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
