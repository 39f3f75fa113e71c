package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrMalformedJob is returned when a job payload cannot be decoded or
	// violates the required shape. Malformed jobs are never retried.
	ErrMalformedJob = errors.New("malformed job")

	// ErrEmptySessionID is returned when a job or request is missing its session id.
	ErrEmptySessionID = errors.New("session id cannot be empty")

	// ErrNoMessages is returned when a job carries no usable messages.
	ErrNoMessages = errors.New("job must contain at least one message")

	// ErrInvalidRole is returned when a message role is not recognized.
	ErrInvalidRole = errors.New("invalid message role")
)

// ValidationError describes a single field that failed validation.
// It unwraps to ErrMalformedJob so callers can treat all shape problems alike.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap allows errors.Is to match both ErrMalformedJob and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedJob, e.Err}
	}
	return []error{ErrMalformedJob}
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
