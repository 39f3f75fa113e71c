package service

import (
	"errors"
	"fmt"
)

var (
	// ErrEnqueueFailed indicates the transport rejected a job.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrEnqueueFailed = errors.New("failed to enqueue job")

	// ErrResultUnavailable indicates the result cache could not be read.
	// API layer should map this to HTTP 503 Service Unavailable.
	ErrResultUnavailable = errors.New("result store unavailable")
)

// JobServiceError wraps errors from the job service with context.
type JobServiceError struct {
	// Operation is the operation that failed (e.g., "enqueue", "result")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface.
func (e *JobServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("job service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error.
func (e *JobServiceError) Unwrap() error {
	return e.Err
}

// NewJobServiceError creates a JobServiceError.
func NewJobServiceError(operation, message string, err error) *JobServiceError {
	return &JobServiceError{Operation: operation, Message: message, Err: err}
}
