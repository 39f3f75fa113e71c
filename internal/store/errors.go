package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an insert would violate a unique constraint.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when a record violates a schema constraint.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a transaction cannot begin or commit.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrJobNotFound indicates that a leased job no longer exists.
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)
)

// StoreError adds the entity and operation to a store failure.
type StoreError struct {
	Entity    string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation on %s failed: %v", e.Operation, e.Entity, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError. A nil err yields nil.
func NewStoreError(entity, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Entity: entity, Operation: operation, Err: err}
}
