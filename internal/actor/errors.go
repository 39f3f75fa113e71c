package actor

import "errors"

var (
	// ErrConfiguration is returned when an actor cannot be bound to its
	// generation backend. It is not cached; the next resolve tries again.
	ErrConfiguration = errors.New("actor configuration error")

	// errRetired signals that an actor was evicted between lookup and use.
	errRetired = errors.New("actor retired")
)
