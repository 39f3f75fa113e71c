// Package cache publishes session results for polling clients.
//
// A ResultCache is a key-value store with per-entry expiry. Writes overwrite
// (last writer wins), and reads of expired or unknown keys report not found
// rather than an error.
package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a published result stays readable.
const DefaultTTL = 3600 * time.Second

// Common cache errors
var (
	// ErrCacheWrite is returned when a result cannot be stored.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheRead is returned when the backend cannot be queried.
	ErrCacheRead = errors.New("cache read failed")

	// ErrInvalidTTL is returned for non-positive expiry durations.
	ErrInvalidTTL = errors.New("ttl must be positive")

	// ErrEmptyKey is returned when a key is blank.
	ErrEmptyKey = errors.New("cache key cannot be empty")
)

// ResultCache stores the latest result per session.
type ResultCache interface {
	// Put stores value under key for ttl, replacing any previous value.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key. found is false when the key was never
	// written or its ttl has elapsed.
	Get(ctx context.Context, key string) (value string, found bool, err error)
}
