package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process ResultCache. Expired entries are hidden on read
// and removed by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	logger  *slog.Logger
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory cache.
func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put implements ResultCache.
func (m *Memory) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: %w", ErrCacheWrite, ErrEmptyKey)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: %w", ErrCacheWrite, ErrInvalidTTL)
	}

	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Get implements ResultCache.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0

	m.mu.Lock()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && m.logger != nil {
				m.logger.Debug("swept expired results", "removed", n)
			}
		}
	}
}
