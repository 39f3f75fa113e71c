package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/parley/internal/domain"
)

// MemoryConfig holds configuration for the in-process transport.
type MemoryConfig struct {
	// Name and DeadLetterName label the queue and its dead-letter destination in logs.
	Name           string
	DeadLetterName string

	// Capacity bounds the number of jobs held, including leased and delayed ones.
	Capacity int

	// MaxAttempts is the number of deliveries before a retried job is dead-lettered.
	MaxAttempts int

	// RetryDelay is how long a retried job waits before redelivery.
	RetryDelay time.Duration

	// VisibilityTimeout is how long a delivery stays leased before it is
	// redelivered to another consumer.
	VisibilityTimeout time.Duration
}

// DefaultMemoryConfig returns a MemoryConfig with reasonable defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Name:              "parley-jobs",
		DeadLetterName:    "parley-jobs-dlq",
		Capacity:          1024,
		MaxAttempts:       3,
		RetryDelay:        5 * time.Second,
		VisibilityTimeout: 2 * time.Minute,
	}
}

type memoryEntry struct {
	id          string
	payload     []byte
	attempt     int
	enqueuedAt  time.Time
	availableAt time.Time
	leasedUntil time.Time
}

// Memory is an in-process Transport. Jobs do not survive a restart.
type Memory struct {
	cfg    MemoryConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	ready    []*memoryEntry
	delayed  []*memoryEntry
	inflight map[string]*memoryEntry
	dead     []DeadLetter
	closed   bool
}

var _ Transport = (*Memory)(nil)

// MemoryOption customizes a Memory transport.
type MemoryOption func(*Memory)

// WithMemoryClock replaces the time source used for delays and leases.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an in-process transport.
func NewMemory(cfg MemoryConfig, logger *slog.Logger, opts ...MemoryOption) *Memory {
	defaults := DefaultMemoryConfig()
	if cfg.Capacity <= 0 {
		logger.Warn("invalid queue capacity specified, using default",
			"specified_capacity", cfg.Capacity,
			"default_capacity", defaults.Capacity)
		cfg.Capacity = defaults.Capacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaults.VisibilityTimeout
	}

	m := &Memory{
		cfg:      cfg,
		logger:   logger.With("queue", cfg.Name),
		now:      time.Now,
		inflight: make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue adds a job to the queue.
// Returns an error if the queue is full or closed.
func (m *Memory) Enqueue(ctx context.Context, job domain.Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrQueueClosed
	}
	if m.lenLocked() >= m.cfg.Capacity {
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, m.cfg.Capacity)
	}

	now := m.now()
	entry := &memoryEntry{
		id:          uuid.NewString(),
		payload:     payload,
		enqueuedAt:  now,
		availableAt: now,
	}
	m.ready = append(m.ready, entry)

	m.logger.DebugContext(ctx, "job enqueued",
		"delivery_id", entry.id,
		"session_id", job.SessionID,
		"correlation_id", job.CorrelationID,
		"queue_len", m.lenLocked(),
		"queue_cap", m.cfg.Capacity)
	return nil
}

// Receive leases up to max ready deliveries.
func (m *Memory) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.promoteLocked(now)

	n := min(max, len(m.ready))
	if n == 0 {
		return nil, nil
	}

	out := make([]Delivery, 0, n)
	for _, e := range m.ready[:n] {
		e.attempt++
		e.leasedUntil = now.Add(m.cfg.VisibilityTimeout)
		m.inflight[e.id] = e
		out = append(out, Delivery{
			ID:         e.id,
			Payload:    append([]byte(nil), e.payload...),
			Attempt:    e.attempt,
			EnqueuedAt: e.enqueuedAt,
		})
	}
	m.ready = append(m.ready[:0:0], m.ready[n:]...)
	return out, nil
}

// promoteLocked moves due delayed jobs and expired leases back to ready.
func (m *Memory) promoteLocked(now time.Time) {
	var reclaimed []*memoryEntry
	for id, e := range m.inflight {
		if !now.Before(e.leasedUntil) {
			delete(m.inflight, id)
			reclaimed = append(reclaimed, e)
		}
	}
	if len(reclaimed) > 0 {
		m.logger.Warn("delivery lease expired, redelivering", "count", len(reclaimed))
	}

	remaining := m.delayed[:0]
	for _, e := range m.delayed {
		if now.Before(e.availableAt) {
			remaining = append(remaining, e)
			continue
		}
		reclaimed = append(reclaimed, e)
	}
	m.delayed = remaining

	sort.SliceStable(reclaimed, func(i, j int) bool {
		return reclaimed[i].enqueuedAt.Before(reclaimed[j].enqueuedAt)
	})
	m.ready = append(m.ready, reclaimed...)
}

func (m *Memory) leasedLocked(d Delivery) (*memoryEntry, error) {
	e, ok := m.inflight[d.ID]
	if !ok || e.attempt != d.Attempt {
		return nil, fmt.Errorf("%w: %s (attempt %d)", ErrUnknownDelivery, d.ID, d.Attempt)
	}
	return e, nil
}

func (m *Memory) takeLocked(d Delivery) (*memoryEntry, error) {
	e, err := m.leasedLocked(d)
	if err != nil {
		return nil, err
	}
	delete(m.inflight, d.ID)
	return e, nil
}

// Extend renews the lease on d for another visibility timeout.
func (m *Memory) Extend(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.leasedLocked(d)
	if err != nil {
		return err
	}
	e.leasedUntil = m.now().Add(m.cfg.VisibilityTimeout)
	return nil
}

// Ack removes a delivered job.
func (m *Memory) Ack(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.takeLocked(d)
	return err
}

// Retry redelivers d after the retry delay, or dead-letters it once it has
// been delivered MaxAttempts times.
func (m *Memory) Retry(ctx context.Context, d Delivery, cause error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.takeLocked(d)
	if err != nil {
		return false, err
	}

	now := m.now()
	if e.attempt >= m.cfg.MaxAttempts {
		m.dead = append(m.dead, DeadLetter{
			ID:         e.id,
			Payload:    e.payload,
			Attempts:   e.attempt,
			Reason:     ErrorText(cause),
			EnqueuedAt: e.enqueuedAt,
			FailedAt:   now,
		})
		m.logger.ErrorContext(ctx, "job moved to dead-letter queue",
			"delivery_id", e.id,
			"dead_letter_queue", m.cfg.DeadLetterName,
			"attempts", e.attempt,
			"error", cause)
		return true, nil
	}

	e.availableAt = now.Add(m.cfg.RetryDelay)
	m.delayed = append(m.delayed, e)
	m.logger.DebugContext(ctx, "job scheduled for redelivery",
		"delivery_id", e.id,
		"attempt", e.attempt,
		"retry_at", e.availableAt)
	return false, nil
}

// Discard drops a delivered job.
func (m *Memory) Discard(ctx context.Context, d Delivery, reason error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.takeLocked(d); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "job discarded", "delivery_id", d.ID, "reason", reason)
	return nil
}

// DeadLetters returns dead-lettered jobs, oldest first.
func (m *Memory) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]DeadLetter(nil), m.dead[:n]...), nil
}

// Len returns the number of jobs held, including leased and delayed ones.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Memory) lenLocked() int {
	return len(m.ready) + len(m.delayed) + len(m.inflight)
}

// Close stops the queue from accepting jobs. Jobs already held can still
// be received and settled.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		m.logger.Info("job queue closed")
	}
}
