package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/parley/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(t *testing.T, sessionID, text string) domain.Job {
	t.Helper()
	job, err := domain.NewJob(sessionID, []domain.Message{{Role: domain.RoleUser, Content: text}})
	require.NoError(t, err)
	return job
}

func newTestMemory(clock *fakeClock, mutate func(*MemoryConfig)) *Memory {
	cfg := DefaultMemoryConfig()
	cfg.RetryDelay = 10 * time.Second
	cfg.VisibilityTimeout = time.Minute
	if mutate != nil {
		mutate(&cfg)
	}
	return NewMemory(cfg, testLogger(), WithMemoryClock(clock.Now))
}

func TestMemoryEnqueueReceiveAck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestMemory(newFakeClock(), nil)

	first := testJob(t, "s1", "one")
	second := testJob(t, "s1", "two")
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	batch, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	decoded, err := domain.DecodeJob(batch[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, decoded.CorrelationID, "deliveries keep enqueue order")
	assert.Equal(t, 1, batch[0].Attempt)

	empty, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty, "leased jobs are not delivered twice")

	for _, d := range batch {
		require.NoError(t, q.Ack(ctx, d))
	}
	assert.Equal(t, 0, q.Len())
	assert.ErrorIs(t, q.Ack(ctx, batch[0]), ErrUnknownDelivery)
}

func TestMemoryCapacityAndClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestMemory(newFakeClock(), func(c *MemoryConfig) { c.Capacity = 1 })

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "one")))
	assert.ErrorIs(t, q.Enqueue(ctx, testJob(t, "s1", "two")), ErrQueueFull)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(ctx, testJob(t, "s1", "three")), ErrQueueClosed)

	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, batch, 1, "held jobs remain receivable after close")
}

func TestMemoryRetryRedeliversVerbatimAfterDelay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestMemory(clock, nil)

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	dead, err := q.Retry(ctx, batch[0], errors.New("upstream unavailable"))
	require.NoError(t, err)
	assert.False(t, dead)

	none, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none, "retry delay has not elapsed")

	clock.Advance(10 * time.Second)
	again, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, batch[0].ID, again[0].ID)
	assert.Equal(t, batch[0].Payload, again[0].Payload)
	assert.Equal(t, 2, again[0].Attempt)
}

func TestMemoryDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestMemory(clock, func(c *MemoryConfig) {
		c.MaxAttempts = 2
		c.RetryDelay = 0
	})

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))

	var dead bool
	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := q.Receive(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.Equal(t, attempt, batch[0].Attempt)

		dead, err = q.Retry(ctx, batch[0], errors.New("boom"))
		require.NoError(t, err)
	}
	assert.True(t, dead)
	assert.Equal(t, 0, q.Len())

	letters, err := q.DeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 2, letters[0].Attempts)
	assert.Equal(t, "boom", letters[0].Reason)

	_, err = domain.DecodeJob(letters[0].Payload)
	assert.NoError(t, err)
}

func TestMemoryDiscardSkipsDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := newTestMemory(newFakeClock(), nil)

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))
	batch, err := q.Receive(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Discard(ctx, batch[0], domain.ErrMalformedJob))
	assert.Equal(t, 0, q.Len())

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestMemoryExpiredLeaseIsRedelivered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestMemory(clock, nil)

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))
	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(time.Minute)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Attempt)

	assert.ErrorIs(t, q.Ack(ctx, first[0]), ErrUnknownDelivery, "stale lease cannot settle")
	require.NoError(t, q.Ack(ctx, second[0]))
}

func TestMemoryExtendKeepsLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestMemory(clock, nil)

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))
	leased, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	clock.Advance(40 * time.Second)
	require.NoError(t, q.Extend(ctx, leased[0]))
	clock.Advance(40 * time.Second)

	again, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, again, "extended lease must not be redelivered")
	require.NoError(t, q.Ack(ctx, leased[0]))

	assert.ErrorIs(t, q.Extend(ctx, leased[0]), ErrUnknownDelivery, "settled delivery cannot be extended")
}

func TestMemoryExtendRejectsStaleAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestMemory(clock, nil)

	require.NoError(t, q.Enqueue(ctx, testJob(t, "s1", "hello")))
	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(time.Minute)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.ErrorIs(t, q.Extend(ctx, first[0]), ErrUnknownDelivery)
	assert.NoError(t, q.Extend(ctx, second[0]))
}

func TestMemoryReceiveHonorsContext(t *testing.T) {
	t.Parallel()
	q := newTestMemory(newFakeClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
