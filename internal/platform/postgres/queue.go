package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/parley/internal/config"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/platform/logger"
	"github.com/phrazzld/parley/internal/queue"
	"github.com/phrazzld/parley/internal/store"
)

const (
	insertJobQuery = `
		INSERT INTO parley_jobs (id, queue, payload, enqueued_at, available_at)
		VALUES ($1, $2, $3, $4, $4)
	`

	// receiveQuery leases ready rows. Rows whose lease expired are ready again.
	receiveQuery = `
		WITH next AS (
			SELECT id
			FROM parley_jobs
			WHERE queue = $1
			  AND available_at <= NOW()
			  AND (leased_until IS NULL OR leased_until <= NOW())
			ORDER BY enqueued_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE parley_jobs AS j
		SET attempts = j.attempts + 1,
		    leased_until = NOW() + $3 * INTERVAL '1 millisecond'
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.payload, j.attempts, j.enqueued_at
	`

	// extendLeaseQuery only matches rows still leased at the delivered attempt.
	extendLeaseQuery = `
		UPDATE parley_jobs
		SET leased_until = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE id = $1 AND attempts = $2 AND leased_until IS NOT NULL
	`

	deleteLeasedQuery = `
		DELETE FROM parley_jobs
		WHERE id = $1 AND attempts = $2
	`

	lockLeasedQuery = `
		SELECT payload, attempts, enqueued_at
		FROM parley_jobs
		WHERE id = $1 AND attempts = $2
		FOR UPDATE
	`

	rescheduleQuery = `
		UPDATE parley_jobs
		SET available_at = NOW() + $2 * INTERVAL '1 millisecond',
		    leased_until = NULL,
		    last_error = $3
		WHERE id = $1
	`

	insertDeadLetterQuery = `
		INSERT INTO parley_dead_letters (id, queue, payload, attempts, reason, enqueued_at, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`

	listDeadLettersQuery = `
		SELECT id, payload, attempts, reason, enqueued_at, failed_at
		FROM parley_dead_letters
		WHERE queue = $1
		ORDER BY failed_at, id
	`
)

// Queue is a durable queue.Transport backed by PostgreSQL.
type Queue struct {
	db     *sql.DB
	cfg    config.QueueConfig
	logger *slog.Logger
}

var _ queue.Transport = (*Queue)(nil)

// NewQueue creates a transport over the parley_jobs tables.
func NewQueue(db *sql.DB, cfg config.QueueConfig, logger *slog.Logger) *Queue {
	return &Queue{
		db:     db,
		cfg:    cfg,
		logger: logger.With("queue", cfg.Name),
	}
}

// Enqueue persists a job. It returns once the row is committed.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}

	enqueuedAt := job.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}

	id := uuid.New()
	if _, err := q.db.ExecContext(ctx, insertJobQuery, id, q.cfg.Name, payload, enqueuedAt); err != nil {
		q.log(ctx).Error("failed to enqueue job",
			"session_id", job.SessionID,
			"correlation_id", job.CorrelationID,
			"error", err)
		return store.NewStoreError("job", "enqueue", MapError(err))
	}

	q.log(ctx).Debug("job enqueued",
		"delivery_id", id.String(),
		"session_id", job.SessionID,
		"correlation_id", job.CorrelationID)
	return nil
}

// Receive leases up to max ready jobs for the visibility timeout.
func (q *Queue) Receive(ctx context.Context, max int) ([]queue.Delivery, error) {
	if max <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx, receiveQuery, q.cfg.Name, max, q.cfg.VisibilityTimeout.Milliseconds())
	if err != nil {
		return nil, store.NewStoreError("job", "receive", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []queue.Delivery
	for rows.Next() {
		var (
			id uuid.UUID
			d  queue.Delivery
		)
		if err := rows.Scan(&id, &d.Payload, &d.Attempt, &d.EnqueuedAt); err != nil {
			return nil, store.NewStoreError("job", "receive", err)
		}
		d.ID = id.String()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("job", "receive", MapError(err))
	}

	// RETURNING does not preserve the lease order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Extend renews the lease on d for another visibility timeout.
func (q *Queue) Extend(ctx context.Context, d queue.Delivery) error {
	result, err := q.db.ExecContext(ctx, extendLeaseQuery, d.ID, d.Attempt, q.cfg.VisibilityTimeout.Milliseconds())
	if err != nil {
		return store.NewStoreError("job", "extend", MapError(err))
	}
	return store.NewStoreError("job", "extend", checkRowsAffected(result, store.ErrJobNotFound))
}

// Ack deletes a leased job.
func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	return q.deleteLeased(ctx, d, "ack")
}

// Discard deletes a leased job without dead-lettering it.
func (q *Queue) Discard(ctx context.Context, d queue.Delivery, reason error) error {
	if err := q.deleteLeased(ctx, d, "discard"); err != nil {
		return err
	}
	q.log(ctx).Debug("job discarded", "delivery_id", d.ID, "reason", reason)
	return nil
}

func (q *Queue) deleteLeased(ctx context.Context, d queue.Delivery, op string) error {
	result, err := removeLeased(ctx, q.db, d.ID, d.Attempt)
	if err != nil {
		return store.NewStoreError("job", op, MapError(err))
	}
	return store.NewStoreError("job", op, checkRowsAffected(result, store.ErrJobNotFound))
}

// removeLeased deletes the job row still leased at the given attempt.
func removeLeased(ctx context.Context, db store.DBTX, id string, attempt int) (sql.Result, error) {
	return db.ExecContext(ctx, deleteLeasedQuery, id, attempt)
}

// Retry reschedules a leased job after the retry delay, or moves it to the
// dead-letter table once it has been delivered MaxAttempts times. Both
// paths run in one transaction.
func (q *Queue) Retry(ctx context.Context, d queue.Delivery, cause error) (bool, error) {
	var dead bool
	err := store.RunInTransaction(ctx, q.db, func(ctx context.Context, tx *sql.Tx) error {
		var (
			payload    []byte
			attempts   int
			enqueuedAt time.Time
		)
		err := tx.QueryRowContext(ctx, lockLeasedQuery, d.ID, d.Attempt).Scan(&payload, &attempts, &enqueuedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return MapError(err)
		}

		if attempts < q.cfg.MaxAttempts {
			_, err := tx.ExecContext(ctx, rescheduleQuery, d.ID, q.cfg.RetryDelay.Milliseconds(), queue.ErrorText(cause))
			return MapError(err)
		}

		if _, err := tx.ExecContext(ctx, insertDeadLetterQuery,
			d.ID, q.cfg.DeadLetterName, payload, attempts, queue.ErrorText(cause), enqueuedAt,
		); err != nil {
			return MapError(err)
		}
		if _, err := removeLeased(ctx, tx, d.ID, attempts); err != nil {
			return MapError(err)
		}
		dead = true
		return nil
	})
	if err != nil {
		return false, store.NewStoreError("job", "retry", err)
	}

	if dead {
		q.log(ctx).Error("job moved to dead-letter queue",
			"delivery_id", d.ID,
			"dead_letter_queue", q.cfg.DeadLetterName,
			"attempts", d.Attempt,
			"error", cause)
	} else {
		q.log(ctx).Debug("job scheduled for redelivery",
			"delivery_id", d.ID,
			"attempt", d.Attempt,
			"retry_delay", q.cfg.RetryDelay)
	}
	return dead, nil
}

// DeadLetters lists dead-lettered jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	query := listDeadLettersQuery
	args := []any{q.cfg.DeadLetterName}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("dead_letter", "list", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []queue.DeadLetter
	for rows.Next() {
		var (
			id uuid.UUID
			dl queue.DeadLetter
		)
		if err := rows.Scan(&id, &dl.Payload, &dl.Attempts, &dl.Reason, &dl.EnqueuedAt, &dl.FailedAt); err != nil {
			return nil, store.NewStoreError("dead_letter", "list", err)
		}
		dl.ID = id.String()
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("dead_letter", "list", MapError(err))
	}
	return out, nil
}

func (q *Queue) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, q.logger)
}
