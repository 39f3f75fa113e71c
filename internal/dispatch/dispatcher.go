// Package dispatch turns queued job batches into session actor invocations
// and publishes each reply to the result cache.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/parley/internal/actor"
	"github.com/phrazzld/parley/internal/cache"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/platform/logger"
	"github.com/phrazzld/parley/internal/platform/metrics"
	"github.com/phrazzld/parley/internal/queue"
)

// Router resolves the actor for a session.
type Router interface {
	Resolve(ctx context.Context, sessionID string) (*actor.Handle, error)
}

// Config holds dispatcher settings.
type Config struct {
	// Concurrency caps how many sessions of one batch run at once.
	Concurrency int

	// JobTimeout bounds one actor invocation. Zero means unbounded.
	JobTimeout time.Duration

	// ResultTTL is how long a published reply stays readable.
	ResultTTL time.Duration
}

// Dispatcher is the queue.BatchHandler for conversation jobs.
type Dispatcher struct {
	router  Router
	results cache.ResultCache
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ queue.BatchHandler = (*Dispatcher)(nil)

// New creates a Dispatcher. m may be nil.
func New(router Router, results cache.ResultCache, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = cache.DefaultTTL
	}
	return &Dispatcher{
		router:  router,
		results: results,
		cfg:     cfg,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// HandleBatch settles every delivery in batch, each as soon as it
// finishes. Malformed jobs are discarded without affecting the rest of the
// batch. Jobs of one session run in batch order; distinct sessions run
// concurrently.
func (d *Dispatcher) HandleBatch(ctx context.Context, batch []queue.Delivery, settle queue.SettleFunc) {
	jobs := make([]domain.Job, len(batch))

	groups := make(map[string][]int)
	var order []string
	for i, delivery := range batch {
		job, err := domain.DecodeJob(delivery.Payload)
		if err != nil {
			d.logger.WarnContext(ctx, "discarding malformed job",
				"delivery_id", delivery.ID,
				"attempt", delivery.Attempt,
				"error", err)
			d.metrics.JobSettled(metrics.OutcomeDiscard, 0)
			settle(queue.Discarded(delivery, err))
			continue
		}

		jobs[i] = job
		if _, seen := groups[job.SessionID]; !seen {
			order = append(order, job.SessionID)
		}
		groups[job.SessionID] = append(groups[job.SessionID], i)
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, sessionID := range order {
		indexes := groups[sessionID]
		g.Go(func() error {
			for _, i := range indexes {
				settle(d.handle(ctx, batch[i], jobs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, delivery queue.Delivery, job domain.Job) queue.Result {
	start := time.Now()
	ctx = logger.WithAttrs(ctx,
		slog.String("delivery_id", delivery.ID),
		slog.String("session_id", job.SessionID),
		slog.String("correlation_id", job.CorrelationID),
		slog.Int("attempt", delivery.Attempt))

	result := d.run(ctx, delivery, job)
	elapsed := time.Since(start)
	d.metrics.JobSettled(result.Outcome.String(), elapsed)

	switch result.Outcome {
	case queue.Ack:
		d.logger.InfoContext(ctx, "job completed", "duration_ms", elapsed.Milliseconds())
	case queue.Discard:
		d.logger.WarnContext(ctx, "job discarded", "error", result.Err)
	default:
		d.logger.WarnContext(ctx, "job failed, scheduling retry",
			"error", result.Err,
			"duration_ms", elapsed.Milliseconds())
	}
	return result
}

func (d *Dispatcher) run(ctx context.Context, delivery queue.Delivery, job domain.Job) queue.Result {
	h, err := d.router.Resolve(ctx, job.SessionID)
	if err != nil {
		return queue.Retried(delivery, err)
	}

	reply, err := h.Process(ctx, job.Messages, actor.Options{Timeout: d.cfg.JobTimeout})
	if errors.Is(err, domain.ErrMalformedJob) {
		return queue.Discarded(delivery, err)
	}
	if err != nil {
		return queue.Retried(delivery, err)
	}

	// The reply exists; a failed publish is reported but does not redo generation.
	if err := d.results.Put(ctx, job.SessionID, reply, d.cfg.ResultTTL); err != nil {
		d.metrics.CacheWriteFailed()
		d.logger.ErrorContext(ctx, "failed to publish job result", "error", err)
	}
	return queue.Acked(delivery)
}
