package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/parley/internal/platform/metrics"
)

// ConsumerConfig holds configuration options for the consumer pool.
type ConsumerConfig struct {
	// Workers determines how many concurrent polling goroutines to start.
	// If zero or negative, defaults to 1.
	Workers int

	// BatchSize caps the deliveries handed to the handler at once.
	BatchSize int

	// BatchWait is how long a worker keeps filling a partial batch.
	BatchWait time.Duration

	// PollInterval is the pause after an empty receive.
	PollInterval time.Duration

	// LeaseRenewal is how often the leases of deliveries still being
	// handled are extended. It must be shorter than the transport's
	// visibility timeout. Zero disables renewal.
	LeaseRenewal time.Duration
}

// DefaultConsumerConfig returns a ConsumerConfig with reasonable defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:      2,
		BatchSize:    10,
		BatchWait:    200 * time.Millisecond,
		PollInterval: time.Second,
	}
}

// Consumer manages a pool of workers that drain a Transport into a
// BatchHandler and settle every delivery.
type Consumer struct {
	transport Transport
	handler   BatchHandler
	cfg       ConsumerConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// ctx stops the polling loops; batches already received run to completion.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerMetrics records dead-letter metrics.
func WithConsumerMetrics(m *metrics.Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer creates a consumer pool with the specified configuration.
func NewConsumer(
	transport Transport,
	handler BatchHandler,
	cfg ConsumerConfig,
	logger *slog.Logger,
	opts ...ConsumerOption,
) *Consumer {
	defaults := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.Workers,
			"default_count", 1)
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Consumer{
		transport: transport,
		handler:   handler,
		cfg:       cfg,
		logger:    logger.With("component", "queue_consumer"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.logger.Info("starting queue consumer",
		"workers", c.cfg.Workers,
		"batch_size", c.cfg.BatchSize,
		"batch_wait", c.cfg.BatchWait)

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
}

// Stop stops polling and waits for in-flight batches to be settled.
func (c *Consumer) Stop() {
	c.logger.Info("stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("queue consumer stopped")
}

func (c *Consumer) worker(id int) {
	defer c.wg.Done()

	logger := c.logger.With("worker_id", id)
	logger.Debug("starting worker")

	for {
		if c.ctx.Err() != nil {
			logger.Debug("stopping worker")
			return
		}

		n, err := c.Poll(c.ctx)
		if err != nil && c.ctx.Err() == nil {
			logger.Error("failed to receive jobs", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-c.ctx.Done():
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// Poll receives one batch, hands it to the handler and settles each
// delivery as soon as the handler reports it. It returns the number of
// deliveries processed. Cancelling ctx stops batch collection but not
// processing of deliveries already received.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	batch, err := c.collect(ctx)
	if len(batch) == 0 {
		return 0, err
	}

	// Received deliveries are leased; finish them even during shutdown.
	work := context.WithoutCancel(ctx)
	pending := newPendingSet(batch)

	stopRenewal := c.renewLeases(work, pending)
	c.handler.HandleBatch(work, batch, func(r Result) {
		if d, ok := pending.take(r.DeliveryID); ok {
			c.settle(work, d, r)
		}
	})
	stopRenewal()

	for _, d := range pending.drain() {
		c.settle(work, d, Retried(d, errMissingResult))
	}
	return len(batch), nil
}

// renewLeases extends the lease of every unsettled delivery each
// LeaseRenewal until the returned stop func is called.
func (c *Consumer) renewLeases(ctx context.Context, pending *pendingSet) (stop func()) {
	if c.cfg.LeaseRenewal <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(c.cfg.LeaseRenewal)
		defer tick.Stop()

		for {
			select {
			case <-done:
				return
			case <-tick.C:
			}
			for _, d := range pending.snapshot() {
				// Settlement may race the renewal; only a live delivery's failure matters.
				if err := c.transport.Extend(ctx, d); err != nil && pending.has(d.ID) {
					c.logger.WarnContext(ctx, "failed to extend delivery lease",
						"delivery_id", d.ID,
						"attempt", d.Attempt,
						"error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// collect fills a batch up to BatchSize, waiting at most BatchWait once
// the first delivery has arrived.
func (c *Consumer) collect(ctx context.Context) ([]Delivery, error) {
	batch, err := c.transport.Receive(ctx, c.cfg.BatchSize)
	if err != nil || len(batch) == 0 || c.cfg.BatchWait <= 0 {
		return batch, err
	}

	deadline := time.NewTimer(c.cfg.BatchWait)
	defer deadline.Stop()
	tick := time.NewTicker(max(c.cfg.BatchWait/4, time.Millisecond))
	defer tick.Stop()

	for len(batch) < c.cfg.BatchSize {
		select {
		case <-ctx.Done():
			return batch, nil
		case <-deadline.C:
			return batch, nil
		case <-tick.C:
			more, err := c.transport.Receive(ctx, c.cfg.BatchSize-len(batch))
			if err != nil {
				return batch, nil
			}
			batch = append(batch, more...)
		}
	}
	return batch, nil
}

func (c *Consumer) settle(ctx context.Context, d Delivery, r Result) {
	logger := c.logger.With("delivery_id", d.ID, "attempt", d.Attempt, "outcome", r.Outcome.String())

	var err error
	switch r.Outcome {
	case Ack:
		err = c.transport.Ack(ctx, d)
	case Discard:
		err = c.transport.Discard(ctx, d, r.Err)
	default:
		var dead bool
		dead, err = c.transport.Retry(ctx, d, r.Err)
		if err == nil && dead {
			c.metrics.JobDeadLettered()
			logger.ErrorContext(ctx, "job exhausted its attempts", "error", r.Err)
		}
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to settle delivery", "error", err)
	}
}

// pendingSet tracks the deliveries of one batch that are not settled yet.
type pendingSet struct {
	mu    sync.Mutex
	order []Delivery
	open  map[string]bool
}

func newPendingSet(batch []Delivery) *pendingSet {
	p := &pendingSet{
		order: batch,
		open:  make(map[string]bool, len(batch)),
	}
	for _, d := range batch {
		p.open[d.ID] = true
	}
	return p
}

// take marks id settled. It reports false for unknown or already settled ids.
func (p *pendingSet) take(id string) (Delivery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open[id] {
		return Delivery{}, false
	}
	delete(p.open, id)
	for _, d := range p.order {
		if d.ID == id {
			return d, true
		}
	}
	return Delivery{}, false
}

func (p *pendingSet) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[id]
}

// snapshot returns the unsettled deliveries in batch order.
func (p *pendingSet) snapshot() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Delivery, 0, len(p.open))
	for _, d := range p.order {
		if p.open[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

// drain marks every remaining delivery settled and returns them in batch order.
func (p *pendingSet) drain() []Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Delivery
	for _, d := range p.order {
		if p.open[d.ID] {
			out = append(out, d)
		}
	}
	clear(p.open)
	return out
}
