package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/parley/internal/actor"
	"github.com/phrazzld/parley/internal/cache"
	"github.com/phrazzld/parley/internal/config"
	"github.com/phrazzld/parley/internal/dispatch"
	"github.com/phrazzld/parley/internal/gateway"
	"github.com/phrazzld/parley/internal/platform/llm"
	"github.com/phrazzld/parley/internal/platform/logger"
	"github.com/phrazzld/parley/internal/platform/metrics"
	"github.com/phrazzld/parley/internal/platform/postgres"
	"github.com/phrazzld/parley/internal/platform/redis"
	"github.com/phrazzld/parley/internal/queue"
	"github.com/phrazzld/parley/internal/service"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Result cache; memCache is set when the in-process backend is selected.
	results  cache.ResultCache
	memCache *cache.Memory
	redis    *goredis.Client

	// Job transport; memQueue is set when the in-process backend is selected.
	transport queue.Transport
	memQueue  *queue.Memory
	db        *sql.DB

	router     *actor.Router
	dispatcher *dispatch.Dispatcher
	consumer   *queue.Consumer
	gateway    *gateway.Gateway
	jobService service.JobService

	cleanupOnce sync.Once
}

// setupLogger configures the process-wide JSON logger.
func setupLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return l, nil
}

// newApplication sets up logging and builds every component named by cfg.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	l, err := setupLogger(cfg)
	if err != nil {
		return nil, err
	}
	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend,
		"cache_backend", cfg.Cache.Backend,
		"llm_provider", cfg.LLM.Provider,
		"stub_mode", cfg.LLM.StubMode)

	return buildApplication(ctx, cfg, l, prometheus.NewRegistry())
}

// buildApplication wires the pipeline. On failure any connection already
// opened is closed before returning.
func buildApplication(
	ctx context.Context,
	cfg *config.Config,
	l *slog.Logger,
	registry *prometheus.Registry,
) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   l,
		registry: registry,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(registry)

	if err := app.setupCache(ctx); err != nil {
		app.cleanup()
		return nil, err
	}
	if err := app.setupTransport(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.router = actor.NewRouter(
		actor.Config{
			StubMode: cfg.LLM.StubMode,
			Binding:  cfg.LLM.Binding(),
			Services: cfg.Actor.Services,
		},
		llm.Factory(l.With("component", "llm")),
		l,
		actor.WithMetrics(app.metrics),
	)

	app.dispatcher = dispatch.New(app.router, app.results, dispatch.Config{
		Concurrency: cfg.Queue.Concurrency,
		JobTimeout:  cfg.LLM.Timeout,
		ResultTTL:   cfg.Cache.TTL,
	}, l, app.metrics)

	app.consumer = queue.NewConsumer(app.transport, app.dispatcher, queue.ConsumerConfig{
		Workers:      cfg.Queue.Consumers,
		BatchSize:    cfg.Queue.BatchSize,
		BatchWait:    cfg.Queue.BatchWait,
		PollInterval: cfg.Queue.PollInterval,
		LeaseRenewal: cfg.Queue.VisibilityTimeout / 3,
	}, l, queue.WithConsumerMetrics(app.metrics))

	app.gateway = gateway.New(app.router, cfg.LLM.Timeout, l, app.metrics)

	svc, err := service.NewJobService(app.transport, app.results, l)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}
	app.jobService = svc

	return app, nil
}

func (app *application) setupCache(ctx context.Context) error {
	switch app.config.Cache.Backend {
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, app.config.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redis = client
		app.results = redis.NewCache(client, app.config.Redis.KeyPrefix)
		app.logger.Info("result cache ready", "backend", config.BackendRedis, "addr", app.config.Redis.Addr)
	default:
		app.memCache = cache.NewMemory(app.logger)
		app.results = app.memCache
		app.logger.Info("result cache ready", "backend", config.BackendMemory)
	}
	return nil
}

func (app *application) setupTransport(ctx context.Context) error {
	qcfg := app.config.Queue
	switch qcfg.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, app.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.db = db
		app.transport = postgres.NewQueue(db, qcfg, app.logger)
	default:
		app.memQueue = queue.NewMemory(queue.MemoryConfig{
			Name:              qcfg.Name,
			DeadLetterName:    qcfg.DeadLetterName,
			Capacity:          qcfg.BufferSize,
			MaxAttempts:       qcfg.MaxAttempts,
			RetryDelay:        qcfg.RetryDelay,
			VisibilityTimeout: qcfg.VisibilityTimeout,
		}, app.logger)
		app.transport = app.memQueue
	}
	app.logger.Info("job transport ready",
		"backend", qcfg.Backend,
		"queue", qcfg.Name,
		"dead_letter_queue", qcfg.DeadLetterName)
	return nil
}

// runBackground starts the actor sweeper and, for the in-process cache, the
// expiry janitor. Both stop when ctx is done; the returned func waits for them.
func (app *application) runBackground(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.router.Run(ctx, app.config.Actor.SweepInterval, app.config.Actor.IdleTTL)
	}()

	if app.memCache != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.memCache.Run(ctx, app.config.Cache.SweepInterval)
		}()
	}
	return wg.Wait
}

// cleanup releases stores in reverse order of construction. It is safe to
// call more than once.
func (app *application) cleanup() {
	app.cleanupOnce.Do(func() {
		var errs []error
		if app.memQueue != nil {
			app.memQueue.Close()
		}
		if app.db != nil {
			if err := app.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
		if app.redis != nil {
			if err := app.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			app.logger.Error("failed to release resources", "error", err)
		}
	})
}
