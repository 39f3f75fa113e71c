// Package metrics defines the Prometheus instruments for the dispatch pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome label values.
const (
	OutcomeAck     = "ack"
	OutcomeRetry   = "retry"
	OutcomeDiscard = "discard"
)

// Metrics groups the pipeline instruments.
//
// A nil *Metrics is valid; every recording method is then a no-op, which
// keeps tests and tools free of registry setup.
type Metrics struct {
	// JobsTotal counts settled jobs.
	// Labels: outcome (ack|retry|discard)
	JobsTotal *prometheus.CounterVec

	// JobDuration measures job processing time from resolve to cache write.
	JobDuration prometheus.Histogram

	// CacheWriteFailures counts results that could not be published.
	CacheWriteFailures prometheus.Counter

	// DeadLettered counts jobs moved to the dead-letter destination.
	DeadLettered prometheus.Counter

	// ActorsCreated and ActorsEvicted track the session actor lifecycle.
	ActorsCreated prometheus.Counter
	ActorsEvicted prometheus.Counter

	// ActorConstructionFailures counts configuration failures while binding an actor.
	ActorConstructionFailures prometheus.Counter

	// SyncRequests counts synchronous gateway calls.
	// Labels: status (ok|error)
	SyncRequests *prometheus.CounterVec

	reg prometheus.Registerer
}

// New creates and registers the pipeline metrics with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_jobs_total",
				Help: "Total number of settled jobs by outcome",
			},
			[]string{"outcome"},
		),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		CacheWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_cache_write_failures_total",
			Help: "Total number of results that could not be written to the result cache",
		}),
		DeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead-letter queue",
		}),
		ActorsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_actors_created_total",
			Help: "Total number of session actors created",
		}),
		ActorsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_actors_evicted_total",
			Help: "Total number of idle session actors evicted",
		}),
		ActorConstructionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_actor_construction_failures_total",
			Help: "Total number of session actor construction failures",
		}),
		SyncRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_sync_requests_total",
				Help: "Total number of synchronous gateway requests by status",
			},
			[]string{"status"},
		),
		reg: reg,
	}
}

// RegisterLiveActors exposes the current actor count as a gauge.
func (m *Metrics) RegisterLiveActors(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "parley_actors_live",
		Help: "Number of live session actors",
	}, func() float64 { return float64(count()) })
}

// JobSettled records the outcome and duration of one job.
func (m *Metrics) JobSettled(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.Observe(elapsed.Seconds())
}

// CacheWriteFailed records a failed result publish.
func (m *Metrics) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.CacheWriteFailures.Inc()
}

// JobDeadLettered records a dead-lettered job.
func (m *Metrics) JobDeadLettered() {
	if m == nil {
		return
	}
	m.DeadLettered.Inc()
}

// ActorCreated records a new session actor.
func (m *Metrics) ActorCreated() {
	if m == nil {
		return
	}
	m.ActorsCreated.Inc()
}

// ActorEvicted records n evicted session actors.
func (m *Metrics) ActorEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ActorsEvicted.Add(float64(n))
}

// ActorConstructionFailed records a failed actor binding.
func (m *Metrics) ActorConstructionFailed() {
	if m == nil {
		return
	}
	m.ActorConstructionFailures.Inc()
}

// SyncRequest records a gateway call.
func (m *Metrics) SyncRequest(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SyncRequests.WithLabelValues(status).Inc()
}
