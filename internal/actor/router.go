package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
	"github.com/phrazzld/parley/internal/platform/metrics"
)

// GeneratorFactory binds a generation backend for a new actor.
type GeneratorFactory func(ctx context.Context, binding generation.Binding) (generation.Generator, error)

// maxRebinds bounds how often a handle re-resolves after losing its actor
// to eviction during one call.
const maxRebinds = 3

// Router maps session ids to their single live actor.
type Router struct {
	cfg     Config
	factory GeneratorFactory
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	actors map[string]*Actor
	group  singleflight.Group
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithMetrics records actor lifecycle metrics.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithClock replaces the time source used for idle tracking.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		r.now = now
	}
}

// NewRouter creates a router. factory is consulted only in live mode.
func NewRouter(cfg Config, factory GeneratorFactory, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("component", "actor_router"),
		now:     time.Now,
		actors:  make(map[string]*Actor),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics.RegisterLiveActors(r.Len)
	return r
}

// Handle is a session's reference to its actor. Calls made through a
// handle always run on the session's current live actor.
type Handle struct {
	router    *Router
	sessionID string

	mu    sync.Mutex
	actor *Actor
}

// ID returns the actor identity for the handle's session.
func (h *Handle) ID() string { return Identity(h.sessionID) }

// SessionID returns the session the handle addresses.
func (h *Handle) SessionID() string { return h.sessionID }

// Process runs one conversation turn on the session's actor.
func (h *Handle) Process(ctx context.Context, messages []domain.Message, opts Options) (string, error) {
	return h.Stream(ctx, messages, opts, nil)
}

// Stream runs one conversation turn on the session's actor, forwarding deltas.
func (h *Handle) Stream(
	ctx context.Context,
	messages []domain.Message,
	opts Options,
	onDelta func(string) error,
) (string, error) {
	for range maxRebinds {
		h.mu.Lock()
		a := h.actor
		h.mu.Unlock()

		out, err := a.Stream(ctx, messages, opts, onDelta)
		if !errors.Is(err, errRetired) {
			return out, err
		}

		next, err := h.router.lookup(ctx, h.sessionID)
		if err != nil {
			return "", err
		}
		h.mu.Lock()
		h.actor = next
		h.mu.Unlock()
	}
	return "", fmt.Errorf("session %s: actor evicted repeatedly", h.sessionID)
}

// Resolve returns a handle to the session's actor, creating the actor on
// first use. A blank session id is malformed; a backend that cannot be
// bound yields ErrConfiguration.
func (r *Router) Resolve(ctx context.Context, sessionID string) (*Handle, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.NewValidationError("session_id", "is required", domain.ErrEmptySessionID)
	}

	a, err := r.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Handle{router: r, sessionID: sessionID, actor: a}, nil
}

func (r *Router) lookup(ctx context.Context, sessionID string) (*Actor, error) {
	id := Identity(sessionID)

	r.mu.RLock()
	a, ok := r.actors[id]
	r.mu.RUnlock()
	if ok && !a.isRetired() {
		return a, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.actors[id]
		r.mu.RUnlock()
		if ok && !existing.isRetired() {
			return existing, nil
		}

		// Construction outlives any single caller because other callers may
		// be sharing this result.
		a, err := r.construct(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.actors[id]; ok && !existing.isRetired() {
			return existing, nil
		}
		r.actors[id] = a
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Actor), nil
}

func (r *Router) construct(ctx context.Context, sessionID string) (*Actor, error) {
	var gen generation.Generator
	if !r.cfg.StubMode {
		if r.factory == nil {
			r.metrics.ActorConstructionFailed()
			return nil, fmt.Errorf("%w: no generator factory configured", ErrConfiguration)
		}
		var err error
		gen, err = r.factory(ctx, r.cfg.Binding)
		if err != nil {
			r.metrics.ActorConstructionFailed()
			r.logger.ErrorContext(ctx, "failed to bind session actor",
				"session_id", sessionID,
				"provider", r.cfg.Binding.Provider,
				"error", err)
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	a := newActor(sessionID, r.cfg, gen, r.logger, r.now)
	r.metrics.ActorCreated()
	r.logger.DebugContext(ctx, "session actor created",
		"session_id", sessionID,
		"actor_id", a.ID(),
		"stub_mode", r.cfg.StubMode,
		"services", a.Services())
	return a, nil
}

// Len reports the number of live actors.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// Stats returns a snapshot of every live actor.
func (r *Router) Stats() []Stats {
	r.mu.RLock()
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.RUnlock()

	out := make([]Stats, 0, len(actors))
	for _, a := range actors {
		out = append(out, a.Stats())
	}
	return out
}

// EvictIdle removes actors idle for at least maxIdle that have no work
// running or queued, and returns how many were removed.
func (r *Router) EvictIdle(maxIdle time.Duration) int {
	r.mu.RLock()
	candidates := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		candidates = append(candidates, a)
	}
	r.mu.RUnlock()

	evicted := 0
	for _, a := range candidates {
		if !a.tryRetire(maxIdle) {
			continue
		}
		r.mu.Lock()
		if current, ok := r.actors[a.id]; ok && current == a {
			delete(r.actors, a.id)
			evicted++
		}
		r.mu.Unlock()
	}

	if evicted > 0 {
		r.metrics.ActorEvicted(evicted)
		r.logger.Debug("evicted idle session actors", "evicted", evicted, "live", r.Len())
	}
	return evicted
}

// Run evicts idle actors every interval until ctx is done.
func (r *Router) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.EvictIdle(maxIdle)
		}
	}
}
