package actor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
)

// Config is the construction-time configuration shared by every actor.
type Config struct {
	// StubMode replaces live generation with the deterministic stub.
	StubMode bool

	// Binding selects the generation backend for live mode.
	Binding generation.Binding

	// Services names the auxiliary capabilities the actor advertises.
	Services []string
}

// Options bound a single invocation.
type Options struct {
	// Timeout caps the invocation including time spent waiting for the
	// actor. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// Stats is a point-in-time view of an actor.
type Stats struct {
	ID        string
	SessionID string
	Processed uint64
	LastUsed  time.Time
	Busy      bool
}

// Actor is the serialized execution context for one session.
type Actor struct {
	id        string
	sessionID string
	cfg       Config
	generator generation.Generator
	logger    *slog.Logger
	now       func() time.Time

	// slot holds a token while an invocation runs.
	slot chan struct{}

	mu        sync.Mutex
	waiting   int
	retired   bool
	lastUsed  time.Time
	processed uint64
}

func newActor(sessionID string, cfg Config, gen generation.Generator, logger *slog.Logger, now func() time.Time) *Actor {
	id := Identity(sessionID)
	return &Actor{
		id:        id,
		sessionID: sessionID,
		cfg:       cfg,
		generator: gen,
		logger:    logger.With("actor_id", id, "session_id", sessionID),
		now:       now,
		slot:      make(chan struct{}, 1),
		lastUsed:  now(),
	}
}

// ID returns the actor identity.
func (a *Actor) ID() string { return a.id }

// SessionID returns the session the actor serves.
func (a *Actor) SessionID() string { return a.sessionID }

// Services returns the advertised capability names.
func (a *Actor) Services() []string {
	return append([]string(nil), a.cfg.Services...)
}

// Stats returns a snapshot of actor activity.
func (a *Actor) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		ID:        a.id,
		SessionID: a.sessionID,
		Processed: a.processed,
		LastUsed:  a.lastUsed,
		Busy:      len(a.slot) > 0,
	}
}

// Process runs one conversation turn and returns the full reply.
func (a *Actor) Process(ctx context.Context, messages []domain.Message, opts Options) (string, error) {
	return a.Stream(ctx, messages, opts, nil)
}

// Stream runs one conversation turn, forwarding deltas to onDelta as they
// arrive, and returns the accumulated reply. Blank messages are dropped
// before generation; a conversation with no user or assistant content left
// is malformed.
func (a *Actor) Stream(
	ctx context.Context,
	messages []domain.Message,
	opts Options,
	onDelta func(string) error,
) (string, error) {
	filtered := domain.FilterBlank(messages)
	if !domain.HasConversation(filtered) {
		return "", domain.NewValidationError("messages", "has no non-blank user or assistant content", domain.ErrNoMessages)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := a.acquire(ctx); err != nil {
		return "", err
	}
	defer a.release()

	start := a.now()
	out, err := generation.Collect(a.generatorFor().Stream(ctx, filtered), onDelta)
	if err != nil {
		err = generation.Classify(ctx, err)
		a.logger.WarnContext(ctx, "generation failed",
			"error", err,
			"partial_bytes", len(out),
			"duration_ms", a.now().Sub(start).Milliseconds())
		return out, err
	}

	a.logger.DebugContext(ctx, "generation completed",
		"reply_bytes", len(out),
		"duration_ms", a.now().Sub(start).Milliseconds())
	return out, nil
}

func (a *Actor) generatorFor() generation.Generator {
	if a.cfg.StubMode || a.generator == nil {
		return generation.NewStubGenerator()
	}
	return a.generator
}

// acquire waits for the slot. It fails with errRetired when the actor was
// evicted, and with a classified context error when ctx ends first.
func (a *Actor) acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.retired {
		a.mu.Unlock()
		return errRetired
	}
	a.waiting++
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.waiting--
		a.mu.Unlock()
	}()

	select {
	case a.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return generation.Classify(ctx, ctx.Err())
	}
}

func (a *Actor) release() {
	a.mu.Lock()
	a.lastUsed = a.now()
	a.processed++
	a.mu.Unlock()
	<-a.slot
}

func (a *Actor) isRetired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retired
}

// tryRetire marks the actor retired when it has been idle for at least
// maxIdle with nothing running or waiting. A retired actor accepts no work.
func (a *Actor) tryRetire(maxIdle time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.retired {
		return true
	}
	if a.waiting > 0 || a.now().Sub(a.lastUsed) < maxIdle {
		return false
	}

	select {
	case a.slot <- struct{}{}:
	default:
		return false
	}
	a.retired = true
	<-a.slot
	return true
}
