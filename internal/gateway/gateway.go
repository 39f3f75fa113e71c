// Package gateway runs conversation turns synchronously for request/response
// callers, streaming reply text as it is generated.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/parley/internal/actor"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/platform/metrics"
)

// Router resolves the actor for a session.
type Router interface {
	Resolve(ctx context.Context, sessionID string) (*actor.Handle, error)
}

// Reply is the outcome of a synchronous turn.
type Reply struct {
	SessionID string
	Text      string
}

// Gateway is the synchronous entry point. It shares the session router
// with the queue dispatcher, so synchronous and queued turns of one
// session never overlap. Replies are returned to the caller only and are
// never published to the result cache.
type Gateway struct {
	router  Router
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Gateway. A zero timeout leaves calls bounded only by the
// caller's context. m may be nil.
func New(router Router, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		router:  router,
		timeout: timeout,
		logger:  logger.With("component", "sync_gateway"),
		metrics: m,
	}
}

// Submit runs one turn for sessionID, calling onDelta with each fragment
// as it arrives. A blank sessionID starts a new session; the id used is
// reported in the Reply even when an error is returned. Fragments already
// delivered to onDelta are not retracted when the turn later fails.
func (g *Gateway) Submit(
	ctx context.Context,
	sessionID string,
	messages []domain.Message,
	onDelta func(string) error,
) (Reply, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	reply := Reply{SessionID: sessionID}

	start := time.Now()
	text, err := g.submit(ctx, sessionID, messages, onDelta)
	reply.Text = text
	g.metrics.SyncRequest(err)

	if err != nil {
		g.logger.WarnContext(ctx, "synchronous turn failed",
			"session_id", sessionID,
			"partial_bytes", len(text),
			"error", err)
		return reply, err
	}

	g.logger.DebugContext(ctx, "synchronous turn completed",
		"session_id", sessionID,
		"reply_bytes", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return reply, nil
}

func (g *Gateway) submit(
	ctx context.Context,
	sessionID string,
	messages []domain.Message,
	onDelta func(string) error,
) (string, error) {
	turn := domain.Job{SessionID: sessionID, Messages: messages}
	if err := turn.Validate(); err != nil {
		return "", err
	}

	h, err := g.router.Resolve(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return h.Stream(ctx, messages, actor.Options{Timeout: g.timeout}, onDelta)
}
