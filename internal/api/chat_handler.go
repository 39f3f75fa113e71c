package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/phrazzld/parley/internal/api/shared"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/gateway"
	"github.com/phrazzld/parley/internal/platform/logger"
	"github.com/phrazzld/parley/internal/redact"
)

// Response headers of the streaming chat endpoint.
const (
	// SessionIDHeader carries the session the turn ran on.
	SessionIDHeader = "X-Session-ID"

	// StreamErrorTrailer reports a failure that happened after the
	// response body had started.
	StreamErrorTrailer = "X-Stream-Error"
)

// Submitter runs a synchronous conversation turn.
type Submitter interface {
	Submit(ctx context.Context, sessionID string, messages []domain.Message, onDelta func(string) error) (gateway.Reply, error)
}

// ChatHandler streams synchronous replies
type ChatHandler struct {
	gateway Submitter
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(gw Submitter) *ChatHandler {
	return &ChatHandler{gateway: gw}
}

// Chat handles POST /api/chat requests. The reply streams as plain text.
// Errors before the first fragment get a JSON error response with a
// mapped status; errors after it are reported in the X-Stream-Error trailer.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeConversation(w, r)
	if !ok {
		return
	}

	sessionID := req.SessionID
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(SessionIDHeader, sessionID)
	w.Header().Set("Trailer", StreamErrorTrailer)

	sw := &streamWriter{w: w}
	sw.flusher, _ = w.(http.Flusher)

	_, err := h.gateway.Submit(r.Context(), sessionID, req.DomainMessages(), sw.write)
	if err == nil {
		sw.start()
		return
	}

	if !sw.started {
		w.Header().Del("Trailer")
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	logger.FromContext(r.Context()).WarnContext(r.Context(), "chat stream failed after output started",
		"session_id", sessionID,
		"bytes_written", sw.written,
		"error", redact.Error(err))
	w.Header().Set(StreamErrorTrailer, GetSafeErrorMessage(err))
}

// streamWriter writes reply fragments, committing the 200 status on the
// first one.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	written int
}

func (s *streamWriter) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.w.Header().Set("X-Content-Type-Options", "nosniff")
	s.w.WriteHeader(http.StatusOK)
}

func (s *streamWriter) write(delta string) error {
	if delta == "" {
		return nil
	}
	s.start()
	n, err := s.w.Write([]byte(delta))
	s.written += n
	if err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
