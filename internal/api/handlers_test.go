package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/parley/internal/actor"
	"github.com/phrazzld/parley/internal/cache"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/gateway"
	"github.com/phrazzld/parley/internal/generation"
	"github.com/phrazzld/parley/internal/queue"
	"github.com/phrazzld/parley/internal/service"
)

type fakeSubmitter struct {
	deltas []string
	err    error
}

func (f fakeSubmitter) Submit(
	_ context.Context,
	sessionID string,
	_ []domain.Message,
	onDelta func(string) error,
) (gateway.Reply, error) {
	var text strings.Builder
	for _, d := range f.deltas {
		text.WriteString(d)
		if err := onDelta(d); err != nil {
			return gateway.Reply{SessionID: sessionID}, err
		}
	}
	return gateway.Reply{SessionID: sessionID, Text: text.String()}, f.err
}

type testServer struct {
	handler http.Handler
	queue   *queue.Memory
	cache   *cache.Memory
}

func newTestServer(t *testing.T, submitter Submitter) testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.NewMemory(queue.DefaultMemoryConfig(), logger)
	results := cache.NewMemory(logger)

	svc, err := service.NewJobService(q, results, logger)
	require.NoError(t, err)

	if submitter == nil {
		router := actor.NewRouter(actor.Config{StubMode: true}, nil, logger)
		submitter = gateway.New(router, time.Second, logger, nil)
	}

	jobs := NewJobHandler(svc)
	chat := NewChatHandler(submitter)

	r := chi.NewRouter()
	r.Post("/api/jobs", jobs.Enqueue)
	r.Get("/api/results/{"+SessionIDParam+"}", jobs.Result)
	r.Post("/api/chat", chat.Chat)
	return testServer{handler: r, queue: q, cache: results}
}

func (s testServer) do(method, path, body string) *http.Response {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestEnqueueJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := s.do(http.MethodPost, "/api/jobs", `{"session_id":"s1","messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body EnqueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Enqueued)
	assert.Equal(t, "s1", body.SessionID)
	assert.NotEmpty(t, body.CorrelationID)
	assert.Equal(t, 1, s.queue.Len())
}

func TestEnqueueJobGeneratesSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := s.do(http.MethodPost, "/api/jobs", `{"messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body EnqueueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.SessionID)
}

func TestEnqueueJobRejectsBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{"messages":`, "Invalid request format"},
		{"unknown field", `{"messages":[{"role":"user","content":"x"}],"extra":true}`, "Invalid request format"},
		{"no messages", `{"session_id":"s1","messages":[]}`, "Invalid messages: too short"},
		{"missing messages", `{"session_id":"s1"}`, "Invalid messages: required field"},
		{"bad role", `{"messages":[{"role":"robot","content":"x"}]}`, "Invalid role: invalid value"},
		{
			"blank messages only",
			`{"session_id":"s1","messages":[{"role":"user","content":"   "}]}`,
			"Invalid messages: has no non-blank user or assistant content",
		},
		{
			"system message only",
			`{"session_id":"s1","messages":[{"role":"system","content":"be brief"}]}`,
			"Invalid messages: has no non-blank user or assistant content",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
	assert.Equal(t, 0, s.queue.Len())
}

func TestGetResult(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := s.do(http.MethodGet, "/api/results/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"result":null}`, readBody(t, resp))

	require.NoError(t, s.cache.Put(context.Background(), "s1", "[stub] echo: hello", time.Minute))
	resp = s.do(http.MethodGet, "/api/results/s1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"result":"[stub] echo: hello"}`, readBody(t, resp))
}

func TestChatStreamsStubReply(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := s.do(http.MethodPost, "/api/chat", `{"session_id":"s1","messages":[{"role":"user","content":"ping"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", resp.Header.Get(SessionIDHeader))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, readBody(t, resp), "ping")
	assert.Empty(t, resp.Trailer.Get(StreamErrorTrailer))

	// A synchronous turn never publishes to the result cache.
	_, found, err := s.cache.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChatGeneratesSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := s.do(http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"ping"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(SessionIDHeader))
}

func TestChatErrorBeforeOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", generation.ErrTimeout, http.StatusGatewayTimeout},
		{"capability", errors.Join(generation.ErrCapability, errors.New("upstream 503")), http.StatusBadGateway},
		{"configuration", actor.ErrConfiguration, http.StatusInternalServerError},
		{"validation", domain.NewValidationError("messages", "has no non-blank content", domain.ErrNoMessages), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, fakeSubmitter{err: tt.err})

			resp := s.do(http.MethodPost, "/api/chat", `{"session_id":"s1","messages":[{"role":"user","content":"hi"}]}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.NotContains(t, readBody(t, resp), "upstream 503")
		})
	}
}

func TestChatErrorAfterOutputUsesTrailer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, fakeSubmitter{
		deltas: []string{"partial ", "reply"},
		err:    errors.Join(generation.ErrCapability, errors.New("stream reset")),
	})

	resp := s.do(http.MethodPost, "/api/chat", `{"session_id":"s1","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial reply", readBody(t, resp))
	assert.Equal(t, "Language model request failed", resp.Trailer.Get(StreamErrorTrailer))
}

func TestChatRejectsBadRequest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, fakeSubmitter{})

	resp := s.do(http.MethodPost, "/api/chat", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
