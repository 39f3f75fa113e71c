package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func sseServer(t *testing.T, events []string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), "unexpected path %s", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		if captured != nil {
			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.NoError(t, json.Unmarshal(body, captured))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range events {
			fmt.Fprintln(w, line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func TestNewGeneratorRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewGenerator(testLogger(), generation.Binding{Provider: generation.ProviderAnthropic})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestGeneratorStream(t *testing.T) {
	t.Parallel()

	events := []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude","usage":{"input_tokens":1,"output_tokens":0}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}

	var body map[string]any
	server := sseServer(t, events, &body)
	defer server.Close()

	g, err := NewGenerator(testLogger(), generation.Binding{
		APIKey:       "test-key",
		Model:        "claude-test",
		BaseURL:      server.URL,
		SystemPrompt: "be brief",
	}, option.WithMaxRetries(0))
	require.NoError(t, err)

	var deltas []string
	out, err := generation.Collect(g.Stream(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "stay on topic"},
		{Role: domain.RoleUser, Content: "hi"},
	}), func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)
	assert.Equal(t, []string{"Hello", " world"}, deltas)

	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
}

func TestGeneratorStreamServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	}))
	defer server.Close()

	g, err := NewGenerator(testLogger(), generation.Binding{APIKey: "test-key", BaseURL: server.URL}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = generation.Collect(g.Stream(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}), nil)
	assert.ErrorIs(t, err, generation.ErrCapability)
}

func TestBuildParamsRejectsSystemOnly(t *testing.T) {
	t.Parallel()

	g, err := NewGenerator(testLogger(), generation.Binding{APIKey: "k"})
	require.NoError(t, err)

	_, err = g.buildParams([]domain.Message{{Role: domain.RoleSystem, Content: "x"}})
	assert.ErrorIs(t, err, domain.ErrNoMessages)
	assert.ErrorIs(t, err, domain.ErrMalformedJob)
}
