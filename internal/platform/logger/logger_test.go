package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/phrazzld/parley/internal/config"
	"github.com/phrazzld/parley/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a synchronized buffer for capturing log output in tests
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

// Setup changes the process default logger, so these tests do not run in parallel.
func TestSetupLevels(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{level: "debug", debugShown: true, infoShown: true},
		{level: "INFO", debugShown: false, infoShown: true},
		{level: "warn", debugShown: false, infoShown: false},
		{level: "bogus", debugShown: false, infoShown: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &syncBuffer{}
			l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: tt.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			l.Info("info message")

			var msgs []string
			for _, e := range buf.entries(t) {
				msgs = append(msgs, e["msg"].(string))
			}
			assert.Equal(t, tt.debugShown, contains(msgs, "debug message"))
			assert.Equal(t, tt.infoShown, contains(msgs, "info message"))
		})
	}
}

func TestContextAttrs(t *testing.T) {
	t.Parallel()

	buf := &syncBuffer{}
	l := slog.New(logger.NewContextHandler(slog.NewJSONHandler(buf, nil)))

	ctx := logger.WithAttrs(context.Background(), slog.String("trace_id", "t-1"))
	ctx = logger.WithAttrs(ctx, slog.String("session_id", "s1"))
	l.InfoContext(ctx, "processing", "attempt", 2)
	l.Info("no context")

	entries := buf.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "t-1", entries[0]["trace_id"])
	assert.Equal(t, "s1", entries[0]["session_id"])
	assert.EqualValues(t, 2, entries[0]["attempt"])
	assert.NotContains(t, entries[1], "trace_id")
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	fallback := slog.New(slog.NewTextHandler(&syncBuffer{}, nil))
	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))

	scoped := slog.New(slog.NewTextHandler(&syncBuffer{}, nil))
	ctx := logger.WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, logger.FromContext(ctx))
	assert.NotNil(t, logger.FromContext(context.Background()))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
