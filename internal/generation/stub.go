package generation

import (
	"context"
	"iter"
	"strings"

	"github.com/phrazzld/parley/internal/domain"
)

// StubPrefix labels every reply produced by the stub generator.
const StubPrefix = "[stub] echo: "

// StubGenerator produces a deterministic reply without external calls.
// The reply echoes the last user message so callers can correlate output
// with input.
type StubGenerator struct {
	// ChunkSize splits the reply into deltas of at most this many bytes.
	// Zero yields the reply as a single delta.
	ChunkSize int
}

// NewStubGenerator returns a stub generator that emits its reply in one delta.
func NewStubGenerator() *StubGenerator {
	return &StubGenerator{}
}

// Name implements Generator.
func (g *StubGenerator) Name() string { return ProviderStub }

// Reply returns the full stub reply for the conversation.
func (g *StubGenerator) Reply(messages []domain.Message) string {
	content, ok := domain.LastUserContent(messages)
	if !ok && len(messages) > 0 {
		content = messages[len(messages)-1].Content
	}
	return StubPrefix + strings.TrimSpace(content)
}

// Stream implements Generator.
func (g *StubGenerator) Stream(ctx context.Context, messages []domain.Message) iter.Seq2[string, error] {
	reply := g.Reply(messages)
	return func(yield func(string, error) bool) {
		for _, chunk := range chunk(reply, g.ChunkSize) {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func chunk(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	parts := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		parts = append(parts, s[:size])
		s = s[size:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
