package generation

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/phrazzld/parley/internal/domain"
)

// Generator streams a reply for a conversation.
// Implementations yield text deltas in order; a non-nil error ends the stream.
type Generator interface {
	// Stream starts generation for the given messages. Iteration stops early
	// when the consumer stops ranging or ctx is canceled.
	Stream(ctx context.Context, messages []domain.Message) iter.Seq2[string, error]

	// Name identifies the backing provider, used in logs and metrics.
	Name() string
}

// Supported provider names
const (
	ProviderStub      = "stub"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Binding selects and parameterizes a generation backend.
type Binding struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// Validate checks that a live binding carries a model and credentials.
func (b Binding) Validate() error {
	switch b.Provider {
	case "", ProviderStub:
		return nil
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, b.Provider)
	}
	if strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("%w: %s api key is required", ErrInvalidConfig, b.Provider)
	}
	if strings.TrimSpace(b.Model) == "" {
		return fmt.Errorf("%w: %s model is required", ErrInvalidConfig, b.Provider)
	}
	if b.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Collect drains a stream into a single string. When onDelta is non-nil each
// delta is forwarded as it arrives; an error from onDelta aborts the stream.
// The text accumulated before a failure is returned with the error.
func Collect(seq iter.Seq2[string, error], onDelta func(string) error) (string, error) {
	var sb strings.Builder
	for delta, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}
	return sb.String(), nil
}

// Fail returns a stream that yields a single error.
func Fail(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
