// Package llm selects a generation backend by provider name.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/parley/internal/generation"
	"github.com/phrazzld/parley/internal/platform/anthropic"
	"github.com/phrazzld/parley/internal/platform/gemini"
	"github.com/phrazzld/parley/internal/platform/openai"
)

// New builds the generator named by binding.Provider. An empty provider
// selects the stub. Invalid bindings are reported as generation.ErrInvalidConfig.
func New(ctx context.Context, logger *slog.Logger, binding generation.Binding) (generation.Generator, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	switch binding.Provider {
	case "", generation.ProviderStub:
		return generation.NewStubGenerator(), nil
	case generation.ProviderGemini:
		return gemini.NewGenerator(ctx, logger, binding)
	case generation.ProviderAnthropic:
		return anthropic.NewGenerator(logger, binding)
	case generation.ProviderOpenAI:
		return openai.NewGenerator(logger, binding)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", generation.ErrInvalidConfig, binding.Provider)
	}
}

// Factory adapts New to the constructor shape used by the actor router.
func Factory(logger *slog.Logger) func(ctx context.Context, binding generation.Binding) (generation.Generator, error) {
	return func(ctx context.Context, binding generation.Binding) (generation.Generator, error) {
		return New(ctx, logger, binding)
	}
}
