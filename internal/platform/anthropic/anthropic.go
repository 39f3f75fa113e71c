// Package anthropic implements generation.Generator on top of the Anthropic
// Messages streaming API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
)

// Defaults applied when the binding leaves them unset.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 1024
)

// Generator streams replies from Anthropic.
type Generator struct {
	logger  *slog.Logger
	client  anthropic.Client
	binding generation.Binding
}

// NewGenerator creates a generator from the binding. Extra request options
// are appended after the key and base URL.
func NewGenerator(logger *slog.Logger, binding generation.Binding, opts ...option.RequestOption) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(binding.APIKey) == "" {
		return nil, fmt.Errorf("%w: anthropic API key cannot be empty", generation.ErrInvalidConfig)
	}
	if binding.Model == "" {
		binding.Model = DefaultModel
	}
	if binding.MaxTokens <= 0 {
		binding.MaxTokens = DefaultMaxTokens
	}

	options := []option.RequestOption{option.WithAPIKey(binding.APIKey)}
	if strings.TrimSpace(binding.BaseURL) != "" {
		options = append(options, option.WithBaseURL(binding.BaseURL))
	}
	options = append(options, opts...)

	return &Generator{
		logger:  logger.With("provider", generation.ProviderAnthropic, "model", binding.Model),
		client:  anthropic.NewClient(options...),
		binding: binding,
	}, nil
}

// Name implements generation.Generator.
func (g *Generator) Name() string { return generation.ProviderAnthropic }

// Stream implements generation.Generator.
func (g *Generator) Stream(ctx context.Context, messages []domain.Message) iter.Seq2[string, error] {
	params, err := g.buildParams(messages)
	if err != nil {
		return generation.Fail(err)
	}

	return func(yield func(string, error) bool) {
		g.logger.DebugContext(ctx, "starting anthropic stream", "messages", len(params.Messages))

		stream := g.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type != "text_delta" || delta.Text == "" {
					continue
				}
				if !yield(delta.Text, nil) {
					return
				}
			case "message_stop":
				return
			case "error":
				yield("", generation.Classify(ctx, errors.New("anthropic stream error")))
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", generation.Classify(ctx, err))
		}
	}
}

func (g *Generator) buildParams(messages []domain.Message) (anthropic.MessageNewParams, error) {
	var system []string
	if g.binding.SystemPrompt != "" {
		system = append(system, g.binding.SystemPrompt)
	}

	var converted []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(converted) == 0 {
		return anthropic.MessageNewParams{}, domain.NewValidationError("messages", "has no user or assistant content", domain.ErrNoMessages)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.binding.Model),
		Messages:  converted,
		MaxTokens: int64(g.binding.MaxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if g.binding.Temperature > 0 {
		params.Temperature = anthropic.Float(g.binding.Temperature)
	}
	return params, nil
}
