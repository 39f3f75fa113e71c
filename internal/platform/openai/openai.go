// Package openai implements generation.Generator using the OpenAI Chat
// Completions streaming API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
)

// DefaultModel is used when the binding does not name a model.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// Generator streams replies from OpenAI.
type Generator struct {
	logger  *slog.Logger
	client  openai.Client
	binding generation.Binding
}

// NewGenerator creates a generator from the binding.
func NewGenerator(logger *slog.Logger, binding generation.Binding, opts ...option.RequestOption) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(binding.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", generation.ErrInvalidConfig)
	}
	if binding.Model == "" {
		binding.Model = DefaultModel
	}

	options := []option.RequestOption{option.WithAPIKey(binding.APIKey)}
	if strings.TrimSpace(binding.BaseURL) != "" {
		options = append(options, option.WithBaseURL(binding.BaseURL))
	}
	options = append(options, opts...)

	return &Generator{
		logger:  logger.With("provider", generation.ProviderOpenAI, "model", binding.Model),
		client:  openai.NewClient(options...),
		binding: binding,
	}, nil
}

// Name implements generation.Generator.
func (g *Generator) Name() string { return generation.ProviderOpenAI }

// Stream implements generation.Generator.
func (g *Generator) Stream(ctx context.Context, messages []domain.Message) iter.Seq2[string, error] {
	params, err := g.buildParams(messages)
	if err != nil {
		return generation.Fail(err)
	}

	return func(yield func(string, error) bool) {
		g.logger.DebugContext(ctx, "starting openai stream", "messages", len(params.Messages))

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", generation.Classify(ctx, fmt.Errorf("openai streaming error: %w", err)))
		}
	}
}

func (g *Generator) buildParams(messages []domain.Message) (openai.ChatCompletionNewParams, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if g.binding.SystemPrompt != "" {
		converted = append(converted, openai.SystemMessage(g.binding.SystemPrompt))
	}

	conversational := 0
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			converted = append(converted, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			converted = append(converted, openai.AssistantMessage(m.Content))
			conversational++
		default:
			converted = append(converted, openai.UserMessage(m.Content))
			conversational++
		}
	}
	if conversational == 0 {
		return openai.ChatCompletionNewParams{}, domain.NewValidationError("messages", "has no user or assistant content", domain.ErrNoMessages)
	}

	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    g.binding.Model,
	}
	if g.binding.Temperature > 0 {
		params.Temperature = openai.Float(g.binding.Temperature)
	}
	if g.binding.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.binding.MaxTokens))
	}
	return params, nil
}
