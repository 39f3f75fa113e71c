package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"

	"github.com/phrazzld/parley/internal/domain"
	"github.com/phrazzld/parley/internal/generation"
	"google.golang.org/genai"
)

// DefaultModel is used when the binding does not name a model.
const DefaultModel = "gemini-2.0-flash"

// contentStreamer is the subset of *genai.Models used by the generator.
type contentStreamer interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Generator streams replies from Gemini.
type Generator struct {
	logger  *slog.Logger
	models  contentStreamer
	binding generation.Binding
}

// NewGenerator creates a Gemini generator from the binding.
// A missing API key is reported as generation.ErrInvalidConfig.
func NewGenerator(ctx context.Context, logger *slog.Logger, binding generation.Binding) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(binding.APIKey) == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if binding.Model == "" {
		binding.Model = DefaultModel
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  binding.APIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, client.Models, binding), nil
}

func newGenerator(logger *slog.Logger, models contentStreamer, binding generation.Binding) *Generator {
	return &Generator{
		logger:  logger.With("provider", generation.ProviderGemini, "model", binding.Model),
		models:  models,
		binding: binding,
	}
}

// Name implements generation.Generator.
func (g *Generator) Name() string { return generation.ProviderGemini }

// Stream implements generation.Generator.
func (g *Generator) Stream(ctx context.Context, messages []domain.Message) iter.Seq2[string, error] {
	contents, system := convertMessages(messages)
	if len(contents) == 0 {
		return generation.Fail(domain.NewValidationError("messages", "has no user or model content", domain.ErrNoMessages))
	}
	config := g.buildConfig(system)

	return func(yield func(string, error) bool) {
		g.logger.DebugContext(ctx, "starting gemini stream", "contents", len(contents))

		for resp, err := range g.models.GenerateContentStream(ctx, g.binding.Model, contents, config) {
			if err != nil {
				yield("", generation.Classify(ctx, err))
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil {
					continue
				}
				if candidate.FinishReason == genai.FinishReasonSafety {
					yield("", generation.Classify(ctx, generation.ErrContentBlocked))
					return
				}
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					if !yield(part.Text, nil) {
						return
					}
				}
			}
		}
	}
}

func (g *Generator) buildConfig(system []string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if g.binding.SystemPrompt != "" {
		system = append([]string{g.binding.SystemPrompt}, system...)
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}
	if g.binding.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(g.binding.MaxTokens, math.MaxInt32))
	}
	if g.binding.Temperature > 0 {
		temperature := float32(g.binding.Temperature)
		config.Temperature = &temperature
	}
	return config
}

// convertMessages splits system messages out and maps the rest onto
// Gemini roles.
func convertMessages(messages []domain.Message) ([]*genai.Content, []string) {
	var contents []*genai.Content
	var system []string

	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
			continue
		case domain.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, system
}
