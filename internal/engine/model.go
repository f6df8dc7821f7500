package engine

import (
	"context"
	"fmt"

	"github.com/cexll/agentsdk-go/pkg/model"
)

// Provider type names accepted by NewModelGenerator.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ModelOptions selects and configures the backing model provider.
type ModelOptions struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// ModelGenerator adapts a model.Provider to the Generator interface.
type ModelGenerator struct {
	provider model.Provider
}

// NewModelGenerator builds a generator for the configured provider type.
// Unknown provider names fall back to anthropic.
func NewModelGenerator(opts ModelOptions) *ModelGenerator {
	var provider model.Provider
	switch opts.Provider {
	case ProviderOpenAI:
		provider = &model.OpenAIProvider{
			APIKey:    opts.APIKey,
			BaseURL:   opts.BaseURL,
			ModelName: opts.Model,
			MaxTokens: opts.MaxTokens,
		}
	default:
		provider = &model.AnthropicProvider{
			APIKey:    opts.APIKey,
			BaseURL:   opts.BaseURL,
			ModelName: opts.Model,
			MaxTokens: opts.MaxTokens,
		}
	}
	return &ModelGenerator{provider: provider}
}

// Stream resolves the model and relays completion deltas to emit.
func (g *ModelGenerator) Stream(ctx context.Context, msgs []Message, opts Options, emit func(string) error) error {
	m, err := g.provider.Model(ctx)
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}

	req := model.Request{
		Messages:  toModelMessages(msgs),
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		req.Temperature = &temp
	}

	err = m.CompleteStream(ctx, req, func(res model.StreamResult) error {
		if res.Delta == "" {
			return nil
		}
		return emit(res.Delta)
	})
	if err != nil {
		return fmt.Errorf("stream completion: %w", err)
	}
	return nil
}

func toModelMessages(msgs []Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
