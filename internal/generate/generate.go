// Package generate sends a job prompt to a generative text service and returns
// the produced text.
package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumar-ayush101/prompt-scheduler/internal/config"
)

var (
	ErrMissingAPIKey = errors.New("generate: api key not configured")
	ErrEmptyResponse = errors.New("generate: empty response")
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New builds the generator selected by cfg.Provider.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Provider {
	case config.GeneratorOpenAI, "":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
		}
		return NewOpenAI(OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.OpenAIModel,
			BaseURL:   cfg.OpenAIBaseURL,
			WebSearch: cfg.WebSearch,
		}), nil
	case config.GeneratorAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingAPIKey)
		}
		return NewAnthropic(AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			BaseURL:   cfg.AnthropicBaseURL,
			MaxTokens: cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("generate: unknown provider %q", cfg.Provider)
	}
}
