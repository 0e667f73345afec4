// Package reasoning implements the planner's reasoning capability on top of an LLM.
package reasoning

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mohammad-safakhou/kernelplanner/config"
)

// ErrNotConfigured is returned when no API key is configured for the selected provider.
var ErrNotConfigured = errors.New("ai provider not configured")

// NewModel builds a langchaingo model client for the configured provider.
func NewModel(cfg config.AIConfig) (llms.Model, error) {
	cfg = cfg.Normalize()
	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: set ai.api_key or AI_API_KEY", ErrNotConfigured)
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.ModelID)}
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		return openai.New(opts...)
	case config.ProviderAzureOpenAI:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%w: azure_openai requires ai.endpoint", ErrNotConfigured)
		}
		return openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.ModelID),
			openai.WithBaseURL(cfg.Endpoint),
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.ModelID)}
		if cfg.Endpoint != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Endpoint))
		}
		return anthropic.New(opts...)
	}
	return nil, fmt.Errorf("unsupported ai.provider %q", cfg.Provider)
}

// CallOptions maps sampling settings onto langchaingo call options.
func CallOptions(cfg config.AIConfig) []llms.CallOption {
	cfg = cfg.Normalize()
	opts := []llms.CallOption{llms.WithMaxTokens(cfg.MaxTokens), llms.WithTopP(cfg.TopP)}
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	return opts
}
