// Package llm provides a uniform gateway over the supported review
// providers. Variant selection happens once at startup; the rest of the
// pipeline only sees ProviderRequest and ProviderResponse.
package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hollowlog/pragent/internal/claude"
	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/gemini"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/openai"
)

// FinishReason is the normalized completion state of a provider response
type FinishReason string

const (
	// FinishComplete means the provider finished generating naturally
	FinishComplete FinishReason = "complete"

	// FinishTruncated means the output hit the token ceiling
	FinishTruncated FinishReason = "truncated"

	// FinishError means the provider reported an abnormal stop
	FinishError FinishReason = "error"
)

// ProviderRequest is a provider-agnostic analysis request
type ProviderRequest struct {
	Model           string // Empty selects the variant's configured default
	System          string
	Prompt          string
	MaxOutputTokens int
}

// ProviderResponse is a normalized provider reply
type ProviderResponse struct {
	Text         string
	FinishReason FinishReason
	Provider     string
	Model        string
}

// Client is the capability every provider variant implements
type Client interface {
	// Submit sends one analysis request and normalizes the reply
	Submit(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)

	// Provider returns the variant's configured name
	Provider() string
}

// helper to create a rate limiter from RPM and burst
func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// Factory creates provider clients. The active variant is a pure function
// of the configured provider name, resolved once.
type Factory struct {
	config *config.Config
	logger *loggy.Logger
}

// NewFactory creates a new LLM client factory
func NewFactory(cfg *config.Config, logger *loggy.Logger) *Factory {
	return &Factory{config: cfg, logger: logger}
}

// GetClient returns the variant for the given provider name
func (f *Factory) GetClient(provider string) (Client, error) {
	cfg := f.config

	switch provider {
	case config.ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("OpenAI client not configured - missing API key")
		}
		return &openAIAdapter{
			client:   openai.NewClient(cfg.OpenAI),
			provider: config.ProviderOpenAI,
			limiter:  newLimiter(cfg.OpenAI.RequestsPerMinute, cfg.OpenAI.BurstLimit),
		}, nil

	case config.ProviderAzureOpenAI:
		if cfg.AzureOpenAI.APIKey == "" {
			return nil, fmt.Errorf("Azure OpenAI client not configured - missing API key")
		}
		return &openAIAdapter{
			client:   openai.NewAzureClient(cfg.AzureOpenAI),
			provider: config.ProviderAzureOpenAI,
			limiter:  newLimiter(cfg.AzureOpenAI.RequestsPerMinute, cfg.AzureOpenAI.BurstLimit),
		}, nil

	case config.ProviderAnthropic:
		if cfg.Claude.APIKey == "" {
			return nil, fmt.Errorf("Claude client not configured - missing API key")
		}
		return &claudeAdapter{
			client:  claude.NewClient(cfg.Claude),
			limiter: newLimiter(cfg.Claude.RequestsPerMinute, cfg.Claude.BurstLimit),
		}, nil

	case config.ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("Gemini client not configured - missing API key")
		}
		return &geminiAdapter{
			client:  gemini.NewClient(cfg.Gemini),
			limiter: newLimiter(cfg.Gemini.RequestsPerMinute, cfg.Gemini.BurstLimit),
		}, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// Default returns the client for the configured default provider
func (f *Factory) Default() (Client, error) {
	client, err := f.GetClient(f.config.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolving default provider %s: %w", f.config.Provider, err)
	}
	f.logger.Info("initialized LLM provider", "provider", f.config.Provider)
	return client, nil
}
