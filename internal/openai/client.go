// Package openai wraps the go-openai SDK for plain OpenAI and Azure-hosted
// OpenAI deployments behind one client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
)

// ChatResult is the trimmed-down completion result the pipeline consumes
type ChatResult struct {
	Content      string
	FinishReason string // "stop", "length", or provider-specific
	Model        string
}

// Client wraps an OpenAI-compatible chat completion client
type Client struct {
	client      *goopenai.Client
	op          string // fault op label, distinguishes azure from plain openai
	model       string
	maxTokens   int
	temperature float32
	maxRetries  int
}

// NewClient creates a client for the OpenAI API, honoring an optional
// base URL override for OpenAI-compatible endpoints.
func NewClient(cfg config.OpenAIConfig) *Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = goopenai.GPT4Turbo
	}

	return &Client{
		client:      goopenai.NewClientWithConfig(clientCfg),
		op:          "openai.chat",
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		maxRetries:  cfg.MaxRetries,
	}
}

// NewAzureClient creates a client for an Azure-hosted OpenAI deployment
func NewAzureClient(cfg config.AzureOpenAIConfig) *Client {
	clientCfg := goopenai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client:      goopenai.NewClientWithConfig(clientCfg),
		op:          "azure_openai.chat",
		model:       cfg.Deployment,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		maxRetries:  cfg.MaxRetries,
	}
}

// CreateChatCompletion sends a system+user chat completion request,
// retrying transient failures with exponential backoff.
func (c *Client) CreateChatCompletion(ctx context.Context, model, system, user string, maxTokens int) (*ChatResult, error) {
	if model == "" {
		model = c.model
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	req := goopenai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	}

	var result *ChatResult
	attempts := 0

	operation := func() error {
		attempts++

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			classified := c.classify(err)
			if attempts-1 >= fault.RetryBudget(classified, c.maxRetries) {
				return backoff.Permanent(classified)
			}
			return classified
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(fault.New(fault.UpstreamError, c.op, "response contained no choices"))
		}

		choice := resp.Choices[0]
		result = &ChatResult{
			Content:      choice.Message.Content,
			FinishReason: string(choice.FinishReason),
			Model:        resp.Model,
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("creating chat completion: %w", err)
	}
	return result, nil
}

// classify maps SDK errors to fault kinds
func (c *Client) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, c.op, err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fault.Wrap(fault.AuthError, c.op, err)
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fault.Wrap(fault.RateLimited, c.op, err)
		default:
			return fault.Wrap(fault.UpstreamError, c.op, err)
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden:
			return fault.Wrap(fault.AuthError, c.op, err)
		case reqErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fault.Wrap(fault.RateLimited, c.op, err)
		}
	}

	return fault.Wrap(fault.UpstreamError, c.op, err)
}
