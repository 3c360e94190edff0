// Package claude implements an HTTP client for the Anthropic messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/loggy"
)

// Client represents an Anthropic Claude API client
type Client struct {
	apiKey           string
	baseURL          string
	apiVersion       string
	defaultModel     string
	defaultMaxTokens int
	temperature      float64
	maxRetries       int
	httpClient       *http.Client
}

// NewClient creates a new Claude client from config
func NewClient(cfg config.ClaudeConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2023-06-01"
	}

	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = "claude-3-7-sonnet-20250219"
	}

	defaultMaxTokens := cfg.MaxTokens
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 2000
	}

	return &Client{
		apiKey:           cfg.APIKey,
		baseURL:          baseURL,
		apiVersion:       apiVersion,
		defaultModel:     defaultModel,
		defaultMaxTokens: defaultMaxTokens,
		temperature:      cfg.Temperature,
		maxRetries:       cfg.MaxRetries,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
	}
}

// GenerateMessage sends a non-streaming message request to Claude
func (c *Client) GenerateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.defaultMaxTokens
	}
	if req.Temperature == nil && c.temperature > 0 {
		temp := c.temperature
		req.Temperature = &temp
	}
	req.Stream = false

	var resp MessageResponse
	if err := c.makeRequest(ctx, "/v1/messages", req, &resp); err != nil {
		return nil, fmt.Errorf("generating message: %w", err)
	}
	return &resp, nil
}

// makeRequest posts the body and decodes the response, retrying transient
// failures with exponential backoff up to the configured ceiling.
func (c *Client) makeRequest(ctx context.Context, path string, body interface{}, response interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	url := c.baseURL + path
	attempts := 0

	operation := func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", c.apiVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.capRetries(classifyTransportError(err), attempts)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.capRetries(fault.Wrap(fault.UpstreamError, "claude.messages", err), attempts)
		}

		if resp.StatusCode != http.StatusOK {
			loggy.Debug("Claude API error response", "status", resp.StatusCode, "body_length", len(respBody))
			return c.capRetries(classifyStatus(resp, respBody), attempts)
		}

		if err := json.Unmarshal(respBody, response); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(operation, bo)
}

// capRetries marks the error permanent once its kind's retry budget is spent
func (c *Client) capRetries(err error, attempts int) error {
	if attempts-1 >= fault.RetryBudget(err, c.maxRetries) {
		return backoff.Permanent(err)
	}
	return err
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.Timeout, "claude.messages", err)
	}
	return fault.Wrap(fault.UpstreamError, "claude.messages", err)
}

// classifyStatus maps an HTTP error response to a fault kind
func classifyStatus(resp *http.Response, body []byte) error {
	cause := parseAPIError(body, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.Wrap(fault.AuthError, "claude.messages", cause)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &fault.Error{
			Kind:       fault.RateLimited,
			Op:         "claude.messages",
			Err:        cause,
			RetryAfter: retryAfterOf(resp),
		}
	default:
		return fault.Wrap(fault.UpstreamError, "claude.messages", cause)
	}
}

func parseAPIError(body []byte, status int) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorDetails.Message == "" {
		return fmt.Errorf("API error (status %d): %s", status, string(body))
	}
	return &apiErr
}

func retryAfterOf(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
