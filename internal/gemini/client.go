// Package gemini implements an HTTP client for the Google Generative
// Language API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/fault"
	"github.com/hollowlog/pragent/internal/loggy"
)

// Client represents a Gemini API client
type Client struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	defaultModel string
	maxTokens    int
	temperature  float64
	maxRetries   int
	httpClient   *http.Client
}

// NewClient creates a new Gemini client from config
func NewClient(cfg config.GeminiConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = "gemini-2.5-pro"
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		apiVersion:   apiVersion,
		defaultModel: defaultModel,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxRetries:   cfg.MaxRetries,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

// GenerateContent sends a non-streaming generation request to Gemini
func (c *Client) GenerateContent(ctx context.Context, model string, req GenerateRequest) (*GenerateResponse, error) {
	if model == "" {
		model = c.defaultModel
	}

	if req.GenerationConfig == nil {
		cfg := &GenerationConfig{MaxOutputTokens: c.maxTokens}
		if c.temperature > 0 {
			temp := c.temperature
			cfg.Temperature = &temp
		}
		req.GenerationConfig = cfg
	}

	var resp GenerateResponse
	path := fmt.Sprintf("models/%s:generateContent", model)
	if err := c.makeRequest(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}
	return &resp, nil
}

// makeRequest posts the body and decodes the response with bounded retries.
// The API key travels as a query parameter, per the Generative Language API.
func (c *Client) makeRequest(ctx context.Context, path string, body interface{}, response interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s?key=%s", c.baseURL, c.apiVersion, path, c.apiKey)
	attempts := 0

	operation := func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return c.capRetries(fault.Wrap(fault.Timeout, "gemini.generate", err), attempts)
			}
			return c.capRetries(fault.Wrap(fault.UpstreamError, "gemini.generate", err), attempts)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.capRetries(fault.Wrap(fault.UpstreamError, "gemini.generate", err), attempts)
		}

		if resp.StatusCode != http.StatusOK {
			loggy.Debug("Gemini API error response", "status", resp.StatusCode, "body_length", len(respBody))
			return c.capRetries(classifyStatus(resp.StatusCode, respBody), attempts)
		}

		if err := json.Unmarshal(respBody, response); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)), ctx)
	return backoff.Retry(operation, bo)
}

func (c *Client) capRetries(err error, attempts int) error {
	if attempts-1 >= fault.RetryBudget(err, c.maxRetries) {
		return backoff.Permanent(err)
	}
	return err
}

func classifyStatus(status int, body []byte) error {
	var cause error
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorDetail != nil {
		cause = &apiErr
	} else {
		cause = fmt.Errorf("API error (status %d): %s", status, string(body))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Wrap(fault.AuthError, "gemini.generate", cause)
	case status == http.StatusTooManyRequests:
		return fault.Wrap(fault.RateLimited, "gemini.generate", cause)
	default:
		return fault.Wrap(fault.UpstreamError, "gemini.generate", cause)
	}
}
