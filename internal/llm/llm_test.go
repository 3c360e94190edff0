package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/loggy"
)

func factoryConfig() *config.Config {
	cfg := config.New()
	cfg.Provider = config.ProviderAnthropic
	cfg.OpenAI = config.OpenAIConfig{APIKey: "sk-openai", Timeout: time.Minute, MaxRetries: 1}
	cfg.AzureOpenAI = config.AzureOpenAIConfig{APIKey: "az-key", Endpoint: "https://example.openai.azure.com", Timeout: time.Minute, MaxRetries: 1}
	cfg.Claude = config.ClaudeConfig{APIKey: "sk-claude", Timeout: time.Minute, MaxRetries: 1}
	cfg.Gemini = config.GeminiConfig{APIKey: "g-key", Timeout: time.Minute, MaxRetries: 1}
	return cfg
}

func TestFactoryGetClient(t *testing.T) {
	factory := NewFactory(factoryConfig(), loggy.NewNoopLogger())

	for _, provider := range []string{
		config.ProviderOpenAI,
		config.ProviderAzureOpenAI,
		config.ProviderAnthropic,
		config.ProviderGemini,
	} {
		t.Run(provider, func(t *testing.T) {
			client, err := factory.GetClient(provider)
			require.NoError(t, err)
			assert.Equal(t, provider, client.Provider())
		})
	}

	t.Run("unknown provider", func(t *testing.T) {
		_, err := factory.GetClient("llamafarm")
		assert.Error(t, err)
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := factoryConfig()
		cfg.Gemini.APIKey = ""
		factory := NewFactory(cfg, loggy.NewNoopLogger())
		_, err := factory.GetClient(config.ProviderGemini)
		assert.Error(t, err)
	})
}

func TestFactoryDefault(t *testing.T) {
	cfg := factoryConfig()
	cfg.Provider = config.ProviderGemini

	factory := NewFactory(cfg, loggy.NewNoopLogger())
	client, err := factory.Default()
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGemini, client.Provider())
}

func TestClaudeAdapterSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system text", req["system"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-3-7-sonnet-20250219",
			"content":     []map[string]any{{"type": "text", "text": "analysis"}},
			"stop_reason": "max_tokens",
		})
	}))
	defer server.Close()

	cfg := factoryConfig()
	cfg.Claude.BaseURL = server.URL

	client, err := NewFactory(cfg, loggy.NewNoopLogger()).GetClient(config.ProviderAnthropic)
	require.NoError(t, err)

	resp, err := client.Submit(context.Background(), ProviderRequest{
		System:          "system text",
		Prompt:          "diff here",
		MaxOutputTokens: 500,
	})

	require.NoError(t, err)
	assert.Equal(t, "analysis", resp.Text)
	assert.Equal(t, FinishTruncated, resp.FinishReason)
	assert.Equal(t, config.ProviderAnthropic, resp.Provider)
}

func TestGeminiAdapterSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req, "systemInstruction")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": "gemini says"}}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer server.Close()

	cfg := factoryConfig()
	cfg.Gemini.BaseURL = server.URL

	client, err := NewFactory(cfg, loggy.NewNoopLogger()).GetClient(config.ProviderGemini)
	require.NoError(t, err)

	resp, err := client.Submit(context.Background(), ProviderRequest{
		System: "sys",
		Prompt: "diff",
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini says", resp.Text)
	assert.Equal(t, FinishComplete, resp.FinishReason)
}

func TestOpenAIAdapterSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4-turbo",
			"choices": []map[string]any{{
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "openai says"},
			}},
		})
	}))
	defer server.Close()

	cfg := factoryConfig()
	cfg.OpenAI.BaseURL = server.URL

	client, err := NewFactory(cfg, loggy.NewNoopLogger()).GetClient(config.ProviderOpenAI)
	require.NoError(t, err)

	resp, err := client.Submit(context.Background(), ProviderRequest{System: "sys", Prompt: "diff"})

	require.NoError(t, err)
	assert.Equal(t, "openai says", resp.Text)
	assert.Equal(t, FinishComplete, resp.FinishReason)
}

func TestNormalizeFinishReasons(t *testing.T) {
	assert.Equal(t, FinishComplete, normalizeClaudeStop("end_turn"))
	assert.Equal(t, FinishTruncated, normalizeClaudeStop("max_tokens"))
	assert.Equal(t, FinishError, normalizeClaudeStop(""))

	assert.Equal(t, FinishComplete, normalizeGeminiFinish("STOP"))
	assert.Equal(t, FinishTruncated, normalizeGeminiFinish("MAX_TOKENS"))
	assert.Equal(t, FinishError, normalizeGeminiFinish("SAFETY"))

	assert.Equal(t, FinishComplete, normalizeOpenAIFinish("stop"))
	assert.Equal(t, FinishTruncated, normalizeOpenAIFinish("length"))
	assert.Equal(t, FinishError, normalizeOpenAIFinish("content_filter"))
}
