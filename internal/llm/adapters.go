package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hollowlog/pragent/internal/claude"
	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/gemini"
	"github.com/hollowlog/pragent/internal/openai"
)

// claudeAdapter adapts the Claude client to the gateway Client interface
type claudeAdapter struct {
	client  *claude.Client
	limiter *rate.Limiter
}

func (a *claudeAdapter) Provider() string {
	return config.ProviderAnthropic
}

func (a *claudeAdapter) Submit(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	resp, err := a.client.GenerateMessage(ctx, claude.MessageRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxOutputTokens,
		Messages:  []claude.Message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("claude submission failed: %w", err)
	}

	return &ProviderResponse{
		Text:         resp.Text(),
		FinishReason: normalizeClaudeStop(resp.StopReason),
		Provider:     config.ProviderAnthropic,
		Model:        resp.Model,
	}, nil
}

func normalizeClaudeStop(stopReason string) FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return FinishComplete
	case "max_tokens":
		return FinishTruncated
	default:
		return FinishError
	}
}

// geminiAdapter adapts the Gemini client to the gateway Client interface
type geminiAdapter struct {
	client  *gemini.Client
	limiter *rate.Limiter
}

func (a *geminiAdapter) Provider() string {
	return config.ProviderGemini
}

func (a *geminiAdapter) Submit(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	genReq := gemini.GenerateRequest{
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: req.Prompt}}},
		},
	}
	if req.System != "" {
		genReq.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: req.System}}}
	}
	if req.MaxOutputTokens > 0 {
		genReq.GenerationConfig = &gemini.GenerationConfig{MaxOutputTokens: req.MaxOutputTokens}
	}

	resp, err := a.client.GenerateContent(ctx, req.Model, genReq)
	if err != nil {
		return nil, fmt.Errorf("gemini submission failed: %w", err)
	}

	return &ProviderResponse{
		Text:         resp.Text(),
		FinishReason: normalizeGeminiFinish(resp.FinishReason()),
		Provider:     config.ProviderGemini,
		Model:        req.Model,
	}, nil
}

func normalizeGeminiFinish(finishReason string) FinishReason {
	switch finishReason {
	case "STOP":
		return FinishComplete
	case "MAX_TOKENS":
		return FinishTruncated
	default:
		return FinishError
	}
}

// openAIAdapter adapts the OpenAI client to the gateway Client interface.
// It serves both the plain OpenAI and the Azure-hosted variants.
type openAIAdapter struct {
	client   *openai.Client
	provider string
	limiter  *rate.Limiter
}

func (a *openAIAdapter) Provider() string {
	return a.provider
}

func (a *openAIAdapter) Submit(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	result, err := a.client.CreateChatCompletion(ctx, req.Model, req.System, req.Prompt, req.MaxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("%s submission failed: %w", a.provider, err)
	}

	return &ProviderResponse{
		Text:         result.Content,
		FinishReason: normalizeOpenAIFinish(result.FinishReason),
		Provider:     a.provider,
		Model:        result.Model,
	}, nil
}

func normalizeOpenAIFinish(finishReason string) FinishReason {
	switch finishReason {
	case "stop":
		return FinishComplete
	case "length":
		return FinishTruncated
	default:
		return FinishError
	}
}
