package config

import (
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables. An optional
// .env file is read first: envFilePath when given, otherwise ./.env if present.
func LoadFromEnv(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load() // Ignore errors if file doesn't exist
	}

	cfg := New()

	cfg.Provider = getEnvString("PRAGENT_LLM_PROVIDER", ProviderOpenAI)

	cfg.Server = ServerConfig{
		Port:            getEnvInt("PRAGENT_PORT", 8080),
		WebhookSecret:   getEnvString("PRAGENT_WEBHOOK_SECRET", ""),
		Workers:         getEnvInt("PRAGENT_WORKERS", 4),
		QueueSize:       getEnvInt("PRAGENT_QUEUE_SIZE", 64),
		ShutdownTimeout: getEnvDuration("PRAGENT_SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	cfg.GitHub = GitHubConfig{
		Token:           getEnvString("PRAGENT_GITHUB_TOKEN", ""),
		APIURL:          getEnvString("PRAGENT_GITHUB_API_URL", "https://api.github.com"),
		RequestTimeout:  getEnvDuration("PRAGENT_GITHUB_REQUEST_TIMEOUT", 30*time.Second),
		PublishTimeout:  getEnvDuration("PRAGENT_GITHUB_PUBLISH_TIMEOUT", 15*time.Second),
		MaxRetries:      getEnvInt("PRAGENT_GITHUB_MAX_RETRIES", 3),
		FallbackComment: getEnvBool("PRAGENT_GITHUB_FALLBACK_COMMENT", true),
		FailureNotice:   getEnvBool("PRAGENT_GITHUB_FAILURE_NOTICE", true),
	}

	cfg.Review = ReviewConfig{
		InputTokenBudget:   getEnvInt("PRAGENT_REVIEW_INPUT_TOKEN_BUDGET", 8000),
		OverlapLines:       getEnvInt("PRAGENT_REVIEW_OVERLAP_LINES", 5),
		MaxConcurrentFiles: getEnvInt("PRAGENT_REVIEW_MAX_CONCURRENT_FILES", 4),
		MaxDeliveries:      getEnvInt("PRAGENT_REVIEW_MAX_DELIVERIES", 256),
	}

	cfg.OpenAI = OpenAIConfig{
		APIKey:            getEnvString("PRAGENT_OPENAI_API_KEY", ""),
		BaseURL:           getEnvString("PRAGENT_OPENAI_BASE_URL", ""),
		Model:             getEnvString("PRAGENT_OPENAI_MODEL", "gpt-4-turbo"),
		MaxTokens:         getEnvInt("PRAGENT_OPENAI_MAX_TOKENS", 2000),
		Temperature:       getEnvFloat("PRAGENT_OPENAI_TEMPERATURE", 0.3),
		Timeout:           getEnvDuration("PRAGENT_OPENAI_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("PRAGENT_OPENAI_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("PRAGENT_OPENAI_REQUESTS_PER_MINUTE", 60),
		BurstLimit:        getEnvInt("PRAGENT_OPENAI_BURST_LIMIT", 5),
	}

	cfg.AzureOpenAI = AzureOpenAIConfig{
		APIKey:            getEnvString("PRAGENT_AZURE_OPENAI_API_KEY", ""),
		Endpoint:          getEnvString("PRAGENT_AZURE_OPENAI_ENDPOINT", ""),
		APIVersion:        getEnvString("PRAGENT_AZURE_OPENAI_API_VERSION", "2023-05-15"),
		Deployment:        getEnvString("PRAGENT_AZURE_OPENAI_DEPLOYMENT", "gpt-4-turbo"),
		MaxTokens:         getEnvInt("PRAGENT_AZURE_OPENAI_MAX_TOKENS", 2000),
		Temperature:       getEnvFloat("PRAGENT_AZURE_OPENAI_TEMPERATURE", 0.3),
		Timeout:           getEnvDuration("PRAGENT_AZURE_OPENAI_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("PRAGENT_AZURE_OPENAI_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("PRAGENT_AZURE_OPENAI_REQUESTS_PER_MINUTE", 60),
		BurstLimit:        getEnvInt("PRAGENT_AZURE_OPENAI_BURST_LIMIT", 5),
	}

	cfg.Claude = ClaudeConfig{
		APIKey:            getEnvString("PRAGENT_CLAUDE_API_KEY", ""),
		BaseURL:           getEnvString("PRAGENT_CLAUDE_BASE_URL", "https://api.anthropic.com"),
		APIVersion:        getEnvString("PRAGENT_CLAUDE_API_VERSION", "2023-06-01"),
		Model:             getEnvString("PRAGENT_CLAUDE_MODEL", "claude-3-7-sonnet-20250219"),
		MaxTokens:         getEnvInt("PRAGENT_CLAUDE_MAX_TOKENS", 2000),
		Temperature:       getEnvFloat("PRAGENT_CLAUDE_TEMPERATURE", 0.3),
		Timeout:           getEnvDuration("PRAGENT_CLAUDE_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("PRAGENT_CLAUDE_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("PRAGENT_CLAUDE_REQUESTS_PER_MINUTE", 60),
		BurstLimit:        getEnvInt("PRAGENT_CLAUDE_BURST_LIMIT", 5),
	}

	cfg.Gemini = GeminiConfig{
		APIKey:            getEnvString("PRAGENT_GEMINI_API_KEY", ""),
		BaseURL:           getEnvString("PRAGENT_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		APIVersion:        getEnvString("PRAGENT_GEMINI_API_VERSION", "v1beta"),
		Model:             getEnvString("PRAGENT_GEMINI_MODEL", "gemini-2.5-pro"),
		MaxTokens:         getEnvInt("PRAGENT_GEMINI_MAX_TOKENS", 2000),
		Temperature:       getEnvFloat("PRAGENT_GEMINI_TEMPERATURE", 0.3),
		Timeout:           getEnvDuration("PRAGENT_GEMINI_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("PRAGENT_GEMINI_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("PRAGENT_GEMINI_REQUESTS_PER_MINUTE", 60),
		BurstLimit:        getEnvInt("PRAGENT_GEMINI_BURST_LIMIT", 5),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("PRAGENT_LOG_LEVEL", "info"),
		Format:     getEnvString("PRAGENT_LOG_FORMAT", "text"),
		Output:     getEnvString("PRAGENT_LOG_OUTPUT", "stdout"),
		AddSource:  getEnvBool("PRAGENT_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("PRAGENT_LOG_TIME_FORMAT", time.RFC3339),
	}

	return cfg, cfg.Validate()
}
