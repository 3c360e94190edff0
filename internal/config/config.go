// Package config holds the process configuration. It is loaded once at
// startup from environment variables and immutable afterwards; components
// receive the sections they need explicitly.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Provider names accepted by PRAGENT_LLM_PROVIDER.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure_openai"
	ProviderAnthropic   = "anthropic"
	ProviderGemini      = "gemini"
)

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Provider    string // Which LLM provider handles review requests
	Server      ServerConfig
	GitHub      GitHubConfig
	Review      ReviewConfig
	OpenAI      OpenAIConfig
	AzureOpenAI AzureOpenAIConfig
	Claude      ClaudeConfig
	Gemini      GeminiConfig
	Logging     LoggingConfig
}

// ServerConfig represents the webhook HTTP server configuration
type ServerConfig struct {
	Port            int           // Listening port
	WebhookSecret   string        // Shared secret for webhook signature verification
	Workers         int           // Number of background review workers
	QueueSize       int           // Buffered capacity of the review queue
	ShutdownTimeout time.Duration // Grace period for draining in-flight runs
}

// GitHubConfig represents GitHub API configuration
type GitHubConfig struct {
	Token           string        // GitHub token used for diff reads and comment writes
	APIURL          string        // GitHub API base URL (enterprise support)
	RequestTimeout  time.Duration // Timeout for diff extraction calls
	PublishTimeout  time.Duration // Timeout for comment posting calls
	MaxRetries      int           // Bounded retries for transient failures
	FallbackComment bool          // Post an issue comment when a review comment fails
	FailureNotice   bool          // Post a notice comment when a whole run fails
}

// ReviewConfig represents prompt building and orchestration configuration
type ReviewConfig struct {
	InputTokenBudget   int // Provider input budget per chunk, in tokens
	OverlapLines       int // Trailing context lines repeated into the next chunk
	MaxConcurrentFiles int // Files analyzed in parallel within one run
	MaxDeliveries      int // Size of the duplicate-delivery suppression window
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string // Optional override for OpenAI-compatible endpoints
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BurstLimit        int
}

// AzureOpenAIConfig holds Azure-hosted OpenAI configuration
type AzureOpenAIConfig struct {
	APIKey            string
	Endpoint          string // Azure resource endpoint, required for this provider
	APIVersion        string
	Deployment        string // Deployment name, doubles as the model identifier
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BurstLimit        int
}

// ClaudeConfig holds Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey            string
	BaseURL           string
	APIVersion        string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BurstLimit        int
}

// GeminiConfig holds Google Gemini API configuration
type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	APIVersion        string // v1 or v1beta
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	BurstLimit        int
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool
	TimeFormat string
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.validateGitHub(); err != nil {
		return fmt.Errorf("github config: %w", err)
	}
	if err := c.validateReview(); err != nil {
		return fmt.Errorf("review config: %w", err)
	}
	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OpenAI API key cannot be empty")
		}
	case ProviderAzureOpenAI:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("Azure OpenAI API key cannot be empty")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("Azure OpenAI endpoint cannot be empty")
		}
	case ProviderAnthropic:
		if c.Claude.APIKey == "" {
			return fmt.Errorf("Claude API key cannot be empty")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("Gemini API key cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported provider: %q", c.Provider)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	return nil
}

func (c *Config) validateGitHub() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if c.GitHub.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.GitHub.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive")
	}
	if c.GitHub.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.InputTokenBudget <= 0 {
		return fmt.Errorf("input token budget must be positive")
	}
	if c.Review.OverlapLines < 0 {
		return fmt.Errorf("overlap lines cannot be negative")
	}
	if c.Review.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("max concurrent files must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	format := strings.ToLower(c.Logging.Format)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

// getEnvString returns a string from the environment variable
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an int from the environment variable
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool returns a bool from the environment variable
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration returns a time.Duration from the environment variable
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvFloat returns a float64 from the environment variable
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
