// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"fmt"

	"github.com/hollowlog/pragent/internal/config"
	"github.com/hollowlog/pragent/internal/github"
	"github.com/hollowlog/pragent/internal/llm"
	"github.com/hollowlog/pragent/internal/loggy"
	"github.com/hollowlog/pragent/internal/review"
	"github.com/hollowlog/pragent/internal/server"
	"github.com/hollowlog/pragent/internal/webhook"
)

// App represents the application instance with its dependencies
type App struct {
	Config *config.Config
	GitHub *github.Service
	LLM    llm.Client
	Review *review.Service
	Server *server.Server
}

// New initializes a new application instance with all its dependencies.
func New(envFile, version string) (*App, error) {
	cfg, err := initConfig(envFile)
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", version,
		"provider", cfg.Provider,
		"log_level", cfg.Logging.Level,
	)

	app, err := initServices(cfg, version)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig(envFile string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices wires the pipeline: GitHub access, the provider gateway,
// the review orchestrator, and the webhook server around them.
func initServices(cfg *config.Config, version string) (*App, error) {
	logger := loggy.GetGlobalLogger()

	ghClient := github.NewClient(cfg.GitHub)
	ghService := github.NewService(ghClient, cfg, logger)

	llmClient, err := llm.NewFactory(cfg, logger).Default()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	reviewService := review.NewService(ghService, llmClient, ghService, cfg, logger)
	gate := webhook.NewGate(cfg, logger)
	srv := server.New(cfg, gate, reviewService, logger, version)

	return &App{
		Config: cfg,
		GitHub: ghService,
		LLM:    llmClient,
		Review: reviewService,
		Server: srv,
	}, nil
}

// Serve runs the webhook server until the context is canceled, then
// shuts down within the configured grace period.
func (a *App) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	loggy.Info("Shutting down", "grace_period", a.Config.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}
