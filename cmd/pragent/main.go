package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hollowlog/pragent/internal/app"
)

// Version information - populated at build time
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "pragent",
		Usage: "LLM-powered pull request review service",
		Description: "Pragent listens for GitHub pull request webhooks, analyzes the diff\n" +
			"with the configured LLM provider, and posts review comments back to\n" +
			"the pull request.",
		Version: Version,
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Load configuration from this env file before reading the environment",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Override the configured listening port",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Override the configured LLM provider (openai, azure_openai, anthropic, gemini)",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("pragent %s (built %s, commit %s)\n", Version, BuildTime, CommitHash)
					return nil
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("pragent: %v", err)
	}
}

func serve(c *cli.Context) error {
	// Flag overrides win over the environment, so set them before the
	// config is loaded.
	if c.IsSet("port") {
		os.Setenv("PRAGENT_PORT", strconv.Itoa(c.Int("port")))
	}
	if c.IsSet("provider") {
		os.Setenv("PRAGENT_LLM_PROVIDER", c.String("provider"))
	}

	application, err := app.New(c.String("env-file"), Version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Serve(ctx)
}
