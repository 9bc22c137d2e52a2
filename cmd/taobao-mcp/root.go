package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maltedev/taobao-scraper/internal/config"
)

// globals is filled by the root command before any subcommand runs.
type globals struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "taobao-mcp",
		Short: "Taobao/Tmall product scraper and MCP server",
		Long: `taobao-mcp drives a persistent, logged-in browser session to scrape
Taobao and Tmall product pages.

It serves the scraper as MCP tools for agents (stdio or streamable HTTP)
and can scrape products from the command line into Markdown files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = newLogger(cfg.Logging)
			slog.SetDefault(g.logger)
			return nil
		},
	}

	cmd.AddCommand(
		newServeCmd(g),
		newLoginCmd(g),
		newScrapeCmd(g),
		newConsumeCmd(g),
		newInstallCmd(),
	)

	return cmd
}

// newLogger writes to stderr; stdout carries the MCP stdio stream.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
