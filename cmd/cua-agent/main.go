// Package main provides the CLI entry point for the Agent process: the
// HTTP API, realtime gateway, scheduler, and reasoning loop described in
// spec.md.
//
// # Basic Usage
//
// Start the agent:
//
//	cua-agent serve --config agent.yaml
//
// Run pending database migrations:
//
//	cua-agent migrate up
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:   "cua-agent",
		Short: "Computer-use agent: task API, scheduler, and reasoning loop",
	}

	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "agent.yaml", "path to YAML configuration file")

	root.AddCommand(buildServeCmd(&configPath))
	root.AddCommand(buildMigrateCmd(&configPath))
	root.AddCommand(buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "cua-agent %s (%s)\n", version, commit)
			return nil
		},
	}
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
