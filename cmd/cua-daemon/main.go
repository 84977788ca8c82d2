// Package main provides the CLI entry point for the Daemon process: the
// local computer-use executor described in spec.md, reachable over HTTP
// by the Agent's remote client (C2).
//
// # Basic Usage
//
// Start the daemon on X display :1:
//
//	cua-daemon serve --config daemon.yaml --display 1
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelrun/cua-agent/internal/automation"
	"github.com/kestrelrun/cua-agent/internal/config"
	"github.com/kestrelrun/cua-agent/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string
	var display int

	root := &cobra.Command{
		Use:   "cua-daemon",
		Short: "Computer-use daemon: executes actions on a local X11 display",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, display)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "daemon.yaml", "path to YAML configuration file")
	root.Flags().IntVar(&display, "display", -1, "X11 display number to execute on (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string, displayOverride int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)

	displayNumber := cfg.LLM.Display.Number
	if displayOverride >= 0 {
		displayNumber = displayOverride
	}

	executor := automation.NewLocalExecutor(displayNumber)
	server := daemon.New(daemon.Config{Executor: executor, Logger: logger})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("daemon listening", "addr", httpServer.Addr, "display", displayNumber)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	logger.Info("daemon stopped")
	return nil
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
