package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kestrelrun/cua-agent/internal/config"
	"github.com/kestrelrun/cua-agent/internal/httpapi"
	"github.com/kestrelrun/cua-agent/internal/messages"
	"github.com/kestrelrun/cua-agent/internal/observability"
	"github.com/kestrelrun/cua-agent/internal/providers"
	"github.com/kestrelrun/cua-agent/internal/realtime"
	"github.com/kestrelrun/cua-agent/internal/reasoning"
	"github.com/kestrelrun/cua-agent/internal/remote"
	"github.com/kestrelrun/cua-agent/internal/routing"
	"github.com/kestrelrun/cua-agent/internal/scheduler"
	"github.com/kestrelrun/cua-agent/internal/storage"
	"github.com/kestrelrun/cua-agent/internal/tasks"
)

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent's HTTP API, scheduler, and reasoning loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info("starting agent", "version", version, "commit", commit, "http_port", cfg.Server.HTTPPort)

	db, err := storage.Open(ctx, storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	taskStore, err := tasks.NewPostgresStore(db)
	if err != nil {
		return fmt.Errorf("build task store: %w", err)
	}
	msgStore, err := messages.NewPostgresStore(db)
	if err != nil {
		return fmt.Errorf("build message store: %w", err)
	}

	locker, err := storage.NewTaskLocker(db, storage.TaskLockerConfig{
		OwnerID: uuid.NewString(),
		TTL:     cfg.Scheduler.LockTTL,
	})
	if err != nil {
		return fmt.Errorf("build task locker: %w", err)
	}
	defer locker.Close()

	router := buildRouter(cfg)

	tracer, flushTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "cua-agent",
		ServiceVersion: version,
		Environment:    cfg.Logging.Level,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := flushTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	daemonClient := remote.New(cfg.Daemon.BaseURL, cfg.Daemon.Timeout)

	gateway := realtime.New()
	wsHandler := realtime.NewHandler(gateway, logger)

	loop := reasoning.New(router, daemonClient, taskStore, msgStore, gateway, tracer, reasoning.Config{
		DefaultModel: cfg.LLM.DefaultModel,
	})

	sched := scheduler.New(taskStore, locker, loop, scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		PollInterval:       cfg.Scheduler.PollInterval,
		Logger:             logger,
	})

	tokens := httpapi.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	server := httpapi.New(httpapi.Config{
		TaskStore:    taskStore,
		MessageStore: msgStore,
		Tokens:       tokens,
		Scheduler:    sched,
		Models:       router,
		Realtime:     wsHandler,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
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

	logger.Info("agent listening", "addr", httpServer.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown error", "error", err)
	}

	logger.Info("agent stopped")
	return nil
}

// buildRouter wires every configured provider adapter behind the model-name
// prefix router (C6). A provider whose API key is empty still registers:
// Router.resolve reports it unavailable rather than routing around it
// silently.
func buildRouter(cfg *config.Config) *routing.Router {
	anthropicAdapter := providers.NewAnthropicAdapter(providers.AnthropicConfig{
		APIKey:          cfg.LLM.AnthropicAPIKey,
		DefaultModel:    cfg.LLM.DefaultModel,
		MaxRetries:      cfg.LLM.MaxRetries,
		RetryDelay:      cfg.LLM.RetryDelay,
		DisplayWidthPx:  cfg.LLM.Display.WidthPx,
		DisplayHeightPx: cfg.LLM.Display.HeightPx,
		DisplayNumber:   cfg.LLM.Display.Number,
	})
	openaiAdapter := providers.NewOpenAIAdapter(cfg.LLM.OpenAIAPIKey, cfg.LLM.DefaultModel, cfg.LLM.MaxRetries, cfg.LLM.RetryDelay)

	router := routing.New(cfg.LLM.DefaultModel, cfg.LLM.UnhealthyCooldown)
	router.Register("claude-", anthropicAdapter)
	router.Register("gpt-", openaiAdapter)

	geminiAdapter, err := providers.NewGeminiAdapter(providers.GeminiConfig{
		APIKey:       cfg.LLM.GeminiAPIKey,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
	})
	if err == nil {
		router.Register("gemini-", geminiAdapter)
	} else {
		slog.Default().Warn("gemini adapter unavailable", "error", err)
	}

	return router
}
