// Package config loads the YAML configuration shared by cmd/cua-agent and
// cmd/cua-daemon, with environment variable overrides applied on top.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	LLM      LLMConfig      `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the Agent's HTTP API and realtime gateway (C12/C7).
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// DatabaseConfig configures the shared Postgres pool (C11).
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig configures JWT verification for the HTTP API (C12).
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// LLMConfig configures the provider adapters and router (C5/C6).
type LLMConfig struct {
	DefaultModel      string        `yaml:"default_model"`
	UnhealthyCooldown time.Duration `yaml:"unhealthy_cooldown"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	GeminiAPIKey      string        `yaml:"gemini_api_key"`
	Display           DisplayConfig `yaml:"display"`
}

// DisplayConfig describes the daemon's screen geometry, passed to the
// Anthropic computer-use tool definition.
type DisplayConfig struct {
	WidthPx  int `yaml:"width_px"`
	HeightPx int `yaml:"height_px"`
	Number   int `yaml:"number"`
}

// SchedulerConfig configures the task scheduler (C9).
type SchedulerConfig struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
}

// DaemonConfig configures the Agent's client for the Daemon's computer-use
// endpoint (C2) and the Daemon's own listen address.
type DaemonConfig struct {
	BaseURL string        `yaml:"base_url"`
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures the log/slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, expands ${VAR} references against the environment,
// decodes strict YAML, applies environment variable overrides, fills
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: parse: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CUA_HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CUA_JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CUA_DAEMON_BASE_URL")); v != "" {
		cfg.Daemon.BaseURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.UnhealthyCooldown == 0 {
		cfg.LLM.UnhealthyCooldown = 30 * time.Second
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = 500 * time.Millisecond
	}
	if cfg.LLM.Display.WidthPx == 0 {
		cfg.LLM.Display.WidthPx = 1280
	}
	if cfg.LLM.Display.HeightPx == 0 {
		cfg.LLM.Display.HeightPx = 800
	}
	if cfg.Scheduler.MaxConcurrentTasks == 0 {
		cfg.Scheduler.MaxConcurrentTasks = 4
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 5 * time.Second
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 30 * time.Second
	}
	if cfg.Daemon.Host == "" {
		cfg.Daemon.Host = "0.0.0.0"
	}
	if cfg.Daemon.Port == 0 {
		cfg.Daemon.Port = 9990
	}
	if cfg.Daemon.Timeout == 0 {
		cfg.Daemon.Timeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format must be json or text, got %q", cfg.Logging.Format)
	}
	return nil
}
