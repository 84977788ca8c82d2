package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/cua
auth:
  jwt_secret: test-secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.LLM.DefaultModel == "" {
		t.Fatalf("expected a default model")
	}
	if cfg.Scheduler.MaxConcurrentTasks != 4 {
		t.Fatalf("expected default max_concurrent_tasks 4, got %d", cfg.Scheduler.MaxConcurrentTasks)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/cua
auth:
  jwt_secret: test-secret
server:
  extra_bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: test-secret
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "database.url") {
		t.Fatalf("expected database.url validation error, got %v", err)
	}
}

func TestLoadEnvOverridesJWTSecret(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/cua
auth:
  jwt_secret: from-file
`)

	t.Setenv("CUA_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env override to win, got %q", cfg.Auth.JWTSecret)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cua.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
