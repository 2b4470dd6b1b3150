package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("PORT", "")
	t.Setenv("IDEMPOTENCY_TTL", "")

	cfg := Load()
	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %s", cfg.Env)
	}
	if cfg.Port != "5002" {
		t.Fatalf("expected default port 5002, got %s", cfg.Port)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected default provider openai, got %s", cfg.LLMProvider)
	}
	if cfg.IdempotencyTTL != 10*time.Minute {
		t.Fatalf("unexpected idempotency ttl: %s", cfg.IdempotencyTTL)
	}
}

func TestLoadNormalizesValues(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		check    func(Config) bool
		describe string
	}{
		{
			name:     "prod alias",
			env:      map[string]string{"ENV": "prod"},
			check:    func(c Config) bool { return c.Env == "production" },
			describe: "env=production",
		},
		{
			name:     "claude provider alias",
			env:      map[string]string{"LLM_PROVIDER": "Claude"},
			check:    func(c Config) bool { return c.LLMProvider == "anthropic" },
			describe: "provider=anthropic",
		},
		{
			name:     "admin emails split",
			env:      map[string]string{"ADMIN_GOOGLE_EMAILS": " a@x.org, ,b@x.org "},
			check:    func(c Config) bool { return len(c.AdminGoogleEmails) == 2 && c.AdminGoogleEmails[1] == "b@x.org" },
			describe: "two trimmed emails",
		},
		{
			name:     "bad duration falls back",
			env:      map[string]string{"IDEMPOTENCY_TTL": "soon"},
			check:    func(c Config) bool { return c.IdempotencyTTL == 10*time.Minute },
			describe: "default ttl",
		},
		{
			name:     "relay url trailing slash",
			env:      map[string]string{"RELAY_BACKEND_URL": "http://flask:5002/"},
			check:    func(c Config) bool { return c.RelayBackendURL == "http://flask:5002" },
			describe: "trimmed relay url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := Load()
			if !tt.check(cfg) {
				t.Fatalf("expected %s, got %+v", tt.describe, cfg)
			}
		})
	}
}

func TestLoadEnvFilesDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LL_TEST_KEY=from-file\nLL_TEST_OTHER=\"quoted\"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LL_TEST_KEY", "from-env")
	t.Setenv("LL_TEST_OTHER", "")
	os.Unsetenv("LL_TEST_OTHER")

	loadEnvFiles(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("LL_TEST_KEY"); got != "from-env" {
		t.Fatalf("expected existing env to win, got %s", got)
	}
	if got := os.Getenv("LL_TEST_OTHER"); got != "quoted" {
		t.Fatalf("expected quoted value from file, got %q", got)
	}
	os.Unsetenv("LL_TEST_OTHER")
}
