package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mapLookup(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestApplyEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	applyEnv(&cfg, mapLookup(map[string]string{
		"DATABASE_URL":      "postgres://fimai@localhost/fimai",
		"PORT":              "9090",
		"RATE_LIMIT_WINDOW": "30",
		"RATE_LIMIT_MAX":    "5",
		"JWT_TTL":           "2h",
		"SMTP_HOST":         "smtp.example.com",
	}))

	if cfg.Database.DSN != "postgres://fimai@localhost/fimai" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Max != 5 {
		t.Fatalf("expected max 5, got %d", cfg.RateLimit.Max)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Fatalf("expected 2h ttl, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.SMTP.Host != "smtp.example.com" {
		t.Fatalf("unexpected smtp host %q", cfg.SMTP.Host)
	}
}

func TestFinalizeProductionRequiresSecret(t *testing.T) {
	cfg := Default()
	cfg.Env = EnvProduction
	cfg.Auth.JWTSecret = "short"

	err := cfg.finalize()
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired, got %v", err)
	}
}

func TestFinalizeProductionAcceptsCompleteConfig(t *testing.T) {
	cfg := Default()
	cfg.Env = EnvProduction
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"

	if err := cfg.finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestFinalizeRejectsMissingDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = "  "

	if err := cfg.finalize(); !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("expected ErrMissingRequired, got %v", err)
	}
}

func TestFinalizeRejectsInvalidSchema(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"

	if err := cfg.finalize(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 7000\nusage:\n  retention_days: 14\nlogging:\n  level: debug\n")
	if errWrite := os.WriteFile(path, content, 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	t.Setenv("LOG_LEVEL", "warn")

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected port 7000, got %d", cfg.Server.Port)
	}
	if cfg.Usage.RetentionDays != 14 {
		t.Fatalf("expected retention 14, got %d", cfg.Usage.RetentionDays)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env to win, got %q", cfg.Logging.Level)
	}
}
