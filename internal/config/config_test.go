package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/validation"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
	}
	if cfg.Healing.LogCapacity != 50 {
		t.Errorf("expected log capacity 50, got %d", cfg.Healing.LogCapacity)
	}
	if cfg.Scoring.AssessorTimeout != 2*time.Second {
		t.Errorf("expected 2s assessor timeout, got %s", cfg.Scoring.AssessorTimeout)
	}
	if !cfg.Rules.SeedDefaults {
		t.Error("expected seed defaults")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  rate_limit:
    requests: 10
    window: 30s
cache:
  local_max_size: 500
healing:
  notify_recipient: soc-oncall
velocity:
  window: 15m
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit.Requests != 10 || cfg.Server.RateLimit.Window != 30*time.Second {
		t.Errorf("unexpected rate limit: %+v", cfg.Server.RateLimit)
	}
	if cfg.Cache.LocalMaxSize != 500 {
		t.Errorf("expected cache size 500, got %d", cfg.Cache.LocalMaxSize)
	}
	if cfg.Healing.NotifyRecipient != "soc-oncall" {
		t.Errorf("expected soc-oncall, got %s", cfg.Healing.NotifyRecipient)
	}
	if cfg.Velocity.Window != 15*time.Minute {
		t.Errorf("expected 15m, got %s", cfg.Velocity.Window)
	}
	if cfg.Rules.MaxWorkers != 8 {
		t.Errorf("expected untouched default 8, got %d", cfg.Rules.MaxWorkers)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("KESTREL_SERVER_PORT", "7070")
	t.Setenv("KESTREL_EVENT_BUS_CHANNEL_BUFFER_SIZE", "42")
	t.Setenv("KESTREL_SERVER_RATE_LIMIT_ENABLED", "false")
	t.Setenv("KESTREL_HEALING_AUTO_REMEDIATE", "false")
	t.Setenv("KESTREL_SCORING_RESULT_TTL", "1m")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.EventBus.ChannelBufferSize != 42 {
		t.Errorf("expected buffer 42, got %d", cfg.EventBus.ChannelBufferSize)
	}
	if cfg.Server.RateLimit.Enabled {
		t.Error("expected rate limit disabled")
	}
	if cfg.Healing.AutoRemediate {
		t.Error("expected auto remediation disabled")
	}
	if cfg.Scoring.ResultTTL != time.Minute {
		t.Errorf("expected 1m TTL, got %s", cfg.Scoring.ResultTTL)
	}
}

func TestClusterProfile(t *testing.T) {
	t.Setenv(ProfileEnvVar, "cluster")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Repository.Driver != "postgres" || cfg.EventBus.Type != "nats" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("expected cluster defaults, got %s/%s/%v", cfg.Repository.Driver, cfg.EventBus.Type, cfg.Cache.EnableTwoPhase)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("KESTREL_LOGGING_LEVEL", "verbose")
	_, err := LoadFile("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected RequestValidationError, got %T: %v", err, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"KESTREL_SERVER_PORT":              "server.port",
		"KESTREL_SERVER_RATE_LIMIT_WINDOW": "server.rate_limit.window",
		"KESTREL_EVENT_BUS_NATS_URL":       "event_bus.nats_url",
		"KESTREL_CACHE_LOCAL_MAX_SIZE":     "cache.local_max_size",
		"KESTREL_REPOSITORY_SQLITE_PATH":   "repository.sqlite_path",
		"KESTREL_TRACING_SERVICE_NAME":     "tracing.service_name",
		"KESTREL_SOMETHING_ELSE":           "something_else",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %s, want %s", in, got, want)
		}
	}
}
