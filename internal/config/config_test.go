package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.RemoteEnabled() {
		t.Error("remote enabled by default")
	}
	if cfg.Reminder.Interval != time.Minute {
		t.Errorf("Reminder.Interval = %v, want 1m", cfg.Reminder.Interval)
	}
	if cfg.Reminder.StartupDelay != 2*time.Second {
		t.Errorf("Reminder.StartupDelay = %v, want 2s", cfg.Reminder.StartupDelay)
	}
	if cfg.Reminder.DedupeTTL != time.Hour {
		t.Errorf("Reminder.DedupeTTL = %v, want 1h", cfg.Reminder.DedupeTTL)
	}
	if !strings.HasSuffix(cfg.CachePath, "flowsync.db") {
		t.Errorf("CachePath = %q, want .../flowsync.db", cfg.CachePath)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "flowsync.yaml", `
data_dir: /tmp/flow
remote:
  backend: redis
  redis_url: redis://localhost:6379/0
share:
  origin: https://example.com
reminder:
  interval: 30s
dashboard:
  enabled: true
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DataDir != "/tmp/flow" || cfg.CachePath != filepath.Join("/tmp/flow", "flowsync.db") {
		t.Errorf("paths = %q, %q", cfg.DataDir, cfg.CachePath)
	}
	if !cfg.RemoteEnabled() || cfg.Remote.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Share.Origin != "https://example.com" || cfg.Share.Locale != "en" {
		t.Errorf("Share = %+v", cfg.Share)
	}
	if cfg.Reminder.Interval != 30*time.Second {
		t.Errorf("Reminder.Interval = %v, want 30s", cfg.Reminder.Interval)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "flowsync.toml", `
[log]
level = "warn"
`)
	t.Setenv("FLOWSYNC_LOG_LEVEL", "debug")
	t.Setenv("FLOWSYNC_IDENTITY_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Identity.JWTSecret != "s3cret" {
		t.Errorf("Identity.JWTSecret = %q", cfg.Identity.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"redis without url", func(c *Config) { c.Remote.Backend = BackendRedis }, "redis_url"},
		{"postgres without url", func(c *Config) { c.Remote.Backend = BackendPostgres }, "postgres_url"},
		{"unknown backend", func(c *Config) { c.Remote.Backend = "s3" }, "unknown remote.backend"},
		{"zero interval", func(c *Config) { c.Reminder.Interval = 0 }, "interval"},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
