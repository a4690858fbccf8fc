package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  url: "https://previews.example.com"
  token: "secret"
poll:
  interval: 2s
  confirm_after: 3
age:
  refresh: 30s
log:
  level: debug
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.URL != "https://previews.example.com" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("Server.Token = %q, want secret", cfg.Server.Token)
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Errorf("Poll.Interval = %s, want 2s", cfg.Poll.Interval)
	}
	if cfg.Poll.ConfirmAfter != 3 {
		t.Errorf("Poll.ConfirmAfter = %d, want 3", cfg.Poll.ConfirmAfter)
	}
	if cfg.Age.Refresh != 30*time.Second {
		t.Errorf("Age.Refresh = %s, want 30s", cfg.Age.Refresh)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Age.Tick != time.Second {
		t.Errorf("Age.Tick = %s, want default 1s", cfg.Age.Tick)
	}
	if cfg.Terminal.ReconcileInterval != 10*time.Second {
		t.Errorf("Terminal.ReconcileInterval = %s, want default 10s", cfg.Terminal.ReconcileInterval)
	}
	if lvl, _ := cfg.Log.ParseLevel(); lvl != zerolog.DebugLevel {
		t.Errorf("log level = %s, want debug", lvl)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/path/config.yaml"} {
		cfg, err := LoadOrDefault(path)
		if err != nil {
			t.Fatalf("LoadOrDefault(%q) error: %v", path, err)
		}
		if cfg.Poll.Interval != time.Second {
			t.Errorf("Poll.Interval = %s, want default 1s", cfg.Poll.Interval)
		}
		if cfg.Listen.Addr() != "127.0.0.1:8080" {
			t.Errorf("Listen.Addr() = %q, want 127.0.0.1:8080", cfg.Listen.Addr())
		}
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(cfgPath, []byte(":::not valid yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero poll interval", func(c *Config) { c.Poll.Interval = 0 }, "poll.interval"},
		{"confirm after zero", func(c *Config) { c.Poll.ConfirmAfter = 0 }, "poll.confirm_after"},
		{"negative expiration", func(c *Config) { c.Notifications.Expiration = -time.Second }, "notifications.expiration"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"failure rate", func(c *Config) { c.Mock.FailureRate = 2 }, "mock.failure_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("poll:\n  confirm_after: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() should reject confirm_after 0")
	}
}
