package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Poll          PollConfig          `yaml:"poll"`
	Age           AgeConfig           `yaml:"age"`
	Failures      FailuresConfig      `yaml:"failures"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Terminal      TerminalConfig      `yaml:"terminal"`
	Log           LogConfig           `yaml:"log"`
	Listen        ListenConfig        `yaml:"listen"`
	Mock          MockConfig          `yaml:"mock"`
}

// ServerConfig locates the preview server the client talks to.
type ServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ConfirmAfter int           `yaml:"confirm_after"`
	// ListInterval is how often the session list is refreshed.
	ListInterval time.Duration `yaml:"list_interval"`
}

type AgeConfig struct {
	Tick    time.Duration `yaml:"tick"`
	Refresh time.Duration `yaml:"refresh"`
}

type FailuresConfig struct {
	WatchInterval time.Duration `yaml:"watch_interval"`
}

type NotificationsConfig struct {
	// Expiration applies to informational notifications. Failure
	// notifications stay until dismissed.
	Expiration time.Duration `yaml:"expiration"`
}

type TerminalConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ListenConfig is the mock server's bind address.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MockConfig drives the mock server's lifecycle simulator.
type MockConfig struct {
	Tick         time.Duration `yaml:"tick"`
	SeedSessions int           `yaml:"seed_sessions"`
	// FailureRate is the chance, per started session, that it fails to
	// start instead.
	FailureRate float64 `yaml:"failure_rate"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "http://127.0.0.1:8080",
		},
		Poll: PollConfig{
			Interval:     time.Second,
			ConfirmAfter: 1,
			ListInterval: 5 * time.Second,
		},
		Age: AgeConfig{
			Tick:    time.Second,
			Refresh: 10 * time.Second,
		},
		Failures: FailuresConfig{
			WatchInterval: 15 * time.Second,
		},
		Notifications: NotificationsConfig{
			Expiration: 5 * time.Second,
		},
		Terminal: TerminalConfig{
			ReconcileInterval: 10 * time.Second,
			PingInterval:      30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  "preview-tui.log",
		},
		Listen: ListenConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Mock: MockConfig{
			Tick:         time.Second,
			SeedSessions: 4,
			FailureRate:  0.25,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// An empty path also yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("poll.interval", c.Poll.Interval)
	positive("poll.list_interval", c.Poll.ListInterval)
	positive("age.tick", c.Age.Tick)
	positive("age.refresh", c.Age.Refresh)
	positive("failures.watch_interval", c.Failures.WatchInterval)
	positive("terminal.reconcile_interval", c.Terminal.ReconcileInterval)
	positive("mock.tick", c.Mock.Tick)
	if c.Poll.ConfirmAfter < 1 {
		errs = append(errs, fmt.Errorf("poll.confirm_after must be at least 1, got %d", c.Poll.ConfirmAfter))
	}
	if c.Notifications.Expiration < 0 {
		errs = append(errs, fmt.Errorf("notifications.expiration must not be negative"))
	}
	if c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("mock.failure_rate must be within [0,1], got %v", c.Mock.FailureRate))
	}
	if _, err := c.Log.ParseLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps log.level to a zerolog level. An empty level is info.
func (l LogConfig) ParseLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Addr returns host:port for the mock server listener.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}
