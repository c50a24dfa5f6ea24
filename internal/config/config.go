// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	BindAddress        string        `env:"TCS_BIND_ADDRESS" envDefault:"127.0.0.1:9842"`
	UnixSocketPath     string        `env:"TCS_UNIX_SOCKET"`
	RequireBearerToken bool          `env:"TCS_REQUIRE_TOKEN" envDefault:"true"`
	BearerToken        string        `env:"TCS_BEARER_TOKEN"`
	DatabasePath       string        `env:"TCS_DB_PATH" envDefault:"task-calendar-sync.db"`
	VaultSecret        string        `env:"TCS_VAULT_SECRET"`
	GoogleClientID     string        `env:"TCS_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"TCS_GOOGLE_CLIENT_SECRET"`
	RequestTimeout     time.Duration `env:"TCS_REQUEST_TIMEOUT" envDefault:"15s"`
	EventDuration      time.Duration `env:"TCS_EVENT_DURATION" envDefault:"60m"`
	SelfTestAccount    string        `env:"TCS_SELFTEST_ACCOUNT"`
	LogLevel           string        `env:"TCS_LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BindAddress = strings.TrimSpace(cfg.BindAddress)
	cfg.UnixSocketPath = strings.TrimSpace(cfg.UnixSocketPath)
	cfg.BearerToken = strings.TrimSpace(cfg.BearerToken)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BindAddress == "" && c.UnixSocketPath == "" {
		return errors.New("either bind address or unix socket path must be configured")
	}
	if c.RequireBearerToken && c.BearerToken == "" {
		return errors.New("TCS_BEARER_TOKEN is required when token auth is enabled")
	}
	if c.DatabasePath == "" {
		return errors.New("TCS_DB_PATH is required")
	}
	if c.VaultSecret == "" {
		return errors.New("TCS_VAULT_SECRET is required")
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return errors.New("TCS_GOOGLE_CLIENT_ID and TCS_GOOGLE_CLIENT_SECRET are required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if c.EventDuration <= 0 {
		return errors.New("event duration must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
