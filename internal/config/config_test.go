package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		BindAddress:        "127.0.0.1:1",
		RequireBearerToken: true,
		BearerToken:        "secret",
		DatabasePath:       "sync.db",
		VaultSecret:        "vault",
		GoogleClientID:     "client",
		GoogleClientSecret: "client-secret",
		RequestTimeout:     time.Second,
		EventDuration:      time.Hour,
		LogLevel:           "info",
	}
}

func TestLoadSuccess(t *testing.T) {
	t.Setenv("TCS_BIND_ADDRESS", "127.0.0.1:9999")
	t.Setenv("TCS_BEARER_TOKEN", "secret")
	t.Setenv("TCS_VAULT_SECRET", "vault")
	t.Setenv("TCS_GOOGLE_CLIENT_ID", "client")
	t.Setenv("TCS_GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("TCS_REQUEST_TIMEOUT", "5s")
	t.Setenv("TCS_EVENT_DURATION", "30m")
	t.Setenv("TCS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddress != "127.0.0.1:9999" {
		t.Fatalf("unexpected bind address: %q", cfg.BindAddress)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.RequestTimeout)
	}
	if cfg.EventDuration != 30*time.Minute {
		t.Fatalf("unexpected event duration: %v", cfg.EventDuration)
	}
	if cfg.DatabasePath != "task-calendar-sync.db" {
		t.Fatalf("expected default db path, got %q", cfg.DatabasePath)
	}
}

func TestValidateErrors(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.BindAddress = ""; c.UnixSocketPath = "" }},
		{"token required but empty", func(c *Config) { c.BearerToken = "" }},
		{"no db path", func(c *Config) { c.DatabasePath = "" }},
		{"no vault secret", func(c *Config) { c.VaultSecret = "" }},
		{"no google client", func(c *Config) { c.GoogleClientID = "" }},
		{"no google secret", func(c *Config) { c.GoogleClientSecret = "" }},
		{"bad timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
		{"bad event duration", func(c *Config) { c.EventDuration = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %+v", cfg)
			}
		})
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateAllowsTokenlessWhenDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.RequireBearerToken = false
	cfg.BearerToken = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected tokenless config to validate: %v", err)
	}
}
