package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := GetDefaults()
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Defaults failed validation: %v", err)
	}

	if !cfg.Privacy.Enabled || !cfg.Privacy.PreRedact {
		t.Error("Expected redaction and pre-redaction on by default")
	}
	if cfg.Privacy.IncludeMatches {
		t.Error("Expected original matches to be withheld by default")
	}
	if cfg.Server.WriteTimeout <= cfg.Completion.Timeout {
		t.Errorf("Write timeout %s must outlast completion timeout %s", cfg.Server.WriteTimeout, cfg.Completion.Timeout)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"no detectors", func(c *Config) { c.Privacy.Detectors = nil }},
		{"base url", func(c *Config) { c.Completion.BaseURL = "localhost" }},
		{"model", func(c *Config) { c.Completion.Model = "" }},
		{"timeout", func(c *Config) { c.Completion.Timeout = 0 }},
		{"attempts", func(c *Config) { c.Completion.MaxAttempts = 0 }},
		{"rate limit", func(c *Config) { c.RateLimit.RequestsPerMin = 0 }},
		{"cache url", func(c *Config) { c.Cache.Enabled = true; c.Cache.RedisURL = "" }},
		{"database url", func(c *Config) { c.Database.Enabled = true; c.Database.DatabaseURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	t.Run("rate limit disabled skips its checks", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.RequestsPerMin = 0
		if err := validateConfig(cfg); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
privacy:
  detectors: ["PHONE", "EMAIL"]
  pre_redact: false
completion:
  model: llama3:8b
  timeout: 45s
  max_attempts: 2
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Privacy.Detectors) != 2 || cfg.Privacy.Detectors[0] != "PHONE" {
		t.Errorf("Unexpected detectors: %v", cfg.Privacy.Detectors)
	}
	if cfg.Privacy.PreRedact {
		t.Error("Expected pre_redact to be overridden")
	}
	if cfg.Completion.Model != "llama3:8b" || cfg.Completion.Timeout != 45*time.Second || cfg.Completion.MaxAttempts != 2 {
		t.Errorf("Unexpected completion config: %+v", cfg.Completion)
	}
	if cfg.Completion.BaseURL != "http://localhost:11434" {
		t.Errorf("Expected default base URL to survive, got %s", cfg.Completion.BaseURL)
	}
}
