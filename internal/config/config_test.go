package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tasksync/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TASKSYNC_TEST_TOKEN", "ghp_test")

	yamlContent := `
database:
  path: "test.db"
sync:
  enabled: true
  interval: "30s"
providers:
  github:
    enabled: true
    token: "${TASKSYNC_TEST_TOKEN}"
    owner: "acme"
    repo: "tasks"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Providers.GitHub.Token != "ghp_test" {
		t.Errorf("expected expanded token ghp_test, got %s", cfg.Providers.GitHub.Token)
	}
	if cfg.Sync.IntervalDuration() != 30*time.Second {
		t.Errorf("expected interval 30s, got %s", cfg.Sync.IntervalDuration())
	}
	if cfg.Database.Source() != "test.db" {
		t.Errorf("expected sqlite source test.db, got %s", cfg.Database.Source())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "hub mode without url", mutate: func(c *Config) { c.Sync.Mode = ModeHub }, wantErr: true},
		{name: "hub mode with url", mutate: func(c *Config) { c.Sync.Mode = ModeHub; c.Sync.HubURL = "http://hub" }, wantErr: false},
		{name: "mysql without dsn", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage.Driver = "s3" }, wantErr: true},
		{name: "database storage", mutate: func(c *Config) { c.Storage.Driver = "database" }, wantErr: false},
		{name: "redis storage without address", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: true},
		{name: "bad fallback", mutate: func(c *Config) { c.Sync.FallbackStrategy = "drop" }, wantErr: true},
		{name: "bad context", mutate: func(c *Config) { c.Detection.Context = "kernel" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Sync.MaxAttempts != models.DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", models.DefaultMaxAttempts, cfg.Sync.MaxAttempts)
	}
	if cfg.Detection.TTL() != time.Hour {
		t.Errorf("expected feature ttl 1h, got %s", cfg.Detection.TTL())
	}
	if cfg.Detection.ProbeTimeout() != 5*time.Second {
		t.Errorf("expected probe timeout 5s, got %s", cfg.Detection.ProbeTimeout())
	}
	if cfg.Sync.RetentionDays != 7 {
		t.Errorf("expected retention 7 days, got %d", cfg.Sync.RetentionDays)
	}
	if cfg.Sync.Mode != ModeStandalone {
		t.Errorf("expected standalone mode, got %s", cfg.Sync.Mode)
	}
	if cfg.Sync.IntervalDuration() != 5*time.Minute {
		t.Errorf("expected default interval 5m, got %s", cfg.Sync.IntervalDuration())
	}
}
