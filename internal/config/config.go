package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"tasksync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sync modes.
const (
	ModeStandalone = "standalone"
	ModeHub        = "hub"
)

// Fallback strategies when neither the database nor the file queue can take a record.
const (
	FallbackQueue = "queue"
	FallbackError = "error"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Storage    StorageConfig    `yaml:"storage"`
	Detection  DetectionConfig  `yaml:"detection"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Tasks      TasksConfig      `yaml:"tasks"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or mysql
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // mysql dsn
}

// Source returns the driver-specific data source name.
func (d DatabaseConfig) Source() string {
	if d.Driver == "mysql" {
		return d.DSN
	}
	return d.Path
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SyncConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Mode             string `yaml:"mode"`
	Interval         string `yaml:"interval"`
	HubURL           string `yaml:"hub_url"`
	HubAPIKey        string `yaml:"hub_api_key"`
	FallbackStrategy string `yaml:"fallback_strategy"`
	// DirectSync lets a standalone node drain to its provider without a reachable hub.
	DirectSync       bool   `yaml:"direct_sync"`
	MaxAttempts      int    `yaml:"max_attempts"`
	RetentionDays    int    `yaml:"retention_days"`
	BatchSize        int    `yaml:"batch_size"`
	QueuePath        string `yaml:"queue_path"`
}

// IntervalDuration parses Interval, falling back to five minutes.
func (s SyncConfig) IntervalDuration() time.Duration {
	if d, err := time.ParseDuration(s.Interval); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // file, redis, database or memory
	Path   string `yaml:"path"`
	Prefix string `yaml:"prefix"`
}

type DetectionConfig struct {
	CacheTTL        int    `yaml:"cache_ttl"` // seconds
	NetworkCheckURL string `yaml:"network_check_url"`
	Timeout         int    `yaml:"timeout"` // seconds
	Context         string `yaml:"context"` // server, cli or browser
}

func (d DetectionConfig) TTL() time.Duration {
	return time.Duration(d.CacheTTL) * time.Second
}

func (d DetectionConfig) ProbeTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

type ProvidersConfig struct {
	GitHub GitHubConfig `yaml:"github"`
}

type GitHubConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	BaseURL string `yaml:"base_url"`
}

type TasksConfig struct {
	Driver string `yaml:"driver"` // file or database
	Path   string `yaml:"path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	HeaderAPIKey string   `yaml:"header_api_key"`
	APIKeys      []string `yaml:"api_keys"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// Load reads .env (if present), expands environment references in the YAML file and
// applies defaults before validating.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "mysql":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for mysql")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Sync.Mode {
	case ModeStandalone, ModeHub:
	default:
		return fmt.Errorf("unsupported sync mode %q", c.Sync.Mode)
	}
	if c.Sync.Mode == ModeHub && c.Sync.HubURL == "" {
		return errors.New("sync.hub_url is required in hub mode")
	}

	switch c.Sync.FallbackStrategy {
	case FallbackQueue, FallbackError:
	default:
		return fmt.Errorf("unsupported fallback strategy %q", c.Sync.FallbackStrategy)
	}

	switch c.Storage.Driver {
	case "file", "memory", "database":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("storage.driver=redis requires redis.address")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch c.Tasks.Driver {
	case "file", "database":
	default:
		return fmt.Errorf("unsupported tasks driver %q", c.Tasks.Driver)
	}

	switch c.Detection.Context {
	case "server", "cli", "browser":
	default:
		return fmt.Errorf("unsupported detection context %q", c.Detection.Context)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tasksync"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Driver == "sqlite3" && c.Database.Path == "" {
		c.Database.Path = "storage/tasksync.db"
	}

	c.Sync.Mode = strings.ToLower(strings.TrimSpace(c.Sync.Mode))
	if c.Sync.Mode == "" {
		c.Sync.Mode = ModeStandalone
	}
	if c.Sync.FallbackStrategy == "" {
		c.Sync.FallbackStrategy = FallbackQueue
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.RetentionDays == 0 {
		c.Sync.RetentionDays = models.DefaultRetentionDays
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.QueuePath == "" {
		c.Sync.QueuePath = "storage/taskmanager/sync_queue/queue.json"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "storage/offline"
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = "tasksync:"
	}

	if c.Detection.CacheTTL == 0 {
		c.Detection.CacheTTL = models.DefaultFeatureTTL
	}
	if c.Detection.Timeout == 0 {
		c.Detection.Timeout = models.DefaultProbeTimeout
	}
	if c.Detection.Context == "" {
		c.Detection.Context = "cli"
	}

	if c.Tasks.Driver == "" {
		c.Tasks.Driver = "file"
	}
	if c.Tasks.Path == "" {
		c.Tasks.Path = "storage/taskmanager/tasks.json"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
