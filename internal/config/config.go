// Package config loads the service configuration from config.toml, an
// optional config.<env>.toml overlay, and MARKER_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/marker/pkg/cache"
	"github.com/JaimeStill/marker/pkg/database"
	"github.com/JaimeStill/marker/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvMarkerEnv             = "MARKER_ENV"
	EnvMarkerShutdownTimeout = "MARKER_SHUTDOWN_TIMEOUT"
	EnvMarkerVersion         = "MARKER_VERSION"
)

// DatabaseEnv names the MARKER_DB_* variables; cmd/migrate shares them.
var DatabaseEnv = &database.Env{
	Host:            "MARKER_DB_HOST",
	Port:            "MARKER_DB_PORT",
	Name:            "MARKER_DB_NAME",
	User:            "MARKER_DB_USER",
	Password:        "MARKER_DB_PASSWORD",
	SSLMode:         "MARKER_DB_SSL_MODE",
	MaxOpenConns:    "MARKER_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "MARKER_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "MARKER_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "MARKER_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Provider:         "MARKER_STORAGE_PROVIDER",
	ContainerName:    "MARKER_STORAGE_CONTAINER_NAME",
	ConnectionString: "MARKER_STORAGE_CONNECTION_STRING",
	MaxListSize:      "MARKER_STORAGE_MAX_LIST_SIZE",
	MaxRetries:       "MARKER_STORAGE_MAX_RETRIES",
	RetryDelay:       "MARKER_STORAGE_RETRY_DELAY",
}

var redisEnv = &cache.Env{
	Addr:        "MARKER_REDIS_ADDR",
	Password:    "MARKER_REDIS_PASSWORD",
	DB:          "MARKER_REDIS_DB",
	PoolSize:    "MARKER_REDIS_POOL_SIZE",
	DialTimeout: "MARKER_REDIS_DIAL_TIMEOUT",
	KeyPrefix:   "MARKER_REDIS_KEY_PREFIX",
}

// Config is the root configuration for the marker service.
type Config struct {
	Server          ServerConfig         `toml:"server"`
	Database        database.Config      `toml:"database"`
	Storage         storage.Config       `toml:"storage"`
	Redis           cache.Config         `toml:"redis"`
	API             APIConfig            `toml:"api"`
	Agent           gaconfig.AgentConfig `toml:"agent"`
	Loop            LoopConfig           `toml:"loop"`
	Tools           ToolsConfig          `toml:"tools"`
	Grading         GradingConfig        `toml:"grading"`
	Review          ReviewConfig         `toml:"review"`
	ShutdownTimeout string               `toml:"shutdown_timeout"`
	Version         string               `toml:"version"`
}

// Env returns the MARKER_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvMarkerEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout)
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	override(&c.ShutdownTimeout, overlay.ShutdownTimeout)
	override(&c.Version, overlay.Version)
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Redis.Merge(&overlay.Redis)
	c.API.Merge(&overlay.API)
	c.Agent.Merge(&overlay.Agent)
	c.Loop.Merge(&overlay.Loop)
	c.Tools.Merge(&overlay.Tools)
	c.Grading.Merge(&overlay.Grading)
	c.Review.Merge(&overlay.Review)
}

// Finalize applies defaults and environment overrides to every section and
// validates the result, including constraints that span sections.
func (c *Config) Finalize() error {
	fallback(&c.ShutdownTimeout, "30s")
	fallback(&c.Version, "0.1.0")
	envString(&c.ShutdownTimeout, EnvMarkerShutdownTimeout)
	envString(&c.Version, EnvMarkerVersion)

	if err := checkDurations("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}

	sections := []struct {
		name     string
		finalize func() error
	}{
		{"server", c.Server.Finalize},
		{"database", func() error { return c.Database.Finalize(DatabaseEnv) }},
		{"storage", func() error { return c.Storage.Finalize(storageEnv) }},
		{"redis", func() error { return c.Redis.Finalize(redisEnv) }},
		{"api", c.API.Finalize},
		{"agent", func() error { return FinalizeAgent(&c.Agent) }},
		{"loop", c.Loop.Finalize},
		{"tools", c.Tools.Finalize},
		{"grading", c.Grading.Finalize},
		{"review", c.Review.Finalize},
	}
	for _, s := range sections {
		if err := s.finalize(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	if duration(c.Review.TaskTimeout) >= duration(c.Grading.JobTimeout) {
		return fmt.Errorf(
			"review task_timeout %s must be shorter than grading job_timeout %s",
			c.Review.TaskTimeout, c.Grading.JobTimeout,
		)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvMarkerEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
