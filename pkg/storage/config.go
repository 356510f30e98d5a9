package storage

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Providers accepted by Config.Provider.
const (
	ProviderAzure  = "azure"
	ProviderMemory = "memory"
)

// MaxListCap bounds the page size requested from the blob listing API.
const MaxListCap int32 = 5000

// Config holds blob storage connection parameters.
type Config struct {
	Provider         string `toml:"provider"`
	ContainerName    string `toml:"container_name"`
	ConnectionString string `toml:"connection_string"`
	MaxListSize      int32  `toml:"max_list_size"`
	MaxRetries       int32  `toml:"max_retries"`
	RetryDelay       string `toml:"retry_delay"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Provider         string
	ContainerName    string
	ConnectionString string
	MaxListSize      string
	MaxRetries       string
	RetryDelay       string
}

// RetryDelayDuration returns RetryDelay as a time.Duration.
func (c *Config) RetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Provider != "" {
		c.Provider = overlay.Provider
	}
	if overlay.ContainerName != "" {
		c.ContainerName = overlay.ContainerName
	}
	if overlay.ConnectionString != "" {
		c.ConnectionString = overlay.ConnectionString
	}
	if overlay.MaxListSize != 0 {
		c.MaxListSize = overlay.MaxListSize
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryDelay != "" {
		c.RetryDelay = overlay.RetryDelay
	}
}

func (c *Config) loadDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderAzure
	}
	if c.ContainerName == "" {
		c.ContainerName = "pages"
	}
	if c.MaxListSize == 0 {
		c.MaxListSize = 500
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == "" {
		c.RetryDelay = "800ms"
	}
	if c.MaxListSize > MaxListCap {
		c.MaxListSize = MaxListCap
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Provider != "" {
		if v := os.Getenv(env.Provider); v != "" {
			c.Provider = v
		}
	}
	if env.ContainerName != "" {
		if v := os.Getenv(env.ContainerName); v != "" {
			c.ContainerName = v
		}
	}
	if env.ConnectionString != "" {
		if v := os.Getenv(env.ConnectionString); v != "" {
			c.ConnectionString = v
		}
	}
	if env.MaxListSize != "" {
		if v := os.Getenv(env.MaxListSize); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.MaxListSize = int32(min(n, int(MaxListCap)))
			}
		}
	}
	if env.MaxRetries != "" {
		if n, err := strconv.Atoi(os.Getenv(env.MaxRetries)); err == nil {
			c.MaxRetries = int32(n)
		}
	}
	if env.RetryDelay != "" {
		if v := os.Getenv(env.RetryDelay); v != "" {
			c.RetryDelay = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAzure:
		if c.ConnectionString == "" {
			return fmt.Errorf("connection_string required for azure provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown storage provider %q", c.Provider)
	}
	if c.ContainerName == "" {
		return fmt.Errorf("container_name required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid max_retries: %d", c.MaxRetries)
	}
	if d, err := time.ParseDuration(c.RetryDelay); err != nil || d <= 0 {
		return fmt.Errorf("invalid retry_delay %q", c.RetryDelay)
	}
	return nil
}
