package config

import (
	"fmt"

	"github.com/JaimeStill/marker/pkg/mathsandbox"
)

const (
	EnvToolsIndexKey       = "MARKER_TOOLS_INDEX_KEY"
	EnvToolsIndexCacheSize = "MARKER_TOOLS_INDEX_CACHE_SIZE"
	EnvToolsMathTimeout    = "MARKER_TOOLS_MATH_TIMEOUT"
	EnvToolsMathMaxLength  = "MARKER_TOOLS_MATH_MAX_LENGTH"
)

// ToolsConfig configures the tools the loop may call.
type ToolsConfig struct {
	// IndexKey is the Redis hash holding the question index.
	IndexKey       string `toml:"index_key"`
	IndexCacheSize int    `toml:"index_cache_size"`
	MathTimeout    string `toml:"math_timeout"`
	MathMaxLength  int    `toml:"math_max_length"`
}

// SandboxLimits returns the math sandbox limits with the configured
// timeout and length applied.
func (c *ToolsConfig) SandboxLimits() mathsandbox.Limits {
	limits := mathsandbox.DefaultLimits()
	limits.Timeout = duration(c.MathTimeout)
	limits.MaxLength = c.MathMaxLength
	return limits
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ToolsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if c.IndexKey == "" {
		return fmt.Errorf("index_key required")
	}
	if c.IndexCacheSize < 1 {
		return fmt.Errorf("invalid index_cache_size: %d", c.IndexCacheSize)
	}
	if c.MathMaxLength < 1 {
		return fmt.Errorf("invalid math_max_length: %d", c.MathMaxLength)
	}
	return checkDurations("math_timeout", c.MathTimeout)
}

// Merge overwrites non-zero fields from overlay.
func (c *ToolsConfig) Merge(overlay *ToolsConfig) {
	override(&c.IndexKey, overlay.IndexKey)
	override(&c.IndexCacheSize, overlay.IndexCacheSize)
	override(&c.MathTimeout, overlay.MathTimeout)
	override(&c.MathMaxLength, overlay.MathMaxLength)
}

func (c *ToolsConfig) loadDefaults() {
	limits := mathsandbox.DefaultLimits()
	fallback(&c.IndexKey, "question-index")
	fallback(&c.IndexCacheSize, 256)
	fallback(&c.MathTimeout, limits.Timeout.String())
	fallback(&c.MathMaxLength, limits.MaxLength)
}

func (c *ToolsConfig) loadEnv() {
	envString(&c.IndexKey, EnvToolsIndexKey)
	envInt(&c.IndexCacheSize, EnvToolsIndexCacheSize)
	envString(&c.MathTimeout, EnvToolsMathTimeout)
	envInt(&c.MathMaxLength, EnvToolsMathMaxLength)
}
