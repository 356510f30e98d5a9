package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/JaimeStill/marker/internal/agent"
)

const (
	EnvLoopMaxIterations       = "MARKER_LOOP_MAX_ITERATIONS"
	EnvLoopConfidenceThreshold = "MARKER_LOOP_CONFIDENCE_THRESHOLD"
	EnvLoopRetryBackoff        = "MARKER_LOOP_RETRY_BACKOFF"
	EnvLoopToolTimeout         = "MARKER_LOOP_TOOL_TIMEOUT"
	EnvLoopStageTimeout        = "MARKER_LOOP_STAGE_TIMEOUT"
	EnvLoopSessionTTL          = "MARKER_LOOP_SESSION_TTL"
	EnvLoopEventTTL            = "MARKER_LOOP_EVENT_TTL"
	EnvLoopRateLimit           = "MARKER_LOOP_RATE_LIMIT"
	EnvLoopBurst               = "MARKER_LOOP_BURST"
)

// LoopConfig bounds the per-page grading loop and the model calls it makes.
type LoopConfig struct {
	MaxIterations       int      `toml:"max_iterations"`
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	RetryBackoff        []string `toml:"retry_backoff"`
	ToolTimeout         string   `toml:"tool_timeout"`
	StageTimeout        string   `toml:"stage_timeout"`
	SessionTTL          string   `toml:"session_ttl"`
	EventTTL            string   `toml:"event_ttl"`
	// RateLimit caps model calls per second across the process; zero
	// disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// Settings converts the section into loop controller bounds.
func (c *LoopConfig) Settings() agent.Config {
	backoff := make([]time.Duration, len(c.RetryBackoff))
	for i, v := range c.RetryBackoff {
		backoff[i] = duration(v)
	}
	return agent.Config{
		MaxIterations:       c.MaxIterations,
		ConfidenceThreshold: c.ConfidenceThreshold,
		RetryBackoff:        backoff,
		ToolTimeout:         duration(c.ToolTimeout),
		StageTimeout:        duration(c.StageTimeout),
	}
}

func (c *LoopConfig) SessionTTLDuration() time.Duration { return duration(c.SessionTTL) }
func (c *LoopConfig) EventTTLDuration() time.Duration   { return duration(c.EventTTL) }

// Finalize applies defaults, environment variable overrides, and validation.
func (c *LoopConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. A non-empty retry_backoff
// replaces the base list entirely.
func (c *LoopConfig) Merge(overlay *LoopConfig) {
	override(&c.MaxIterations, overlay.MaxIterations)
	override(&c.ConfidenceThreshold, overlay.ConfidenceThreshold)
	if len(overlay.RetryBackoff) > 0 {
		c.RetryBackoff = overlay.RetryBackoff
	}
	override(&c.ToolTimeout, overlay.ToolTimeout)
	override(&c.StageTimeout, overlay.StageTimeout)
	override(&c.SessionTTL, overlay.SessionTTL)
	override(&c.EventTTL, overlay.EventTTL)
	override(&c.RateLimit, overlay.RateLimit)
	override(&c.Burst, overlay.Burst)
}

func (c *LoopConfig) loadDefaults() {
	fallback(&c.MaxIterations, 3)
	fallback(&c.ConfidenceThreshold, 0.90)
	if c.RetryBackoff == nil {
		c.RetryBackoff = []string{"500ms", "1s"}
	}
	fallback(&c.ToolTimeout, "20s")
	fallback(&c.StageTimeout, "60s")
	fallback(&c.SessionTTL, "24h")
	fallback(&c.EventTTL, "72h")
	fallback(&c.Burst, 4)
}

func (c *LoopConfig) loadEnv() {
	envInt(&c.MaxIterations, EnvLoopMaxIterations)
	envFloat(&c.ConfidenceThreshold, EnvLoopConfidenceThreshold)
	envList(&c.RetryBackoff, EnvLoopRetryBackoff)
	envString(&c.ToolTimeout, EnvLoopToolTimeout)
	envString(&c.StageTimeout, EnvLoopStageTimeout)
	envString(&c.SessionTTL, EnvLoopSessionTTL)
	envString(&c.EventTTL, EnvLoopEventTTL)
	envFloat(&c.RateLimit, EnvLoopRateLimit)
	envInt(&c.Burst, EnvLoopBurst)
}

func (c *LoopConfig) validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("invalid max_iterations: %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence_threshold: %v", c.ConfidenceThreshold)
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit cannot be negative")
	}
	if c.Burst < 1 {
		return fmt.Errorf("invalid burst: %d", c.Burst)
	}
	for i, v := range c.RetryBackoff {
		if err := checkDurations(fmt.Sprintf("retry_backoff[%d]", i), v); err != nil {
			return err
		}
	}
	return checkDurations(
		"tool_timeout", c.ToolTimeout,
		"stage_timeout", c.StageTimeout,
		"session_ttl", c.SessionTTL,
		"event_ttl", c.EventTTL,
	)
}
