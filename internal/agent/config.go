package agent

import (
	"errors"
	"time"

	"github.com/JaimeStill/marker/internal/session"
)

// Config bounds the loop.
type Config struct {
	MaxIterations       int
	ConfidenceThreshold float64
	// RetryBackoff holds the wait before each retry of a failed tool call;
	// its length is the retry count.
	RetryBackoff []time.Duration
	ToolTimeout  time.Duration
	StageTimeout time.Duration
}

// DefaultConfig returns the standard loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       3,
		ConfidenceThreshold: 0.90,
		RetryBackoff:        []time.Duration{500 * time.Millisecond, time.Second},
		ToolTimeout:         20 * time.Second,
		StageTimeout:        60 * time.Second,
	}
}

// Accepts reports whether a reflection ends the loop: it passed with at
// least the threshold confidence.
func (c Config) Accepts(r session.Reflection) bool {
	return r.Pass && r.Confidence >= c.ConfidenceThreshold
}

// Exhausted reports whether iteration is the last one allowed.
func (c Config) Exhausted(iteration int) bool {
	return iteration >= c.MaxIterations
}

func (c Config) validate() error {
	if c.MaxIterations < 1 {
		return errors.New("max iterations must be at least 1")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.New("confidence threshold must be within [0, 1]")
	}
	if c.ToolTimeout <= 0 || c.StageTimeout <= 0 {
		return errors.New("tool and stage timeouts must be positive")
	}
	return nil
}
