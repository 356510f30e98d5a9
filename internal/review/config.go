package review

import (
	"errors"
	"time"
)

// Config holds the review policy and worker settings.
type Config struct {
	MaxPerPage    int
	MaxAttempts   int
	TaskTimeout   time.Duration
	LockTTL       time.Duration
	Workers       int
	PollWait      time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the default review policy.
func DefaultConfig() Config {
	return Config{
		MaxPerPage:    2,
		MaxAttempts:   2,
		TaskTimeout:   45 * time.Second,
		LockTTL:       60 * time.Second,
		Workers:       2,
		PollWait:      2 * time.Second,
		StaleAfter:    5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.New("review max attempts must be at least 1")
	case c.TaskTimeout <= 0:
		return errors.New("review task timeout must be positive")
	case c.LockTTL < c.TaskTimeout:
		return errors.New("review lock ttl must cover the task timeout")
	case c.StaleAfter <= c.TaskTimeout:
		return errors.New("review stale threshold must exceed the task timeout")
	case c.PollWait <= 0 || c.SweepInterval <= 0:
		return errors.New("review poll wait and sweep interval must be positive")
	}
	return nil
}
