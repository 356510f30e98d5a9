package grading

import (
	"errors"
	"time"
)

// Config holds the pipeline settings.
type Config struct {
	Workers       int
	PollWait      time.Duration
	JobTimeout    time.Duration
	MaxPages      int
	MaxUploadSize int64
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		PollWait:      2 * time.Second,
		JobTimeout:    15 * time.Minute,
		MaxPages:      50,
		MaxUploadSize: 32 << 20,
	}
}

func (c Config) validate() error {
	switch {
	case c.JobTimeout <= 0:
		return errors.New("grading job timeout must be positive")
	case c.PollWait <= 0:
		return errors.New("grading poll wait must be positive")
	case c.MaxPages < 1:
		return errors.New("grading max pages must be at least 1")
	}
	return nil
}
