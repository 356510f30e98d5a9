package config

import (
	"fmt"

	"github.com/JaimeStill/marker/internal/grading"
	"github.com/JaimeStill/marker/internal/review"
)

const (
	EnvGradingWorkers    = "MARKER_GRADING_WORKERS"
	EnvGradingPollWait   = "MARKER_GRADING_POLL_WAIT"
	EnvGradingJobTimeout = "MARKER_GRADING_JOB_TIMEOUT"
	EnvGradingMaxPages   = "MARKER_GRADING_MAX_PAGES"

	EnvReviewMaxPerPage    = "MARKER_REVIEW_MAX_PER_PAGE"
	EnvReviewMaxAttempts   = "MARKER_REVIEW_MAX_ATTEMPTS"
	EnvReviewTaskTimeout   = "MARKER_REVIEW_TASK_TIMEOUT"
	EnvReviewLockTTL       = "MARKER_REVIEW_LOCK_TTL"
	EnvReviewLockEnabled   = "MARKER_REVIEW_LOCK_ENABLED"
	EnvReviewWorkers       = "MARKER_REVIEW_WORKERS"
	EnvReviewPollWait      = "MARKER_REVIEW_POLL_WAIT"
	EnvReviewStaleAfter    = "MARKER_REVIEW_STALE_AFTER"
	EnvReviewSweepInterval = "MARKER_REVIEW_SWEEP_INTERVAL"
)

// GradingConfig configures the page-grading worker pool.
type GradingConfig struct {
	Workers    int    `toml:"workers"`
	PollWait   string `toml:"poll_wait"`
	JobTimeout string `toml:"job_timeout"`
	MaxPages   int    `toml:"max_pages"`
}

// Settings converts the section into pipeline settings. maxUploadSize comes
// from the API section.
func (c *GradingConfig) Settings(maxUploadSize int64) grading.Config {
	return grading.Config{
		Workers:       c.Workers,
		PollWait:      duration(c.PollWait),
		JobTimeout:    duration(c.JobTimeout),
		MaxPages:      c.MaxPages,
		MaxUploadSize: maxUploadSize,
	}
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *GradingConfig) Finalize() error {
	defaults := grading.DefaultConfig()
	fallback(&c.Workers, defaults.Workers)
	fallback(&c.PollWait, defaults.PollWait.String())
	fallback(&c.JobTimeout, defaults.JobTimeout.String())
	fallback(&c.MaxPages, defaults.MaxPages)

	envInt(&c.Workers, EnvGradingWorkers)
	envString(&c.PollWait, EnvGradingPollWait)
	envString(&c.JobTimeout, EnvGradingJobTimeout)
	envInt(&c.MaxPages, EnvGradingMaxPages)

	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("invalid max_pages: %d", c.MaxPages)
	}
	return checkDurations("poll_wait", c.PollWait, "job_timeout", c.JobTimeout)
}

// Merge overwrites non-zero fields from overlay.
func (c *GradingConfig) Merge(overlay *GradingConfig) {
	override(&c.Workers, overlay.Workers)
	override(&c.PollWait, overlay.PollWait)
	override(&c.JobTimeout, overlay.JobTimeout)
	override(&c.MaxPages, overlay.MaxPages)
}

// ReviewConfig configures the review policy and its worker pool.
type ReviewConfig struct {
	MaxPerPage    int    `toml:"max_per_page"`
	MaxAttempts   int    `toml:"max_attempts"`
	TaskTimeout   string `toml:"task_timeout"`
	LockTTL       string `toml:"lock_ttl"`
	LockEnabled   *bool  `toml:"lock_enabled"`
	Workers       int    `toml:"workers"`
	PollWait      string `toml:"poll_wait"`
	StaleAfter    string `toml:"stale_after"`
	SweepInterval string `toml:"sweep_interval"`
}

// Settings converts the section into review policy settings.
func (c *ReviewConfig) Settings() review.Config {
	return review.Config{
		MaxPerPage:    c.MaxPerPage,
		MaxAttempts:   c.MaxAttempts,
		TaskTimeout:   duration(c.TaskTimeout),
		LockTTL:       duration(c.LockTTL),
		Workers:       c.Workers,
		PollWait:      duration(c.PollWait),
		StaleAfter:    duration(c.StaleAfter),
		SweepInterval: duration(c.SweepInterval),
	}
}

// Locking reports whether review tasks take the distributed lock.
func (c *ReviewConfig) Locking() bool {
	return boolValue(c.LockEnabled)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ReviewConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. lock_enabled applies
// whenever the overlay sets it.
func (c *ReviewConfig) Merge(overlay *ReviewConfig) {
	override(&c.MaxPerPage, overlay.MaxPerPage)
	override(&c.MaxAttempts, overlay.MaxAttempts)
	override(&c.TaskTimeout, overlay.TaskTimeout)
	override(&c.LockTTL, overlay.LockTTL)
	if overlay.LockEnabled != nil {
		c.LockEnabled = overlay.LockEnabled
	}
	override(&c.Workers, overlay.Workers)
	override(&c.PollWait, overlay.PollWait)
	override(&c.StaleAfter, overlay.StaleAfter)
	override(&c.SweepInterval, overlay.SweepInterval)
}

func (c *ReviewConfig) loadDefaults() {
	d := review.DefaultConfig()
	fallback(&c.MaxPerPage, d.MaxPerPage)
	fallback(&c.MaxAttempts, d.MaxAttempts)
	fallback(&c.TaskTimeout, d.TaskTimeout.String())
	fallback(&c.LockTTL, d.LockTTL.String())
	if c.LockEnabled == nil {
		enabled := true
		c.LockEnabled = &enabled
	}
	fallback(&c.Workers, d.Workers)
	fallback(&c.PollWait, d.PollWait.String())
	fallback(&c.StaleAfter, d.StaleAfter.String())
	fallback(&c.SweepInterval, d.SweepInterval.String())
}

func (c *ReviewConfig) loadEnv() {
	envInt(&c.MaxPerPage, EnvReviewMaxPerPage)
	envInt(&c.MaxAttempts, EnvReviewMaxAttempts)
	envString(&c.TaskTimeout, EnvReviewTaskTimeout)
	envString(&c.LockTTL, EnvReviewLockTTL)
	envBool(&c.LockEnabled, EnvReviewLockEnabled)
	envInt(&c.Workers, EnvReviewWorkers)
	envString(&c.PollWait, EnvReviewPollWait)
	envString(&c.StaleAfter, EnvReviewStaleAfter)
	envString(&c.SweepInterval, EnvReviewSweepInterval)
}

func (c *ReviewConfig) validate() error {
	if c.MaxPerPage < 0 {
		return fmt.Errorf("invalid max_per_page: %d", c.MaxPerPage)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid max_attempts: %d", c.MaxAttempts)
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers: %d", c.Workers)
	}
	if err := checkDurations(
		"task_timeout", c.TaskTimeout,
		"lock_ttl", c.LockTTL,
		"poll_wait", c.PollWait,
		"stale_after", c.StaleAfter,
		"sweep_interval", c.SweepInterval,
	); err != nil {
		return err
	}
	if duration(c.LockTTL) < duration(c.TaskTimeout) {
		return fmt.Errorf("lock_ttl %s shorter than task_timeout %s", c.LockTTL, c.TaskTimeout)
	}
	if duration(c.StaleAfter) <= duration(c.TaskTimeout) {
		return fmt.Errorf("stale_after %s must exceed task_timeout %s", c.StaleAfter, c.TaskTimeout)
	}
	return nil
}
