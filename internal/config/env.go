package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst **bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = &b
		}
	}
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(dst *[]string, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// duration parses a value already checked by checkDurations.
func duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// checkDurations validates name/value pairs, requiring positive durations.
func checkDurations(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		d, err := time.ParseDuration(pairs[i+1])
		if err != nil {
			return fmt.Errorf("invalid %s: %w", pairs[i], err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", pairs[i])
		}
	}
	return nil
}

// override copies v into dst unless v is the zero value.
func override[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// fallback sets dst to def when dst holds the zero value.
func fallback[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
