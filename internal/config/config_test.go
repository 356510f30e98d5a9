package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/marker/internal/config"
)

const baseConfig = `
shutdown_timeout = "20s"

[server]
port = 8080

[database]
host = "localhost"
name = "marker"
user = "marker"

[storage]
provider = "memory"

[redis]
addr = "redis:6379"

[loop]
max_iterations = 4
retry_backoff = ["100ms", "250ms", "1s"]

[review]
max_per_page = 3
lock_enabled = false
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[review]
task_timeout = "30s"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func agentEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MARKER_AGENT_PROVIDER_NAME", "ollama")
	t.Setenv("MARKER_AGENT_MODEL_NAME", "llava:13b")
}

// minimalEnv satisfies the required database and storage fields.
func minimalEnv(t *testing.T) {
	t.Helper()
	agentEnv(t)
	t.Setenv("MARKER_DB_NAME", "testdb")
	t.Setenv("MARKER_DB_USER", "testuser")
	t.Setenv("MARKER_STORAGE_PROVIDER", "memory")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)
	agentEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.ShutdownTimeoutDuration() != 20*time.Second {
		t.Errorf("shutdown timeout: got %s, want 20s", cfg.ShutdownTimeoutDuration())
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis addr: got %s, want redis:6379", cfg.Redis.Addr)
	}
	if cfg.Redis.KeyPrefix != "marker" {
		t.Errorf("redis key prefix: got %s, want marker", cfg.Redis.KeyPrefix)
	}
	if cfg.API.BasePath != "/api" {
		t.Errorf("api base_path: got %s, want /api", cfg.API.BasePath)
	}

	loop := cfg.Loop.Settings()
	if loop.MaxIterations != 4 {
		t.Errorf("max iterations: got %d, want 4", loop.MaxIterations)
	}
	if len(loop.RetryBackoff) != 3 || loop.RetryBackoff[1] != 250*time.Millisecond {
		t.Errorf("retry backoff: got %v", loop.RetryBackoff)
	}
	if loop.ConfidenceThreshold != 0.90 {
		t.Errorf("confidence threshold: got %v, want 0.90", loop.ConfidenceThreshold)
	}

	if cfg.Review.Locking() {
		t.Error("review locking should be disabled by config")
	}
	if got := cfg.Review.Settings().MaxPerPage; got != 3 {
		t.Errorf("review max per page: got %d, want 3", got)
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	chdir(t, dir)
	agentEnv(t)

	t.Setenv("MARKER_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "staging" {
		t.Errorf("env: got %s, want staging", cfg.Env())
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from defaults)", cfg.Database.Port)
	}
	if got := cfg.Review.Settings().TaskTimeout; got != 30*time.Second {
		t.Errorf("review task timeout: got %s, want 30s (from overlay)", got)
	}
	if cfg.Review.Locking() {
		t.Error("overlay without lock_enabled should keep the base value")
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)
	agentEnv(t)

	t.Setenv("MARKER_VERSION", "2.0.0")
	t.Setenv("MARKER_SERVER_PORT", "3000")
	t.Setenv("MARKER_REVIEW_LOCK_ENABLED", "true")
	t.Setenv("MARKER_LOOP_RETRY_BACKOFF", "50ms, 75ms")
	t.Setenv("MARKER_GRADING_WORKERS", "6")
	t.Setenv("MARKER_API_MAX_UPLOAD_SIZE", "8MB")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if !cfg.Review.Locking() {
		t.Error("review locking should be enabled by env")
	}
	if got := cfg.Loop.Settings().RetryBackoff; len(got) != 2 || got[1] != 75*time.Millisecond {
		t.Errorf("retry backoff: got %v", got)
	}

	grading := cfg.Grading.Settings(cfg.API.MaxUploadSizeBytes())
	if grading.Workers != 6 {
		t.Errorf("grading workers: got %d, want 6", grading.Workers)
	}
	if grading.MaxUploadSize != 8*1024*1024 {
		t.Errorf("max upload size: got %d, want %d", grading.MaxUploadSize, 8*1024*1024)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	chdir(t, t.TempDir())
	minimalEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name: got %s, want testdb", cfg.Database.Name)
	}
	if !cfg.Review.Locking() {
		t.Error("review locking should default to enabled")
	}
	if cfg.Agent.Model.Name != "llava:13b" {
		t.Errorf("agent model: got %s, want llava:13b", cfg.Agent.Model.Name)
	}
	if got := cfg.Tools.SandboxLimits().Timeout; got != 2*time.Second {
		t.Errorf("math timeout default: got %s, want 2s", got)
	}
	if cfg.Loop.SessionTTLDuration() != 24*time.Hour {
		t.Errorf("session ttl default: got %s, want 24h", cfg.Loop.SessionTTLDuration())
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "lock ttl shorter than task",
			env:  map[string]string{"MARKER_REVIEW_LOCK_TTL": "10s"},
			want: "lock_ttl",
		},
		{
			name: "review outlives job",
			env: map[string]string{
				"MARKER_REVIEW_TASK_TIMEOUT": "20m",
				"MARKER_REVIEW_LOCK_TTL":     "25m",
				"MARKER_REVIEW_STALE_AFTER":  "30m",
			},
			want: "job_timeout",
		},
		{
			name: "bad backoff",
			env:  map[string]string{"MARKER_LOOP_RETRY_BACKOFF": "soon"},
			want: "retry_backoff[0]",
		},
		{
			name: "threshold out of range",
			env:  map[string]string{"MARKER_LOOP_CONFIDENCE_THRESHOLD": "1.5"},
			want: "confidence_threshold",
		},
		{
			name: "zero workers",
			env:  map[string]string{"MARKER_REVIEW_WORKERS": "-1"},
			want: "workers",
		},
		{
			name: "bad upload size",
			env:  map[string]string{"MARKER_API_MAX_UPLOAD_SIZE": "lots"},
			want: "max_upload_size",
		},
		{
			name: "unknown storage provider",
			env:  map[string]string{"MARKER_STORAGE_PROVIDER": "s3"},
			want: "storage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			minimalEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
