package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/marker/pkg/cache"
)

// Log is a per-job event log on a Redis list. Sequence numbers are list
// positions starting at 1, so readers can resume with an after cursor.
type Log struct {
	cache  cache.System
	ttl    time.Duration
	logger *slog.Logger
}

// NewLog creates a Log whose per-job lists expire ttl after the last write.
func NewLog(c cache.System, ttl time.Duration, logger *slog.Logger) *Log {
	return &Log{
		cache:  c,
		ttl:    ttl,
		logger: logger.With("system", "events"),
	}
}

func (l *Log) key(jobID string) string {
	return l.cache.Key("events", jobID)
}

// Emit appends e to its job's log. Write failures are logged and dropped.
func (l *Log) Emit(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("encode event failed", "error", err, "type", e.Type)
		return
	}

	key := l.key(e.JobID)
	pipe := l.cache.Client().TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("append event failed", "error", err, "job_id", e.JobID, "type", e.Type)
	}
}

// List returns the job's events with sequence greater than after, in
// emission order.
func (l *Log) List(ctx context.Context, jobID string, after int64) ([]Event, error) {
	if after < 0 {
		after = 0
	}

	raw, err := l.cache.Client().LRange(ctx, l.key(jobID), after, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", jobID, err)
	}

	out := make([]Event, 0, len(raw))
	for i, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", after+int64(i)+1, err)
		}
		e.Seq = after + int64(i) + 1
		out = append(out, e)
	}
	return out, nil
}

// Logger writes events to a structured logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a slog sink.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With("system", "loop")}
}

func (l *Logger) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"job_id", e.JobID,
		"page", e.PageIndex,
		"iteration", e.Iteration,
		"status", e.Status,
		"duration_ms", e.DurationMS,
	}
	if e.Tool != "" {
		attrs = append(attrs, "tool", e.Tool)
	}
	if e.Confidence != nil {
		attrs = append(attrs, "confidence", *e.Confidence)
	}
	if e.Message != "" {
		attrs = append(attrs, "message", e.Message)
	}

	level := slog.LevelInfo
	if e.Status == StatusError {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, string(e.Type), attrs...)
}
