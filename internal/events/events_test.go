package events_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/pkg/cache"
)

func ptr[T any](v T) *T { return &v }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLog(t *testing.T) (*events.Log, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return events.NewLog(cache.NewFromClient(client, "marker", discard()), time.Hour, discard()), mr
}

func TestLogOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	log, mr := newLog(t)

	seq := []events.Type{
		events.TypePlanStart,
		events.TypeToolCall,
		events.TypeToolDone,
		events.TypeReflectFail,
		events.TypePlanStart,
	}
	for i, typ := range seq {
		iteration := 1
		if i == len(seq)-1 {
			iteration = 2
		}
		log.Emit(ctx, events.Event{JobID: "job-1", Type: typ, Iteration: iteration, Status: events.StatusCompleted})
	}
	log.Emit(ctx, events.Event{JobID: "job-2", Type: events.TypePlanStart, Iteration: 1})

	all, err := log.List(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != len(seq) {
		t.Fatalf("len = %d, want %d", len(all), len(seq))
	}
	for i, e := range all {
		if e.Seq != int64(i+1) || e.Type != seq[i] {
			t.Errorf("event[%d] = seq %d type %s, want seq %d type %s", i, e.Seq, e.Type, i+1, seq[i])
		}
	}

	tail, err := log.List(ctx, "job-1", 3)
	if err != nil {
		t.Fatalf("List after 3: %v", err)
	}
	if len(tail) != 2 || tail[0].Seq != 4 || tail[0].Type != events.TypeReflectFail {
		t.Errorf("tail = %+v, want events 4 and 5", tail)
	}

	if ttl := mr.TTL("marker:events:job-1"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want within 1h", ttl)
	}

	none, err := log.List(ctx, "job-unknown", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown job = (%v, %v), want empty", none, err)
	}
}

func TestMultiPreservesOrder(t *testing.T) {
	var got []string
	record := func(name string) events.Emitter {
		return events.EmitterFunc(func(_ context.Context, e events.Event) {
			got = append(got, name+":"+string(e.Type))
		})
	}

	m := events.Multi{record("a"), nil, record("b")}
	m.Emit(context.Background(), events.Event{Type: events.TypeToolCall})
	m.Emit(context.Background(), events.Event{Type: events.TypeToolDone})

	want := []string{"a:tool_call", "b:tool_call", "a:tool_done", "b:tool_done"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	sink := events.NewLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	sink.Emit(context.Background(), events.Event{
		JobID:      "job-1",
		Type:       events.TypeReflectPass,
		Iteration:  2,
		Status:     events.StatusCompleted,
		Pass:       ptr(true),
		Confidence: ptr(0.92),
	})

	out := buf.String()
	for _, want := range []string{"reflect_pass", "iteration=2", "confidence=0.92", "system=loop"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := events.NewMetrics(reg)
	ctx := context.Background()

	m.Emit(ctx, events.Event{Type: events.TypeToolCall, Status: events.StatusRunning, Tool: "math_verify"})
	m.Emit(ctx, events.Event{Type: events.TypeToolDone, Status: events.StatusError, Tool: "math_verify", DurationMS: 20})
	m.Emit(ctx, events.Event{Type: events.TypeFinalizeDone, Status: events.StatusCompleted, Iteration: 2})
	m.ObserveReview("ready", time.Second)

	if v := counterValue(t, reg, "marker_tools_calls_total", map[string]string{"tool": "math_verify", "status": "error"}); v != 1 {
		t.Errorf("tool error count = %v, want 1", v)
	}
	if v := counterValue(t, reg, "marker_loop_events_total", map[string]string{"type": "tool_call", "status": "running"}); v != 1 {
		t.Errorf("tool_call running count = %v, want 1", v)
	}
	if v := counterValue(t, reg, "marker_review_tasks_total", map[string]string{"outcome": "ready"}); v != 1 {
		t.Errorf("review ready count = %v, want 1", v)
	}

	again := events.NewMetrics(reg)
	again.ObservePage("done")
}
