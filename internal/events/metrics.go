package events

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JaimeStill/marker/pkg/metrics"
)

// Metrics exposes Prometheus collectors for loop, page, and review activity.
type Metrics struct {
	events     *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	iterations prometheus.Histogram
	tools      *prometheus.CounterVec
	pages      *prometheus.CounterVec
	reviews    *prometheus.CounterVec
	reviewTime prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		events: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "loop",
			Name:      "events_total",
			Help:      "Loop events by type and status.",
		}, []string{"type", "status"})),
		durations: metrics.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "loop",
			Name:      "phase_duration_seconds",
			Help:      "Duration reported by completed loop events.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"})),
		iterations: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "loop",
			Name:      "iterations",
			Help:      "Iterations used per page before aggregation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		})),
		tools: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Completed tool calls by tool and status.",
		}, []string{"tool", "status"})),
		pages: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "grading",
			Name:      "pages_total",
			Help:      "Processed pages by outcome.",
		}, []string{"outcome"})),
		reviews: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "review",
			Name:      "tasks_total",
			Help:      "Review tasks by outcome.",
		}, []string{"outcome"})),
		reviewTime: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "review",
			Name:      "duration_seconds",
			Help:      "Time spent processing a review task.",
			Buckets:   prometheus.DefBuckets,
		})),
	}
}

// Emit records a loop event.
func (m *Metrics) Emit(_ context.Context, e Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(e.Type), string(e.Status)).Inc()
	if e.Status != StatusRunning {
		m.durations.WithLabelValues(string(e.Type)).Observe(float64(e.DurationMS) / 1000)
	}
	switch e.Type {
	case TypeToolDone:
		m.tools.WithLabelValues(e.Tool, string(e.Status)).Inc()
	case TypeFinalizeDone:
		m.iterations.Observe(float64(e.Iteration))
	}
}

// ObservePage counts a processed page.
func (m *Metrics) ObservePage(outcome string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(outcome).Inc()
}

// ObserveReview counts a finished review task.
func (m *Metrics) ObserveReview(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(outcome).Inc()
	m.reviewTime.Observe(d.Seconds())
}
