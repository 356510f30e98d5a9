// Package events records the ordered progress of a page's grading loop.
// Events are emitted synchronously by the single-threaded loop, so an
// iteration's events always precede the next iteration's.
package events

import (
	"context"
	"time"
)

// Type names a loop event.
type Type string

const (
	TypePlanStart    Type = "plan_start"
	TypeToolCall     Type = "tool_call"
	TypeToolDone     Type = "tool_done"
	TypeReflectPass  Type = "reflect_pass"
	TypeReflectFail  Type = "reflect_fail"
	TypeFinalizeDone Type = "finalize_done"
)

// Status is the state an event reports.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Event is one observation of loop progress. Pass and Confidence are only
// set on reflect events.
type Event struct {
	Seq        int64     `json:"seq"`
	JobID      string    `json:"job_id"`
	PageIndex  int       `json:"page_index"`
	Type       Type      `json:"type"`
	Iteration  int       `json:"iteration"`
	Status     Status    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Tool       string    `json:"tool,omitempty"`
	Pass       *bool     `json:"pass,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Issues     []string  `json:"issues,omitempty"`
	Message    string    `json:"message,omitempty"`
	Time       time.Time `json:"time"`
}

// Emitter receives loop events. Emit must not block the loop on slow
// sinks for longer than ctx allows, and sink failures never fail the loop.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event)

func (f EmitterFunc) Emit(ctx context.Context, e Event) {
	f(ctx, e)
}

// Multi fans each event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(ctx, e)
		}
	}
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) {})
