package agent

import (
	"context"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/session"
)

// Reasoner is the model-backed half of the loop. Implementations read the
// state snapshot they are given and never modify it.
type Reasoner interface {
	Plan(ctx context.Context, st session.State) (session.Plan, error)
	Reflect(ctx context.Context, st session.State) (session.Reflection, error)
	Aggregate(ctx context.Context, st session.State, images []string) ([]Judgment, error)
}

// Judgment is the model's verdict for one item.
type Judgment struct {
	ItemID      string       `json:"item_id"`
	Verdict     jobs.Verdict `json:"verdict"`
	NeedsReview bool         `json:"needs_review"`
	Reasons     []string     `json:"reasons,omitempty"`
}
