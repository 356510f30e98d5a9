// Package review re-checks visually risky question cards after the first
// grading pass. Work is distributed over a Redis queue and guarded by a
// best-effort per-card lock; every card write is a conditional transition,
// so duplicate or lock-less processing still converges.
package review

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/jobs"
)

// Task is a queued request to review one card.
type Task struct {
	JobID      uuid.UUID `json:"job_id"`
	ItemID     string    `json:"item_id"`
	PageIndex  int       `json:"page_index"`
	Reasons    []string  `json:"reasons,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Outcome is the reviewer's judgment of a card.
type Outcome struct {
	Verdict jobs.Verdict `json:"verdict"`
	Summary string       `json:"summary"`
	Reasons []string     `json:"reasons,omitempty"`
}

// Reviewer performs the model-backed second look at a card.
type Reviewer interface {
	Review(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) (Outcome, error)
}

// LockKey returns the lock key guarding a card's review.
func LockKey(jobID uuid.UUID, itemID string) string {
	return fmt.Sprintf("review:lock:%s:%s", jobID, itemID)
}

// Qualifies reports whether a card with a fresh verdict should be reviewed:
// it carries visual risk and is either uncertain or flagged for review.
func Qualifies(c jobs.QuestionCard) bool {
	if c.CardState != jobs.CardVerdictReady || !c.VisualRisk {
		return false
	}
	return c.VerdictIs(jobs.VerdictUncertain) || c.NeedsReview
}

// Select returns the qualifying cards in page and position order, at most
// maxPerPage per page. Cards already in review count against their page's
// cap, so selecting again after a page is re-processed adds nothing once the
// cap is spent. A non-positive maxPerPage selects nothing.
func Select(cards []jobs.QuestionCard, maxPerPage int) []jobs.QuestionCard {
	if maxPerPage <= 0 {
		return nil
	}

	used := map[int]int{}
	var candidates []jobs.QuestionCard
	for _, c := range cards {
		switch {
		case c.CardState.InReview():
			used[c.PageIndex]++
		case Qualifies(c):
			candidates = append(candidates, c)
		}
	}
	slices.SortStableFunc(candidates, func(a, b jobs.QuestionCard) int {
		return cmp.Or(cmp.Compare(a.PageIndex, b.PageIndex), cmp.Compare(a.Position, b.Position))
	})

	var out []jobs.QuestionCard
	for _, c := range candidates {
		if used[c.PageIndex] >= maxPerPage {
			continue
		}
		used[c.PageIndex]++
		out = append(out, c)
	}
	return out
}
