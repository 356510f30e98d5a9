package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/pkg/pagination"
)

// System defines the contract for job and question card persistence.
// Every write is an upsert or a conditional update so that retried and
// concurrent writers converge.
type System interface {
	Handler() *Handler

	Create(ctx context.Context, cmd CreateCommand) (*Job, error)
	Find(ctx context.Context, id uuid.UUID) (*Job, error)

	// List returns one page of jobs without their summaries or cards.
	List(ctx context.Context, page pagination.PageRequest, filter ListFilter) (pagination.PageResult[Job], error)

	SetStatus(ctx context.Context, id uuid.UUID, status Status, message string) error

	// UpsertPlaceholders publishes recognized cards keyed by item id. Cards
	// that already advanced past placeholder keep their state.
	UpsertPlaceholders(ctx context.Context, jobID uuid.UUID, cards []QuestionCard) error

	// ApplyVerdicts merges verdicts into placeholder or verdict_ready cards
	// and returns the resulting cards in item order.
	ApplyVerdicts(ctx context.Context, jobID uuid.UUID, updates []VerdictUpdate) ([]QuestionCard, error)

	// Transition moves a card to state to when its current state permits it,
	// writing patch in the same statement. ErrInvalidTransition is returned
	// when the card is in any other state.
	Transition(ctx context.Context, jobID uuid.UUID, itemID string, to CardState, patch ReviewPatch) (*QuestionCard, error)

	FindCard(ctx context.Context, jobID uuid.UUID, itemID string) (*QuestionCard, error)
	PageCards(ctx context.Context, jobID uuid.UUID, pageIndex int) ([]QuestionCard, error)

	// SavePageSummary upserts the summary and recomputes done_pages from the
	// set of completed summaries.
	SavePageSummary(ctx context.Context, jobID uuid.UUID, summary PageSummary) error

	// ExpireReviews moves review_pending cards untouched for longer than
	// olderThan to review_failed and returns how many moved.
	ExpireReviews(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
}
