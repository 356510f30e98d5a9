// Package jobstest provides an in-memory jobs.System that applies the same
// upsert and transition rules as the Postgres repository.
package jobstest

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/pagination"
	"github.com/JaimeStill/marker/pkg/query"
)

// Store is a concurrency-safe in-memory jobs.System.
type Store struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*jobs.Job
	cards     map[uuid.UUID]map[string]*jobs.QuestionCard
	summaries map[uuid.UUID]map[int]jobs.PageSummary
	now       func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[uuid.UUID]*jobs.Job),
		cards:     make(map[uuid.UUID]map[string]*jobs.QuestionCard),
		summaries: make(map[uuid.UUID]map[int]jobs.PageSummary),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Handler() *jobs.Handler {
	pages := pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}
	return jobs.NewHandler(s, pages, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *Store) Create(_ context.Context, cmd jobs.CreateCommand) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[cmd.ID]; ok {
		return nil, jobs.ErrDuplicate
	}

	now := s.now()
	j := &jobs.Job{
		ID:         cmd.ID,
		Status:     jobs.StatusRunning,
		SourceKind: cmd.SourceKind,
		SourceKeys: slices.Clone(cmd.SourceKeys),
		TotalPages: cmd.TotalPages,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[cmd.ID] = j
	s.cards[cmd.ID] = make(map[string]*jobs.QuestionCard)
	s.summaries[cmd.ID] = make(map[int]jobs.PageSummary)

	return s.snapshot(j), nil
}

func (s *Store) Find(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return s.snapshot(j), nil
}

// List orders by created_at descending unless the request sorts by
// created_at, updated_at, status, or total_pages.
func (s *Store) List(_ context.Context, page pagination.PageRequest, filter jobs.ListFilter) (pagination.PageResult[jobs.Job], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []jobs.Job
	for _, j := range s.jobs {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, string(j.Status)) {
			continue
		}
		out := *j
		out.SourceKeys = slices.Clone(j.SourceKeys)
		out.PageSummaries = []jobs.PageSummary{}
		out.QuestionCards = []jobs.QuestionCard{}
		all = append(all, out)
	}

	sortFields := page.Sort
	if len(sortFields) == 0 {
		sortFields = []query.SortField{{Field: "created_at", Descending: true}}
	}
	slices.SortStableFunc(all, func(a, b jobs.Job) int {
		for _, f := range sortFields {
			c := compareJobs(a, b, f.Field)
			if f.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	start := min(page.Offset(), len(all))
	end := min(start+page.PageSize, len(all))
	return pagination.NewPageResult(all[start:end], len(all), page), nil
}

func compareJobs(a, b jobs.Job, field string) int {
	switch field {
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "status":
		return cmp.Compare(a.Status, b.Status)
	case "total_pages":
		return cmp.Compare(a.TotalPages, b.TotalPages)
	}
	return 0
}

func (s *Store) SetStatus(_ context.Context, id uuid.UUID, status jobs.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return jobs.ErrNotFound
	}
	j.Status = status
	j.Error = message
	j.UpdatedAt = s.now()
	j.CompletedAt = nil
	if status.Terminal() {
		t := j.UpdatedAt
		j.CompletedAt = &t
	}
	return nil
}

func (s *Store) UpsertPlaceholders(_ context.Context, jobID uuid.UUID, cards []jobs.QuestionCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.cards[jobID]
	if !ok {
		return jobs.ErrNotFound
	}

	for _, c := range cards {
		if cur, ok := set[c.ItemID]; ok {
			cur.QuestionNumber = c.QuestionNumber
			cur.Position = c.Position
			cur.AnswerState = c.AnswerState
			cur.VisualRisk = c.VisualRisk
			cur.UpdatedAt = s.now()
			continue
		}
		card := c
		card.CardState = jobs.CardPlaceholder
		card.Verdict = nil
		card.UpdatedAt = s.now()
		set[c.ItemID] = &card
	}
	return nil
}

func (s *Store) ApplyVerdicts(_ context.Context, jobID uuid.UUID, updates []jobs.VerdictUpdate) ([]jobs.QuestionCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.cards[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}

	out := make([]jobs.QuestionCard, 0, len(updates))
	for _, u := range updates {
		c, ok := set[u.ItemID]
		if !ok {
			continue
		}
		if jobs.CanTransition(c.CardState, jobs.CardVerdictReady) {
			v := u.Verdict
			c.CardState = jobs.CardVerdictReady
			c.Verdict = &v
			c.NeedsReview = u.NeedsReview
			c.VisualRisk = c.VisualRisk || u.VisualRisk
			c.Reasons = slices.Clone(u.Reasons)
			c.UpdatedAt = s.now()
		}
		out = append(out, cloneCard(c))
	}
	sortCards(out)
	return out, nil
}

func (s *Store) Transition(
	_ context.Context,
	jobID uuid.UUID,
	itemID string,
	to jobs.CardState,
	patch jobs.ReviewPatch,
) (*jobs.QuestionCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.card(jobID, itemID)
	if err != nil {
		return nil, err
	}
	if !jobs.CanTransition(c.CardState, to) {
		return nil, fmt.Errorf("%w: %s -> %s", jobs.ErrInvalidTransition, c.CardState, to)
	}

	c.CardState = to
	if patch.Verdict != nil {
		v := *patch.Verdict
		c.Verdict = &v
	}
	if patch.Summary != nil {
		sum := *patch.Summary
		c.ReviewSummary = &sum
	}
	if patch.Reasons != nil {
		c.ReviewReasons = slices.Clone(patch.Reasons)
	}
	if patch.IncrementAttempt {
		c.ReviewAttempts++
	}
	c.UpdatedAt = s.now()

	out := cloneCard(c)
	return &out, nil
}

func (s *Store) FindCard(_ context.Context, jobID uuid.UUID, itemID string) (*jobs.QuestionCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.card(jobID, itemID)
	if err != nil {
		return nil, err
	}
	out := cloneCard(c)
	return &out, nil
}

func (s *Store) PageCards(_ context.Context, jobID uuid.UUID, pageIndex int) ([]jobs.QuestionCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []jobs.QuestionCard{}
	for _, c := range s.cards[jobID] {
		if c.PageIndex == pageIndex {
			out = append(out, cloneCard(c))
		}
	}
	sortCards(out)
	return out, nil
}

func (s *Store) SavePageSummary(_ context.Context, jobID uuid.UUID, summary jobs.PageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return jobs.ErrNotFound
	}
	s.summaries[jobID][summary.PageIndex] = summary

	done := 0
	for _, ps := range s.summaries[jobID] {
		if ps.Completed {
			done++
		}
	}
	j.DonePages = min(done, j.TotalPages)
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) ExpireReviews(_ context.Context, olderThan time.Duration, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var n int64
	for _, set := range s.cards {
		for _, c := range set {
			if c.CardState == jobs.CardReviewPending && c.UpdatedAt.Before(cutoff) {
				c.CardState = jobs.CardReviewFailed
				c.ReviewReasons = append(c.ReviewReasons, reason)
				c.UpdatedAt = s.now()
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) card(jobID uuid.UUID, itemID string) (*jobs.QuestionCard, error) {
	set, ok := s.cards[jobID]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	c, ok := set[itemID]
	if !ok {
		return nil, jobs.ErrCardNotFound
	}
	return c, nil
}

func (s *Store) snapshot(j *jobs.Job) *jobs.Job {
	out := *j
	out.SourceKeys = slices.Clone(j.SourceKeys)

	out.PageSummaries = []jobs.PageSummary{}
	for _, ps := range s.summaries[j.ID] {
		out.PageSummaries = append(out.PageSummaries, ps)
	}
	slices.SortFunc(out.PageSummaries, func(a, b jobs.PageSummary) int {
		return a.PageIndex - b.PageIndex
	})

	out.QuestionCards = []jobs.QuestionCard{}
	for _, c := range s.cards[j.ID] {
		out.QuestionCards = append(out.QuestionCards, cloneCard(c))
	}
	sortCards(out.QuestionCards)
	return &out
}

func cloneCard(c *jobs.QuestionCard) jobs.QuestionCard {
	out := *c
	if c.Verdict != nil {
		v := *c.Verdict
		out.Verdict = &v
	}
	if c.ReviewSummary != nil {
		sum := *c.ReviewSummary
		out.ReviewSummary = &sum
	}
	out.Reasons = slices.Clone(c.Reasons)
	out.ReviewReasons = slices.Clone(c.ReviewReasons)
	return out
}

func sortCards(cards []jobs.QuestionCard) {
	slices.SortFunc(cards, func(a, b jobs.QuestionCard) int {
		if a.PageIndex != b.PageIndex {
			return a.PageIndex - b.PageIndex
		}
		return a.Position - b.Position
	})
}
