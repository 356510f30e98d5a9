package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/lifecycle"
	"github.com/JaimeStill/marker/pkg/lock"
	"github.com/JaimeStill/marker/pkg/queue"
)

// Review outcomes reported to the Observer.
const (
	OutcomeReady   = "ready"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Observer records review outcomes.
type Observer interface {
	ObserveReview(outcome string, d time.Duration)
}

// Service enqueues, processes, and retries card reviews.
type Service struct {
	jobs     jobs.System
	queue    *queue.Queue[Task]
	locker   lock.Locker
	reviewer Reviewer
	observer Observer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a review Service. A nil observer discards outcomes.
func New(
	js jobs.System,
	q *queue.Queue[Task],
	locker lock.Locker,
	reviewer Reviewer,
	observer Observer,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Service{
		jobs:     js,
		queue:    q,
		locker:   locker,
		reviewer: reviewer,
		observer: observer,
		cfg:      cfg,
		logger:   logger.With("system", "review"),
		now:      time.Now,
	}, nil
}

// Handler returns the review HTTP handler.
func (s *Service) Handler() *Handler {
	return NewHandler(s, s.logger)
}

// Enqueue moves the qualifying cards of one page to review_pending and
// queues a task for each. Cards already in review count against the
// per-page cap. It returns the cards that were queued.
func (s *Service) Enqueue(ctx context.Context, jobID uuid.UUID, cards []jobs.QuestionCard) ([]jobs.QuestionCard, error) {
	var queued []jobs.QuestionCard
	for _, c := range Select(cards, s.cfg.MaxPerPage) {
		card, err := s.jobs.Transition(ctx, jobID, c.ItemID, jobs.CardReviewPending, jobs.ReviewPatch{})
		if errors.Is(err, jobs.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return queued, err
		}

		if err := s.push(ctx, jobID, *card); err != nil {
			return queued, err
		}
		queued = append(queued, *card)
	}
	return queued, nil
}

// Retry moves a failed card back to review_pending and queues it again.
func (s *Service) Retry(ctx context.Context, jobID uuid.UUID, itemID string) (*jobs.QuestionCard, error) {
	cur, err := s.jobs.FindCard(ctx, jobID, itemID)
	if err != nil {
		return nil, err
	}
	if cur.CardState != jobs.CardReviewFailed {
		return nil, fmt.Errorf("%w: only failed reviews can be retried, card is %s", jobs.ErrInvalidTransition, cur.CardState)
	}

	card, err := s.jobs.Transition(ctx, jobID, itemID, jobs.CardReviewPending, jobs.ReviewPatch{})
	if err != nil {
		return nil, err
	}
	if err := s.push(ctx, jobID, *card); err != nil {
		return nil, err
	}
	s.logger.Info("review retried", "job_id", jobID, "item_id", itemID)
	return card, nil
}

func (s *Service) push(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) error {
	task := Task{
		JobID:      jobID,
		ItemID:     card.ItemID,
		PageIndex:  card.PageIndex,
		Reasons:    flagReasons(card),
		EnqueuedAt: s.now(),
	}
	if err := s.queue.Push(ctx, task); err != nil {
		reason := fmt.Sprintf("review could not be queued: %v", err)
		if _, terr := s.jobs.Transition(ctx, jobID, card.ItemID, jobs.CardReviewFailed, jobs.ReviewPatch{
			Reasons: []string{reason},
		}); terr != nil {
			s.logger.Error("failed to mark unqueued review", "item_id", card.ItemID, "error", terr)
		}
		return err
	}
	return nil
}

// Process reviews the card named by task. When another worker holds the
// card's lock, or the card is no longer review_pending, the task is
// dropped without error.
func (s *Service) Process(ctx context.Context, task Task) error {
	start := s.now()

	lease, err := s.locker.TryAcquire(ctx, LockKey(task.JobID, task.ItemID), s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if lease == nil {
		s.logger.Info("review locked elsewhere, skipping", "job_id", task.JobID, "item_id", task.ItemID)
		s.observe(OutcomeSkipped, start)
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			s.logger.Warn("failed to release review lock", "key", lease.Key(), "error", err)
		}
	}()

	card, err := s.jobs.FindCard(ctx, task.JobID, task.ItemID)
	if err != nil {
		return err
	}
	if card.CardState != jobs.CardReviewPending {
		s.observe(OutcomeSkipped, start)
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	outcome, attempts, err := s.review(tctx, task.JobID, *card)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, task, start, failureReason(err, attempts, s.cfg.TaskTimeout))
	}

	if _, err := s.jobs.Transition(ctx, task.JobID, task.ItemID, jobs.CardReviewReady, reviewPatch(*card, outcome)); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			s.observe(OutcomeSkipped, start)
			return nil
		}
		return err
	}

	s.logger.Info("review complete",
		"job_id", task.JobID,
		"item_id", task.ItemID,
		"verdict", outcome.Verdict,
		"attempts", attempts,
	)
	s.observe(OutcomeReady, start)
	return nil
}

func (s *Service) review(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) (Outcome, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		out, err := s.reviewer.Review(ctx, jobID, card)
		if err == nil {
			v, ok := jobs.ParseVerdict(string(out.Verdict))
			if ok {
				out.Verdict = v
				return out, attempt, nil
			}
			err = fmt.Errorf("invalid verdict %q", out.Verdict)
		}
		lastErr = err
		if ctx.Err() != nil {
			return Outcome{}, attempt, ctx.Err()
		}
		s.logger.Warn("review attempt failed", "item_id", card.ItemID, "attempt", attempt, "error", err)
	}
	return Outcome{}, s.cfg.MaxAttempts, lastErr
}

func (s *Service) fail(ctx context.Context, task Task, start time.Time, reason string) error {
	_, err := s.jobs.Transition(ctx, task.JobID, task.ItemID, jobs.CardReviewFailed, jobs.ReviewPatch{
		Reasons:          []string{reason},
		IncrementAttempt: true,
	})
	if err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
		return err
	}

	s.logger.Warn("review failed", "job_id", task.JobID, "item_id", task.ItemID, "reason", reason)
	s.observe(OutcomeFailed, start)
	return nil
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveReview(outcome, s.now().Sub(start))
	}
}

// Start launches the review workers and the stale review sweeper.
func (s *Service) Start(lc *lifecycle.Coordinator) {
	s.logger.Info("starting review workers", "workers", s.cfg.Workers)
	for range s.cfg.Workers {
		lc.Go(s.work)
	}
	lc.Go(s.sweep)
}

func (s *Service) work(ctx context.Context) {
	for ctx.Err() == nil {
		task, ok, err := s.queue.Pop(ctx, s.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("review queue pop failed", "error", err)
			if !errors.Is(err, queue.ErrDecode) {
				pause(ctx, time.Second)
			}
			continue
		}
		if !ok {
			continue
		}
		if err := s.Process(ctx, task); err != nil && ctx.Err() == nil {
			s.logger.Error("review processing failed", "item_id", task.ItemID, "error", err)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("review sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails reviews that have been pending longer than the stale
// threshold, covering tasks lost to crashed workers.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.jobs.ExpireReviews(ctx, s.cfg.StaleAfter, "review did not complete in time")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("expired stale reviews", "count", n)
	}
	return n, nil
}

func reviewPatch(card jobs.QuestionCard, out Outcome) jobs.ReviewPatch {
	summary := out.Summary
	reasons := nonEmpty(out.Reasons)

	patch := jobs.ReviewPatch{
		Summary:          &summary,
		Reasons:          reasons,
		IncrementAttempt: true,
	}

	switch {
	case card.VerdictIs(out.Verdict):
	case len(reasons) == 0:
		patch.Reasons = []string{fmt.Sprintf("verdict change to %s ignored: no reason given", out.Verdict)}
	default:
		v := out.Verdict
		patch.Verdict = &v
	}
	return patch
}

func failureReason(err error, attempts int, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("review timed out after %s", timeout)
	}
	return fmt.Sprintf("review failed after %d attempts: %v", attempts, err)
}

func flagReasons(c jobs.QuestionCard) []string {
	var out []string
	if c.VisualRisk {
		out = append(out, "visual risk")
	}
	if c.VerdictIs(jobs.VerdictUncertain) {
		out = append(out, "uncertain verdict")
	}
	if c.NeedsReview {
		out = append(out, "flagged for review")
	}
	return out
}

func nonEmpty(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
