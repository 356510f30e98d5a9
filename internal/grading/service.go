package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/pkg/lifecycle"
	"github.com/JaimeStill/marker/pkg/queue"
	"github.com/JaimeStill/marker/pkg/storage"
)

const blankReason = "answer left blank"

// Service runs the grading pipeline.
type Service struct {
	jobs       jobs.System
	store      storage.System
	queue      *queue.Queue[Request]
	recognizer Recognizer
	loop       Looper
	reviews    Reviews
	renderer   Renderer
	observer   Observer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// Deps are the collaborators of a Service. Observer may be nil.
type Deps struct {
	Jobs       jobs.System
	Storage    storage.System
	Queue      *queue.Queue[Request]
	Recognizer Recognizer
	Loop       Looper
	Reviews    Reviews
	Renderer   Renderer
	Observer   Observer
}

// New creates a grading Service.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Service{
		jobs:       deps.Jobs,
		store:      deps.Storage,
		queue:      deps.Queue,
		recognizer: deps.Recognizer,
		loop:       deps.Loop,
		reviews:    deps.Reviews,
		renderer:   deps.Renderer,
		observer:   deps.Observer,
		cfg:        cfg,
		logger:     logger.With("system", "grading"),
		now:        time.Now,
	}, nil
}

// Resume re-queues a job starting at page. Pages before it keep their
// published results; pages from it onward are processed again.
func (s *Service) Resume(ctx context.Context, jobID uuid.UUID, page int) (*jobs.Job, error) {
	job, err := s.jobs.Find(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if page < 0 || page >= job.TotalPages {
		return nil, fmt.Errorf("%w: %d of %d", jobs.ErrInvalidPage, page, job.TotalPages)
	}

	if err := s.jobs.SetStatus(ctx, jobID, jobs.StatusQueued, ""); err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, Request{JobID: jobID, StartPage: page}); err != nil {
		return nil, err
	}

	s.logger.Info("job resumed", "job_id", jobID, "start_page", page)
	return s.jobs.Find(ctx, jobID)
}

// Process grades the pages of req's job sequentially from req.StartPage.
// A failing page is recorded on its summary and the job continues; only an
// unreadable or missing source fails the job.
func (s *Service) Process(ctx context.Context, req Request) error {
	job, err := s.jobs.Find(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.logger.Warn("dropping request for unknown job", "job_id", req.JobID)
			return nil
		}
		return err
	}

	if err := s.jobs.SetStatus(ctx, job.ID, jobs.StatusRunning, ""); err != nil {
		return err
	}

	jctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if err := s.ensurePages(jctx, job); err != nil {
		return s.failJob(ctx, job.ID, err)
	}

	for page := max(req.StartPage, 0); page < job.TotalPages; page++ {
		err := s.ProcessPage(jctx, job, page)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrUnreadableSource):
			return s.failJob(ctx, job.ID, err)
		case ctx.Err() != nil:
			return ctx.Err()
		case jctx.Err() != nil:
			return s.failJob(ctx, job.ID, fmt.Errorf("job timed out after %s at page %d", s.cfg.JobTimeout, page))
		}

		s.logger.Error("page failed", "job_id", job.ID, "page", page, "error", err)
		if serr := s.recordPageError(ctx, job.ID, page, err); serr != nil {
			return serr
		}
	}

	if err := s.jobs.SetStatus(ctx, job.ID, jobs.StatusDone, ""); err != nil {
		return err
	}
	s.logger.Info("job done", "job_id", job.ID, "pages", job.TotalPages)
	return nil
}

// ProcessPage grades one page and publishes its cards and summary.
// Re-processing a page converges on the same cards: placeholders are
// upserted by item id and verdicts only advance cards not yet in review.
func (s *Service) ProcessPage(ctx context.Context, job *jobs.Job, page int) error {
	key := jobs.PageKey(job.ID.String(), page)
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: page %d image missing", ErrUnreadableSource, page)
	}

	rec, err := s.recognizer.Recognize(ctx, key)
	if err != nil {
		return fmt.Errorf("recognize page %d: %w", page, err)
	}

	placeholders, items := placeholderCards(page, rec)
	if err := s.jobs.UpsertPlaceholders(ctx, job.ID, placeholders); err != nil {
		return err
	}

	pending := jobs.Summarize(page, placeholders)
	pending.Completed = false
	if err := s.jobs.SavePageSummary(ctx, job.ID, pending); err != nil {
		return err
	}

	updates := blankVerdicts(placeholders)
	if len(items) > 0 {
		graded, err := s.grade(ctx, job.ID, page, key, rec.Text, items)
		if err != nil {
			return err
		}
		updates = append(updates, graded...)
	}

	if _, err := s.jobs.ApplyVerdicts(ctx, job.ID, updates); err != nil {
		return err
	}

	cards, err := s.jobs.PageCards(ctx, job.ID, page)
	if err != nil {
		return err
	}

	if queued, err := s.reviews.Enqueue(ctx, job.ID, cards); err != nil {
		s.logger.Warn("review enqueue failed", "job_id", job.ID, "page", page, "error", err)
	} else if len(queued) > 0 {
		if cards, err = s.jobs.PageCards(ctx, job.ID, page); err != nil {
			return err
		}
	}

	summary := jobs.Summarize(page, cards)
	if err := s.jobs.SavePageSummary(ctx, job.ID, summary); err != nil {
		return err
	}

	s.observe(PageCompleted)
	s.logger.Info("page complete",
		"job_id", job.ID,
		"page", page,
		"wrong", summary.WrongCount,
		"uncertain", summary.UncertainCount,
		"blank", summary.BlankCount,
	)
	return nil
}

// grade runs the loop over the non-blank items. A loop failure that is not
// a cancellation leaves every item uncertain and flagged for review.
func (s *Service) grade(
	ctx context.Context,
	jobID uuid.UUID,
	page int,
	imageKey string,
	text string,
	items []session.Item,
) ([]jobs.VerdictUpdate, error) {
	st := session.New(jobID.String(), page, []string{imageKey}, text, items, s.now())

	res, err := s.loop.Run(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("grading loop failed", "job_id", jobID, "page", page, "error", err)
		updates := make([]jobs.VerdictUpdate, len(items))
		for i, it := range items {
			updates[i] = jobs.VerdictUpdate{
				ItemID:      it.ID,
				Verdict:     jobs.VerdictUncertain,
				NeedsReview: true,
				Reasons:     []string{fmt.Sprintf("grading loop failed: %v", err)},
			}
		}
		return updates, nil
	}

	updates := make([]jobs.VerdictUpdate, 0, len(res.Items))
	for _, it := range res.Items {
		updates = append(updates, jobs.VerdictUpdate{
			ItemID:      it.ItemID,
			Verdict:     it.Verdict,
			NeedsReview: it.NeedsReview,
			VisualRisk:  res.Figures,
			Reasons:     it.Reasons,
		})
	}
	return updates, nil
}

func (s *Service) recordPageError(ctx context.Context, jobID uuid.UUID, page int, cause error) error {
	cards, err := s.jobs.PageCards(ctx, jobID, page)
	if err != nil {
		return err
	}
	summary := jobs.Summarize(page, cards)
	summary.Error = cause.Error()

	s.observe(PageFailed)
	return s.jobs.SavePageSummary(ctx, jobID, summary)
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, cause error) error {
	s.logger.Error("job failed", "job_id", jobID, "error", cause)
	return s.jobs.SetStatus(ctx, jobID, jobs.StatusFailed, cause.Error())
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObservePage(outcome)
	}
}

// placeholderCards builds the placeholder card for every recognized
// question and the loop items for the non-blank ones.
func placeholderCards(page int, rec Recognition) ([]jobs.QuestionCard, []session.Item) {
	numbers := make([]string, len(rec.Items))
	for i, it := range rec.Items {
		numbers[i] = it.QuestionNumber
	}
	ids := jobs.AssignItemIDs(page, numbers)

	cards := make([]jobs.QuestionCard, len(rec.Items))
	var items []session.Item
	for i, it := range rec.Items {
		state := jobs.ParseAnswerState(it.AnswerState)
		cards[i] = jobs.QuestionCard{
			ItemID:         ids[i],
			QuestionNumber: it.QuestionNumber,
			PageIndex:      page,
			Position:       i,
			AnswerState:    state,
			VisualRisk:     it.VisualRisk || rec.LowQuality,
		}
		if state == jobs.AnswerBlank {
			continue
		}
		items = append(items, session.Item{
			ID:             ids[i],
			QuestionNumber: it.QuestionNumber,
			Question:       it.Question,
			Answer:         it.Answer,
		})
	}
	return cards, items
}

func blankVerdicts(cards []jobs.QuestionCard) []jobs.VerdictUpdate {
	var out []jobs.VerdictUpdate
	for _, c := range cards {
		if c.AnswerState == jobs.AnswerBlank {
			out = append(out, jobs.VerdictUpdate{
				ItemID:  c.ItemID,
				Verdict: jobs.VerdictIncorrect,
				Reasons: []string{blankReason},
			})
		}
	}
	return out
}

// Start launches the grading workers.
func (s *Service) Start(lc *lifecycle.Coordinator) {
	s.logger.Info("starting grading workers", "workers", s.cfg.Workers)
	lc.Go(func(ctx context.Context) {
		g, gctx := errgroup.WithContext(ctx)
		for range max(s.cfg.Workers, 1) {
			g.Go(func() error {
				s.work(gctx)
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (s *Service) work(ctx context.Context) {
	for ctx.Err() == nil {
		req, ok, err := s.queue.Pop(ctx, s.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("grading queue pop failed", "error", err)
			if !errors.Is(err, queue.ErrDecode) {
				pause(ctx, time.Second)
			}
			continue
		}
		if !ok {
			continue
		}
		if err := s.Process(ctx, req); err != nil && ctx.Err() == nil {
			s.logger.Error("job processing failed", "job_id", req.JobID, "error", err)
		}
	}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
