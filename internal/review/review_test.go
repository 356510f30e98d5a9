package review_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/jobs/jobstest"
	"github.com/JaimeStill/marker/internal/review"
	"github.com/JaimeStill/marker/pkg/lock"
	"github.com/JaimeStill/marker/pkg/queue"
)

func ptr[T any](v T) *T { return &v }

type reviewerFunc func(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) (review.Outcome, error)

func (f reviewerFunc) Review(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) (review.Outcome, error) {
	return f(ctx, jobID, card)
}

type observed struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *observed) ObserveReview(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type fixture struct {
	store    *jobstest.Store
	queue    *queue.Queue[review.Task]
	client   *redis.Client
	observed *observed
	jobID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		store:    jobstest.New(),
		queue:    queue.New[review.Task](client, "marker:review:queue"),
		client:   client,
		observed: &observed{},
		jobID:    uuid.New(),
	}

	ctx := context.Background()
	if _, err := f.store.Create(ctx, jobs.CreateCommand{
		ID:         f.jobID,
		SourceKind: jobs.SourceImages,
		TotalPages: 1,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.store.UpsertPlaceholders(ctx, f.jobID, []jobs.QuestionCard{
		{ItemID: "p0-q1", QuestionNumber: "1", Position: 0, AnswerState: jobs.AnswerPresent, VisualRisk: true},
		{ItemID: "p0-q2", QuestionNumber: "2", Position: 1, AnswerState: jobs.AnswerPresent},
		{ItemID: "p0-q3", QuestionNumber: "3", Position: 2, AnswerState: jobs.AnswerPresent, VisualRisk: true},
	}); err != nil {
		t.Fatalf("UpsertPlaceholders: %v", err)
	}
	if _, err := f.store.ApplyVerdicts(ctx, f.jobID, []jobs.VerdictUpdate{
		{ItemID: "p0-q1", Verdict: jobs.VerdictUncertain, Reasons: []string{"figure unclear"}},
		{ItemID: "p0-q2", Verdict: jobs.VerdictUncertain},
		{ItemID: "p0-q3", Verdict: jobs.VerdictCorrect},
	}); err != nil {
		t.Fatalf("ApplyVerdicts: %v", err)
	}
	return f
}

func (f *fixture) service(t *testing.T, locker lock.Locker, reviewer review.Reviewer, mutate func(*review.Config)) *review.Service {
	t.Helper()
	cfg := review.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := review.New(f.store, f.queue, locker, reviewer, f.observed, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("review.New: %v", err)
	}
	return svc
}

func (f *fixture) cards(t *testing.T) []jobs.QuestionCard {
	t.Helper()
	cards, err := f.store.PageCards(context.Background(), f.jobID, 0)
	if err != nil {
		t.Fatalf("PageCards: %v", err)
	}
	return cards
}

func (f *fixture) card(t *testing.T, itemID string) *jobs.QuestionCard {
	t.Helper()
	c, err := f.store.FindCard(context.Background(), f.jobID, itemID)
	if err != nil {
		t.Fatalf("FindCard(%s): %v", itemID, err)
	}
	return c
}

func (f *fixture) enqueue(t *testing.T, svc *review.Service) review.Task {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Enqueue(ctx, f.jobID, f.cards(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, ok, err := f.queue.Pop(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Pop = %v, %v", ok, err)
	}
	return task
}

func answer(v jobs.Verdict, reasons ...string) review.Reviewer {
	return reviewerFunc(func(context.Context, uuid.UUID, jobs.QuestionCard) (review.Outcome, error) {
		return review.Outcome{Verdict: v, Summary: "checked figure", Reasons: reasons}, nil
	})
}

func TestQualifies(t *testing.T) {
	tests := []struct {
		name string
		card jobs.QuestionCard
		want bool
	}{
		{
			name: "risky uncertain",
			card: jobs.QuestionCard{CardState: jobs.CardVerdictReady, VisualRisk: true, Verdict: ptr(jobs.VerdictUncertain)},
			want: true,
		},
		{
			name: "risky flagged correct",
			card: jobs.QuestionCard{CardState: jobs.CardVerdictReady, VisualRisk: true, NeedsReview: true, Verdict: ptr(jobs.VerdictCorrect)},
			want: true,
		},
		{
			name: "risky confident",
			card: jobs.QuestionCard{CardState: jobs.CardVerdictReady, VisualRisk: true, Verdict: ptr(jobs.VerdictIncorrect)},
		},
		{
			name: "uncertain without risk",
			card: jobs.QuestionCard{CardState: jobs.CardVerdictReady, Verdict: ptr(jobs.VerdictUncertain)},
		},
		{
			name: "already in review",
			card: jobs.QuestionCard{CardState: jobs.CardReviewPending, VisualRisk: true, Verdict: ptr(jobs.VerdictUncertain)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := review.Qualifies(tt.card); got != tt.want {
				t.Errorf("Qualifies = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectCapsPerPage(t *testing.T) {
	risky := func(id string, pos int) jobs.QuestionCard {
		return jobs.QuestionCard{
			ItemID:     id,
			Position:   pos,
			CardState:  jobs.CardVerdictReady,
			VisualRisk: true,
			Verdict:    ptr(jobs.VerdictUncertain),
		}
	}
	cards := []jobs.QuestionCard{risky("c", 2), risky("a", 0), risky("b", 1)}

	got := review.Select(cards, 2)
	if len(got) != 2 || got[0].ItemID != "a" || got[1].ItemID != "b" {
		t.Errorf("Select = %+v, want a, b", got)
	}
	if got := review.Select(cards, 0); len(got) != 0 {
		t.Errorf("Select with zero cap = %d cards", len(got))
	}
}

func TestSelectCountsCardsInReview(t *testing.T) {
	card := func(id string, page, pos int, state jobs.CardState) jobs.QuestionCard {
		return jobs.QuestionCard{
			ItemID:     id,
			PageIndex:  page,
			Position:   pos,
			CardState:  state,
			VisualRisk: true,
			Verdict:    ptr(jobs.VerdictUncertain),
		}
	}

	tests := []struct {
		name  string
		cards []jobs.QuestionCard
		want  []string
	}{
		{
			name: "cap spent by pending and ready",
			cards: []jobs.QuestionCard{
				card("a", 0, 0, jobs.CardReviewPending),
				card("b", 0, 1, jobs.CardReviewReady),
				card("c", 0, 2, jobs.CardVerdictReady),
			},
			want: nil,
		},
		{
			name: "failed review leaves one slot",
			cards: []jobs.QuestionCard{
				card("a", 0, 0, jobs.CardReviewFailed),
				card("b", 0, 1, jobs.CardVerdictReady),
				card("c", 0, 2, jobs.CardVerdictReady),
			},
			want: []string{"b"},
		},
		{
			name: "pages counted separately",
			cards: []jobs.QuestionCard{
				card("a", 0, 0, jobs.CardReviewPending),
				card("b", 0, 1, jobs.CardReviewPending),
				card("c", 1, 0, jobs.CardVerdictReady),
			},
			want: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, c := range review.Select(tt.cards, 2) {
				got = append(got, c.ItemID)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Select = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnqueueOnlyQualifyingCards(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, lock.NewNoop(), answer(jobs.VerdictIncorrect, "bar heights misread"), nil)

	queued, err := svc.Enqueue(context.Background(), f.jobID, f.cards(t))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(queued) != 1 || queued[0].ItemID != "p0-q1" {
		t.Fatalf("queued = %+v, want only p0-q1", queued)
	}

	states := map[string]jobs.CardState{}
	for _, c := range f.cards(t) {
		states[c.ItemID] = c.CardState
	}
	want := map[string]jobs.CardState{
		"p0-q1": jobs.CardReviewPending,
		"p0-q2": jobs.CardVerdictReady,
		"p0-q3": jobs.CardVerdictReady,
	}
	for id, s := range want {
		if states[id] != s {
			t.Errorf("%s state = %s, want %s", id, states[id], s)
		}
	}

	if n, _ := f.queue.Len(context.Background()); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}

	again, err := svc.Enqueue(context.Background(), f.jobID, f.cards(t))
	if err != nil || len(again) != 0 {
		t.Errorf("second Enqueue = %+v, %v; want nothing queued", again, err)
	}
}

func TestProcessAppliesReview(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, lock.NewNoop(), answer(jobs.VerdictIncorrect, "bar heights misread"), nil)
	task := f.enqueue(t, svc)

	if err := svc.Process(context.Background(), task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	c := f.card(t, "p0-q1")
	if c.CardState != jobs.CardReviewReady {
		t.Errorf("state = %s, want review_ready", c.CardState)
	}
	if !c.VerdictIs(jobs.VerdictIncorrect) {
		t.Errorf("verdict = %v, want incorrect", c.Verdict)
	}
	if c.ReviewSummary == nil || *c.ReviewSummary != "checked figure" {
		t.Errorf("summary = %v", c.ReviewSummary)
	}
	if c.ReviewAttempts != 1 {
		t.Errorf("attempts = %d, want 1", c.ReviewAttempts)
	}
	if !slices.Equal(f.observed.outcomes, []string{review.OutcomeReady}) {
		t.Errorf("outcomes = %v", f.observed.outcomes)
	}
}

func TestProcessIgnoresUnexplainedVerdictChange(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, lock.NewNoop(), answer(jobs.VerdictCorrect), nil)
	task := f.enqueue(t, svc)

	if err := svc.Process(context.Background(), task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	c := f.card(t, "p0-q1")
	if c.CardState != jobs.CardReviewReady {
		t.Errorf("state = %s, want review_ready", c.CardState)
	}
	if !c.VerdictIs(jobs.VerdictUncertain) {
		t.Errorf("verdict = %v, want unchanged uncertain", c.Verdict)
	}
	if len(c.ReviewReasons) != 1 || !strings.Contains(c.ReviewReasons[0], "no reason given") {
		t.Errorf("review reasons = %v", c.ReviewReasons)
	}
}

func TestProcessSkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	reviewer := reviewerFunc(func(context.Context, uuid.UUID, jobs.QuestionCard) (review.Outcome, error) {
		calls.Add(1)
		return review.Outcome{Verdict: jobs.VerdictCorrect}, nil
	})
	locker := lock.NewRedis(f.client)
	svc := f.service(t, locker, reviewer, nil)
	task := f.enqueue(t, svc)

	ctx := context.Background()
	held, err := locker.TryAcquire(ctx, review.LockKey(f.jobID, "p0-q1"), time.Minute)
	if err != nil || held == nil {
		t.Fatalf("TryAcquire = %v, %v", held, err)
	}

	if err := svc.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("reviewer called %d times while locked", calls.Load())
	}
	if c := f.card(t, "p0-q1"); c.CardState != jobs.CardReviewPending {
		t.Errorf("state = %s, want review_pending", c.CardState)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := svc.Process(ctx, task); err != nil {
		t.Fatalf("Process after release: %v", err)
	}
	if c := f.card(t, "p0-q1"); c.CardState != jobs.CardReviewReady {
		t.Errorf("state = %s, want review_ready", c.CardState)
	}
}

func TestProcessTimeoutFailsCard(t *testing.T) {
	f := newFixture(t)
	reviewer := reviewerFunc(func(ctx context.Context, _ uuid.UUID, _ jobs.QuestionCard) (review.Outcome, error) {
		<-ctx.Done()
		return review.Outcome{}, ctx.Err()
	})
	svc := f.service(t, lock.NewNoop(), reviewer, func(c *review.Config) {
		c.TaskTimeout = 20 * time.Millisecond
	})
	task := f.enqueue(t, svc)

	if err := svc.Process(context.Background(), task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	c := f.card(t, "p0-q1")
	if c.CardState != jobs.CardReviewFailed {
		t.Fatalf("state = %s, want review_failed", c.CardState)
	}
	if len(c.ReviewReasons) == 0 || !strings.Contains(c.ReviewReasons[0], "timed out") {
		t.Errorf("review reasons = %v", c.ReviewReasons)
	}
	if !c.VerdictIs(jobs.VerdictUncertain) {
		t.Errorf("verdict changed to %v", c.Verdict)
	}
}

func TestProcessExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	reviewer := reviewerFunc(func(context.Context, uuid.UUID, jobs.QuestionCard) (review.Outcome, error) {
		calls.Add(1)
		return review.Outcome{}, errors.New("model unavailable")
	})
	svc := f.service(t, lock.NewNoop(), reviewer, func(c *review.Config) { c.MaxAttempts = 3 })
	task := f.enqueue(t, svc)

	if err := svc.Process(context.Background(), task); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("reviewer calls = %d, want 3", calls.Load())
	}

	c := f.card(t, "p0-q1")
	if c.CardState != jobs.CardReviewFailed {
		t.Errorf("state = %s, want review_failed", c.CardState)
	}
	if c.ReviewAttempts != 1 {
		t.Errorf("attempts = %d, want 1", c.ReviewAttempts)
	}
}

func TestDuplicateProcessingConverges(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, lock.NewNoop(), answer(jobs.VerdictIncorrect, "axis label ignored"), nil)
	task := f.enqueue(t, svc)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			if err := svc.Process(context.Background(), task); err != nil {
				t.Errorf("Process: %v", err)
			}
		})
	}
	wg.Wait()

	c := f.card(t, "p0-q1")
	if c.CardState != jobs.CardReviewReady {
		t.Errorf("state = %s, want review_ready", c.CardState)
	}
	if c.ReviewAttempts != 1 {
		t.Errorf("attempts = %d, want exactly one applied review", c.ReviewAttempts)
	}
	if !c.VerdictIs(jobs.VerdictIncorrect) {
		t.Errorf("verdict = %v", c.Verdict)
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	failing := reviewerFunc(func(context.Context, uuid.UUID, jobs.QuestionCard) (review.Outcome, error) {
		return review.Outcome{}, errors.New("model unavailable")
	})
	svc := f.service(t, lock.NewNoop(), failing, nil)
	ctx := context.Background()

	if _, err := svc.Retry(ctx, f.jobID, "p0-q3"); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Errorf("Retry on verdict_ready card: err = %v, want ErrInvalidTransition", err)
	}

	task := f.enqueue(t, svc)
	if err := svc.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	card, err := svc.Retry(ctx, f.jobID, "p0-q1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if card.CardState != jobs.CardReviewPending {
		t.Errorf("state = %s, want review_pending", card.CardState)
	}
	if n, _ := f.queue.Len(ctx); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestSweepExpiresStaleReviews(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return clock })

	svc := f.service(t, lock.NewNoop(), answer(jobs.VerdictCorrect), nil)
	f.enqueue(t, svc)

	clock = clock.Add(10 * time.Minute)
	n, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	if c := f.card(t, "p0-q1"); c.CardState != jobs.CardReviewFailed {
		t.Errorf("state = %s, want review_failed", c.CardState)
	}
}

func TestInvalidConfig(t *testing.T) {
	f := newFixture(t)
	cfg := review.DefaultConfig()
	cfg.StaleAfter = cfg.TaskTimeout

	if _, err := review.New(f.store, f.queue, lock.NewNoop(), answer(jobs.VerdictCorrect), nil, cfg, slog.Default()); err == nil {
		t.Error("expected error for stale threshold not exceeding task timeout")
	}
}

func TestHandlerRetry(t *testing.T) {
	f := newFixture(t)
	failing := reviewerFunc(func(context.Context, uuid.UUID, jobs.QuestionCard) (review.Outcome, error) {
		return review.Outcome{}, errors.New("model unavailable")
	})
	svc := f.service(t, lock.NewNoop(), failing, nil)
	if err := svc.Process(context.Background(), f.enqueue(t, svc)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	mux := http.NewServeMux()
	group := svc.Handler().Routes()
	for _, route := range group.Routes {
		mux.HandleFunc(route.Method+" "+group.Prefix+route.Pattern, route.Handler)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"failed card", "/jobs/" + f.jobID.String() + "/cards/p0-q1/review", http.StatusAccepted},
		{"card not failed", "/jobs/" + f.jobID.String() + "/cards/p0-q3/review", http.StatusConflict},
		{"unknown card", "/jobs/" + f.jobID.String() + "/cards/p9-q9/review", http.StatusNotFound},
		{"bad job id", "/jobs/nope/cards/p0-q1/review", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("POST", tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}
