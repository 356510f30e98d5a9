// Package agent runs the bounded plan, execute, reflect, aggregate loop that
// grades one page.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/JaimeStill/go-agents-orchestration/pkg/state"

	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
)

// Phase names a node of the loop graph.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseExecute   Phase = "execute"
	PhaseReflect   Phase = "reflect"
	PhaseAggregate Phase = "aggregate"
)

// Controller runs loops. It is safe for concurrent use; each Run owns its
// session state exclusively.
type Controller struct {
	reasoner Reasoner
	tools    tools.Invoker
	store    session.Store
	emitter  events.Emitter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces the retry backoff wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// New creates a Controller.
func New(
	reasoner Reasoner,
	invoker tools.Invoker,
	store session.Store,
	emitter events.Emitter,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = events.Discard
	}

	c := &Controller{
		reasoner: reasoner,
		tools:    invoker,
		store:    store,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.With("system", "agent"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run grades the items in st and returns one verdict per item. Tool and
// model failures are absorbed into the result as issues and warnings; Run
// returns an error only when ctx ends or session state cannot be stored.
func (c *Controller) Run(ctx context.Context, st *session.State) (*PageResult, error) {
	if err := c.store.Create(ctx, st); err != nil {
		return nil, err
	}

	graph, err := buildGraph()
	if err != nil {
		return nil, fmt.Errorf("build loop graph: %w", err)
	}

	r := &run{c: c, st: st, started: c.now()}
	final, err := graph.Execute(ctx, state.New(nil).Set(KeyRun, r))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case r.err != nil:
			return nil, r.err
		}
		return nil, fmt.Errorf("execute loop graph: %w", err)
	}

	if r, err = extractRun(final); err != nil {
		return nil, err
	}
	if r.result == nil {
		return nil, errors.New("loop ended without aggregation")
	}

	c.logger.Info("page graded",
		"session", st.ID,
		"iterations", r.result.Iterations,
		"converged", r.result.Converged,
		"incorrect", len(r.result.Incorrect),
	)
	return r.result, nil
}

// run is the per-page value carried through the graph under KeyRun.
type run struct {
	c         *Controller
	st        *session.State
	started   time.Time
	accepted  bool
	exhausted bool
	result    *PageResult
	err       error
}

func (r *run) plan(ctx context.Context) error {
	iteration := r.st.Iteration() + 1
	start := r.c.now()

	sctx, cancel := context.WithTimeout(ctx, r.c.cfg.StageTimeout)
	plan, err := r.c.reasoner.Plan(sctx, *r.st)
	cancel()

	e := events.Event{Type: events.TypePlanStart, Iteration: iteration, Status: events.StatusCompleted}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		plan = r.fallbackPlan()
		r.st.Warn(fmt.Sprintf("iteration %d: planner failed, using fallback plan: %v", iteration, err))
		e.Status = events.StatusError
		e.Message = err.Error()
	}
	plan.Calls = slices.DeleteFunc(plan.Calls, func(c tools.Call) bool { return c.Input == nil })

	r.st.BeginIteration(plan, r.c.now())
	e.DurationMS = r.since(start)
	r.emit(ctx, e)

	return r.save(ctx)
}

// fallbackPlan discovers slices and transcribes the page when the planner
// cannot produce a plan.
func (r *run) fallbackPlan() session.Plan {
	p := session.Plan{
		Calls: []tools.Call{
			{Input: tools.SliceInput{JobID: r.st.JobID, PageIndex: r.st.PageIndex}},
		},
		Rationale: "fallback",
	}
	if len(r.st.Images) > 0 {
		p.Calls = append(p.Calls, tools.Call{Input: tools.OCRInput{ImageKey: r.st.Images[0]}})
	}
	return p
}

func (r *run) execute(ctx context.Context) error {
	iteration := r.st.Iteration()

	for _, call := range r.st.CurrentPlan.Calls {
		kind := string(call.Kind())
		r.emit(ctx, events.Event{
			Type:      events.TypeToolCall,
			Iteration: iteration,
			Status:    events.StatusRunning,
			Tool:      kind,
		})

		res := r.c.invoke(ctx, call)
		if err := ctx.Err(); err != nil {
			return err
		}
		r.st.RecordToolResult(res, r.c.now())

		e := events.Event{
			Type:       events.TypeToolDone,
			Iteration:  iteration,
			Status:     events.StatusCompleted,
			DurationMS: res.DurationMS,
			Tool:       kind,
		}
		if !res.OK {
			e.Status = events.StatusError
			e.Message = res.Error
		}
		r.emit(ctx, e)
	}

	return r.save(ctx)
}

func (r *run) reflect(ctx context.Context) error {
	iteration := r.st.Iteration()
	start := r.c.now()

	sctx, cancel := context.WithTimeout(ctx, r.c.cfg.StageTimeout)
	refl, err := r.c.reasoner.Reflect(sctx, *r.st)
	cancel()

	status := events.StatusCompleted
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refl = session.Reflection{Issues: []string{"reflection unavailable: " + err.Error()}}
		status = events.StatusError
	}

	for _, f := range r.st.FailedTools() {
		refl.Issues = append(refl.Issues,
			fmt.Sprintf("%s failed after %d attempts: %s", f.Kind, f.Attempts, f.Error))
	}
	refl.Confidence = min(max(refl.Confidence, 0), 1)

	if err := r.st.RecordReflection(refl, r.c.cfg.MaxIterations, r.c.now()); err != nil {
		return err
	}

	r.accepted = r.c.cfg.Accepts(refl)
	r.exhausted = !r.accepted && r.c.cfg.Exhausted(iteration)

	typ := events.TypeReflectFail
	if r.accepted {
		typ = events.TypeReflectPass
	}
	r.emit(ctx, events.Event{
		Type:       typ,
		Iteration:  iteration,
		Status:     status,
		DurationMS: r.since(start),
		Pass:       &refl.Pass,
		Confidence: &refl.Confidence,
		Issues:     refl.Issues,
	})

	if r.exhausted {
		r.st.Warn(fmt.Sprintf(
			"max iterations (%d) reached without convergence, last confidence %.2f",
			r.c.cfg.MaxIterations, refl.Confidence,
		))
	}
	return r.save(ctx)
}

func (r *run) aggregate(ctx context.Context) error {
	images := SelectImages(r.st)

	sctx, cancel := context.WithTimeout(ctx, r.c.cfg.StageTimeout)
	judgments, err := r.c.reasoner.Aggregate(sctx, *r.st, images)
	cancel()

	status := events.StatusCompleted
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.st.Warn("aggregation failed, all items uncertain: " + err.Error())
		judgments = nil
		status = events.StatusError
	}

	items := r.resolve(judgments)
	result := &PageResult{
		SessionID:  r.st.ID,
		Items:      items,
		Incorrect:  Incorrect(items),
		Iterations: r.st.Iteration(),
		Converged:  r.accepted,
		Warnings:   slices.Clone(r.st.Warnings),
		Figures:    len(r.st.Slices[tools.RoleFigure]) > 0,
		Duration:   r.c.now().Sub(r.started),
	}
	if r.st.Reflection != nil {
		result.Confidence = r.st.Reflection.Confidence
	}
	r.result = result

	r.emit(ctx, events.Event{
		Type:       events.TypeFinalizeDone,
		Iteration:  r.st.Iteration(),
		Status:     status,
		DurationMS: result.Duration.Milliseconds(),
	})

	return r.save(ctx)
}

// resolve maps every item to exactly one verdict. Items the model skipped,
// answered with an unknown verdict, or graded without any recorded evidence
// are uncertain.
func (r *run) resolve(judgments []Judgment) []ItemResult {
	byID := make(map[string]Judgment, len(judgments))
	for _, j := range judgments {
		if _, dup := byID[j.ItemID]; !dup {
			byID[j.ItemID] = j
		}
	}

	out := make([]ItemResult, 0, len(r.st.Items))
	for _, it := range r.st.Items {
		res := ItemResult{
			ItemID:   it.ID,
			Verdict:  jobs.VerdictUncertain,
			Evidence: slices.Clone(r.st.Evidence[it.ID]),
		}

		j, ok := byID[it.ID]
		verdict, valid := jobs.ParseVerdict(string(j.Verdict))
		switch {
		case !ok:
			res.NeedsReview = true
			res.Reasons = []string{"no verdict returned for item"}
		case !r.st.HasEvidence(it.ID):
			res.NeedsReview = true
			res.Reasons = append(slices.Clone(j.Reasons), "no supporting evidence recorded")
		case !valid:
			res.NeedsReview = true
			res.Reasons = append(slices.Clone(j.Reasons), fmt.Sprintf("unrecognized verdict %q", j.Verdict))
		default:
			res.Verdict = verdict
			res.NeedsReview = j.NeedsReview
			res.Reasons = slices.Clone(j.Reasons)
		}
		out = append(out, res)
	}
	return out
}

// Incorrect returns the items whose verdict is incorrect.
func Incorrect(items []ItemResult) []ItemResult {
	out := []ItemResult{}
	for _, it := range items {
		if it.Verdict == jobs.VerdictIncorrect {
			out = append(out, it)
		}
	}
	return out
}

func (r *run) emit(ctx context.Context, e events.Event) {
	e.JobID = r.st.JobID
	e.PageIndex = r.st.PageIndex
	e.Time = r.c.now()
	r.c.emitter.Emit(ctx, e)
}

func (r *run) save(ctx context.Context) error {
	return r.c.store.Save(ctx, r.st)
}

func (r *run) since(t time.Time) int64 {
	return r.c.now().Sub(t).Milliseconds()
}

// invoke runs call with retries. The returned result always names the call's
// kind; OK is false when every attempt failed.
func (c *Controller) invoke(ctx context.Context, call tools.Call) tools.Result {
	start := c.now()
	attempts := 0
	var lastErr error

	for {
		attempts++
		tctx, cancel := context.WithTimeout(ctx, c.cfg.ToolTimeout)
		res, err := c.tools.Invoke(tctx, call)
		cancel()

		if err == nil {
			res.Kind = call.Kind()
			res.OK = true
			res.Attempts = attempts
			res.DurationMS = c.now().Sub(start).Milliseconds()
			return res
		}
		lastErr = err

		if attempts > len(c.cfg.RetryBackoff) || ctx.Err() != nil {
			break
		}
		c.logger.Debug("tool call failed, retrying", "tool", call.Kind(), "attempt", attempts, "error", err)
		if err := c.sleep(ctx, c.cfg.RetryBackoff[attempts-1]); err != nil {
			break
		}
	}

	return tools.Result{
		Kind:       call.Kind(),
		Error:      lastErr.Error(),
		Attempts:   attempts,
		DurationMS: c.now().Sub(start).Milliseconds(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
