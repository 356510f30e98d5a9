package agent_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JaimeStill/marker/internal/agent"
	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]session.State
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]session.State{}}
}

func (m *memStore) Create(_ context.Context, s *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ID] = *s
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) Save(_ context.Context, s *session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[s.ID]; !ok {
		return session.ErrNotFound
	}
	m.states[s.ID] = *s
	m.saves++
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

type scriptedReasoner struct {
	plan        func(st session.State) (session.Plan, error)
	reflections []session.Reflection
	reflectErr  error
	judgments   []agent.Judgment
	aggErr      error

	planInputs []session.State
	images     []string
}

func (s *scriptedReasoner) Plan(_ context.Context, st session.State) (session.Plan, error) {
	s.planInputs = append(s.planInputs, st)
	if s.plan != nil {
		return s.plan(st)
	}
	return session.Plan{Calls: []tools.Call{{Input: tools.MathInput{Expression: "2 + 2"}}}}, nil
}

func (s *scriptedReasoner) Reflect(_ context.Context, st session.State) (session.Reflection, error) {
	if s.reflectErr != nil {
		return session.Reflection{}, s.reflectErr
	}
	i := min(st.ReflectionCount, len(s.reflections)-1)
	return s.reflections[i], nil
}

func (s *scriptedReasoner) Aggregate(_ context.Context, _ session.State, images []string) ([]agent.Judgment, error) {
	s.images = images
	return s.judgments, s.aggErr
}

type invokerFunc func(ctx context.Context, call tools.Call) (tools.Result, error)

func (f invokerFunc) Invoke(ctx context.Context, call tools.Call) (tools.Result, error) {
	return f(ctx, call)
}

func okInvoker() tools.Invoker {
	return invokerFunc(func(_ context.Context, call tools.Call) (tools.Result, error) {
		return tools.Result{Kind: call.Kind(), OK: true}, nil
	})
}

type recorder struct {
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, e events.Event) {
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = string(e.Type)
	}
	return out
}

type harness struct {
	ctrl   *agent.Controller
	store  *memStore
	events *recorder
	sleeps []time.Duration
}

func newHarness(t *testing.T, r agent.Reasoner, inv tools.Invoker, opts ...agent.Option) *harness {
	t.Helper()
	h := &harness{store: newMemStore(), events: &recorder{}}

	opts = append([]agent.Option{
		agent.WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	}, opts...)

	ctrl, err := agent.New(r, inv, h.store, h.events, agent.DefaultConfig(),
		slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// steppingClock advances one second on every reading.
func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newState(items ...string) *session.State {
	list := make([]session.Item, len(items))
	for i, id := range items {
		list[i] = session.Item{ID: id, QuestionNumber: id}
	}
	return session.New("job-1", 0, []string{"jobs/job-1/pages/0.png"}, "", list, time.Now())
}

func evidence(items ...string) map[string][]string {
	out := map[string][]string{}
	for _, id := range items {
		out[id] = []string{string(tools.KindMathVerify)}
	}
	return out
}

func TestRunConvergesOnSecondIteration(t *testing.T) {
	r := &scriptedReasoner{
		reflections: []session.Reflection{
			{Pass: true, Confidence: 0.80, Issues: []string{"q1 arithmetic unchecked"}, Suggestions: []string{"verify q1"}, Evidence: evidence("q1")},
			{Pass: true, Confidence: 0.92, Evidence: evidence("q1")},
		},
		judgments: []agent.Judgment{{ItemID: "q1", Verdict: jobs.VerdictCorrect}},
	}
	h := newHarness(t, r, okInvoker())

	st := newState("q1")
	res, err := h.ctrl.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 2 || !res.Converged {
		t.Errorf("iterations = %d converged = %v, want 2 true", res.Iterations, res.Converged)
	}
	if st.ReflectionCount != 2 {
		t.Errorf("ReflectionCount = %d, want 2", st.ReflectionCount)
	}
	if len(st.PlanHistory) != 2 || st.PlanHistory[1].Iteration != 2 {
		t.Errorf("plan history = %+v", st.PlanHistory)
	}

	second := r.planInputs[1]
	if second.Reflection == nil || second.Reflection.Issues[0] != "q1 arithmetic unchecked" || second.Reflection.Suggestions[0] != "verify q1" {
		t.Errorf("second plan did not receive previous reflection: %+v", second.Reflection)
	}

	want := []string{
		"plan_start", "tool_call", "tool_done", "reflect_fail",
		"plan_start", "tool_call", "tool_done", "reflect_pass",
		"finalize_done",
	}
	if got := h.events.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}

	last := 0
	for _, e := range h.events.events {
		if e.Iteration < last {
			t.Errorf("event %s iteration %d after iteration %d", e.Type, e.Iteration, last)
		}
		last = e.Iteration
		if e.JobID != "job-1" {
			t.Errorf("event job id = %q", e.JobID)
		}
		isReflect := e.Type == events.TypeReflectPass || e.Type == events.TypeReflectFail
		if isReflect != (e.Confidence != nil) {
			t.Errorf("event %s confidence presence = %v", e.Type, e.Confidence != nil)
		}
	}

	if got := res.Items[0].Verdict; got != jobs.VerdictCorrect {
		t.Errorf("verdict = %s, want correct", got)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", res.Warnings)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	r := &scriptedReasoner{
		reflections: []session.Reflection{{Pass: false, Confidence: 0.5, Evidence: evidence("q1", "q2")}},
		judgments: []agent.Judgment{
			{ItemID: "q1", Verdict: jobs.VerdictIncorrect},
			{ItemID: "q2", Verdict: jobs.VerdictCorrect},
		},
	}
	h := newHarness(t, r, okInvoker(), agent.WithClock(steppingClock()))

	st := newState("q1", "q2")
	res, err := h.ctrl.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Iterations != 3 || res.Converged {
		t.Errorf("iterations = %d converged = %v, want 3 false", res.Iterations, res.Converged)
	}
	if st.ReflectionCount != 3 {
		t.Errorf("ReflectionCount = %d, want 3", st.ReflectionCount)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "max iterations") {
		t.Errorf("warnings = %v, want max iterations warning", res.Warnings)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want forced aggregation of 2", len(res.Items))
	}
	if len(res.Incorrect) != 1 || res.Incorrect[0].ItemID != "q1" {
		t.Errorf("incorrect subset = %+v, want q1", res.Incorrect)
	}

	if n := len(r.planInputs); n != 3 {
		t.Errorf("planner called %d times, want 3", n)
	}
	if got := h.events.events[len(h.events.events)-1]; got.Type != events.TypeFinalizeDone || got.Iteration != 3 {
		t.Errorf("last event = %+v, want finalize_done at iteration 3", got)
	}

	finalize := h.events.events[len(h.events.events)-1]
	if res.Duration < 10*time.Second {
		t.Errorf("Duration = %s, want the whole run measured", res.Duration)
	}
	if finalize.DurationMS != res.Duration.Milliseconds() {
		t.Errorf("finalize_done duration_ms = %d, want total run %d", finalize.DurationMS, res.Duration.Milliseconds())
	}
}

func TestConfigExitRule(t *testing.T) {
	cfg := agent.DefaultConfig()

	accepts := []struct {
		name string
		refl session.Reflection
		want bool
	}{
		{"pass at threshold", session.Reflection{Pass: true, Confidence: 0.90}, true},
		{"pass above threshold", session.Reflection{Pass: true, Confidence: 0.92}, true},
		{"pass below threshold", session.Reflection{Pass: true, Confidence: 0.80}, false},
		{"confident failure", session.Reflection{Pass: false, Confidence: 1}, false},
	}
	for _, tt := range accepts {
		t.Run(tt.name, func(t *testing.T) {
			if got := cfg.Accepts(tt.refl); got != tt.want {
				t.Errorf("Accepts(%+v) = %v, want %v", tt.refl, got, tt.want)
			}
		})
	}

	for iteration, want := range map[int]bool{1: false, 2: false, 3: true, 4: true} {
		if got := cfg.Exhausted(iteration); got != want {
			t.Errorf("Exhausted(%d) = %v, want %v", iteration, got, want)
		}
	}
}

func TestToolRetriesThenSucceeds(t *testing.T) {
	calls := 0
	inv := invokerFunc(func(_ context.Context, call tools.Call) (tools.Result, error) {
		calls++
		if calls < 3 {
			return tools.Result{}, errors.New("transient")
		}
		return tools.Result{Kind: call.Kind(), OK: true}, nil
	})
	r := &scriptedReasoner{
		reflections: []session.Reflection{{Pass: true, Confidence: 0.95, Evidence: evidence("q1")}},
		judgments:   []agent.Judgment{{ItemID: "q1", Verdict: jobs.VerdictCorrect}},
	}
	h := newHarness(t, r, inv)

	st := newState("q1")
	if _, err := h.ctrl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := st.ToolResults[tools.KindMathVerify]
	if !res.OK || res.Attempts != 3 {
		t.Errorf("result = %+v, want OK after 3 attempts", res)
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 500*time.Millisecond || h.sleeps[1] != time.Second {
		t.Errorf("backoff = %v, want [500ms 1s]", h.sleeps)
	}
}

func TestToolFailureBecomesIssue(t *testing.T) {
	inv := invokerFunc(func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Result{}, errors.New("sandbox unavailable")
	})
	r := &scriptedReasoner{
		reflections: []session.Reflection{{Pass: true, Confidence: 0.95, Evidence: evidence("q1")}},
		judgments:   []agent.Judgment{{ItemID: "q1", Verdict: jobs.VerdictCorrect}},
	}
	h := newHarness(t, r, inv)

	st := newState("q1")
	res, err := h.ctrl.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tr := st.ToolResults[tools.KindMathVerify]
	if tr.OK || tr.Attempts != 3 || tr.Error != "sandbox unavailable" {
		t.Errorf("tool result = %+v, want failed after 3 attempts", tr)
	}

	issues := strings.Join(st.Reflection.Issues, "\n")
	if !strings.Contains(issues, "math_verify failed after 3 attempts") {
		t.Errorf("issues = %q, want tool failure issue", issues)
	}

	if got := res.Items[0]; got.Verdict != jobs.VerdictUncertain {
		t.Errorf("verdict = %s, want uncertain: evidence came only from a failed tool", got.Verdict)
	}

	var done events.Event
	for _, e := range h.events.events {
		if e.Type == events.TypeToolDone {
			done = e
		}
	}
	if done.Status != events.StatusError {
		t.Errorf("tool_done status = %s, want error", done.Status)
	}
}

func TestAggregationForcesUncertain(t *testing.T) {
	r := &scriptedReasoner{
		reflections: []session.Reflection{{
			Pass:       true,
			Confidence: 0.99,
			Evidence: map[string][]string{
				"q1": {"math_verify"},
				"q3": {"page_image"},
				"q4": {"math_verify"},
			},
		}},
		judgments: []agent.Judgment{
			{ItemID: "q1", Verdict: jobs.VerdictIncorrect, Reasons: []string{"sign error"}},
			{ItemID: "q2", Verdict: jobs.VerdictCorrect},
			{ItemID: "q4", Verdict: "mostly right"},
		},
	}
	h := newHarness(t, r, okInvoker())

	res, err := h.ctrl.Run(context.Background(), newState("q1", "q2", "q3", "q4"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]jobs.Verdict{
		"q1": jobs.VerdictIncorrect,
		"q2": jobs.VerdictUncertain,
		"q3": jobs.VerdictUncertain,
		"q4": jobs.VerdictUncertain,
	}
	if len(res.Items) != len(want) {
		t.Fatalf("items = %d, want %d", len(res.Items), len(want))
	}
	for id, v := range want {
		got, ok := res.Item(id)
		if !ok {
			t.Errorf("missing item %s", id)
			continue
		}
		if got.Verdict != v {
			t.Errorf("%s verdict = %s, want %s", id, got.Verdict, v)
		}
	}

	q1, _ := res.Item("q1")
	if len(q1.Evidence) != 1 || q1.Evidence[0] != "math_verify" {
		t.Errorf("q1 evidence = %v", q1.Evidence)
	}
	q2, _ := res.Item("q2")
	if !q2.NeedsReview {
		t.Error("item without evidence not flagged for review")
	}
}

func TestPlannerFailureUsesFallbackPlan(t *testing.T) {
	r := &scriptedReasoner{
		plan: func(session.State) (session.Plan, error) {
			return session.Plan{}, errors.New("model overloaded")
		},
		reflections: []session.Reflection{{Pass: true, Confidence: 0.95, Evidence: evidence("q1")}},
		judgments:   []agent.Judgment{{ItemID: "q1", Verdict: jobs.VerdictCorrect}},
	}
	h := newHarness(t, r, okInvoker())

	st := newState("q1")
	res, err := h.ctrl.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	kinds := []tools.Kind{}
	for _, c := range st.PlanHistory[0].Plan.Calls {
		kinds = append(kinds, c.Kind())
	}
	if len(kinds) != 2 || kinds[0] != tools.KindSliceExtract || kinds[1] != tools.KindOCRFallback {
		t.Errorf("fallback plan = %v", kinds)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "planner failed") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if h.events.events[0].Status != events.StatusError {
		t.Errorf("plan_start status = %s, want error", h.events.events[0].Status)
	}
}

func TestAggregationFailureYieldsUncertain(t *testing.T) {
	r := &scriptedReasoner{
		reflections: []session.Reflection{{Pass: true, Confidence: 0.95, Evidence: evidence("q1")}},
		aggErr:      errors.New("vision call failed"),
	}
	h := newHarness(t, r, okInvoker())

	res, err := h.ctrl.Run(context.Background(), newState("q1"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Items[0].Verdict != jobs.VerdictUncertain {
		t.Errorf("verdict = %s, want uncertain", res.Items[0].Verdict)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := invokerFunc(func(context.Context, tools.Call) (tools.Result, error) {
		cancel()
		return tools.Result{}, context.Canceled
	})
	r := &scriptedReasoner{reflections: []session.Reflection{{Pass: true, Confidence: 1}}}
	h := newHarness(t, r, inv)

	if _, err := h.ctrl.Run(ctx, newState("q1")); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestSessionPersistedEachPhase(t *testing.T) {
	r := &scriptedReasoner{
		reflections: []session.Reflection{{Pass: true, Confidence: 0.95, Evidence: evidence("q1")}},
		judgments:   []agent.Judgment{{ItemID: "q1", Verdict: jobs.VerdictCorrect}},
	}
	h := newHarness(t, r, okInvoker())

	st := newState("q1")
	if _, err := h.ctrl.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.store.saves != 4 {
		t.Errorf("saves = %d, want one per phase (4)", h.store.saves)
	}
	stored, err := h.store.Get(context.Background(), st.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ReflectionCount != 1 {
		t.Errorf("stored ReflectionCount = %d, want 1", stored.ReflectionCount)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := agent.DefaultConfig()
	cfg.MaxIterations = 0
	_, err := agent.New(&scriptedReasoner{}, okInvoker(), newMemStore(), nil, cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Error("New accepted MaxIterations = 0")
	}
}
