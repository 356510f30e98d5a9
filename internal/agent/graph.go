package agent

import (
	"context"
	"errors"
	"fmt"

	gaoconfig "github.com/JaimeStill/go-agents-orchestration/pkg/config"
	"github.com/JaimeStill/go-agents-orchestration/pkg/state"
)

// KeyRun is the graph state key holding the *run being advanced.
const KeyRun = "run"

var errMissingRun = errors.New("loop state missing run")

// buildGraph wires the loop: plan → execute → reflect, then back to plan
// until the reflection is accepted or the iteration cap is reached, then
// aggregate.
func buildGraph() (state.StateGraph, error) {
	cfg := gaoconfig.DefaultGraphConfig("marker-grade-page")
	cfg.Observer = "noop"

	graph, err := state.NewGraph(cfg)
	if err != nil {
		return nil, err
	}

	nodes := []struct {
		phase Phase
		step  func(*run, context.Context) error
	}{
		{PhasePlan, (*run).plan},
		{PhaseExecute, (*run).execute},
		{PhaseReflect, (*run).reflect},
		{PhaseAggregate, (*run).aggregate},
	}
	for _, n := range nodes {
		if err := graph.AddNode(string(n.phase), phaseNode(n.phase, n.step)); err != nil {
			return nil, err
		}
	}

	edges := []struct {
		from, to Phase
		when     func(state.State) bool
	}{
		{PhasePlan, PhaseExecute, nil},
		{PhaseExecute, PhaseReflect, nil},
		{PhaseReflect, PhaseAggregate, finished},
		{PhaseReflect, PhasePlan, state.Not(finished)},
	}
	for _, e := range edges {
		if err := graph.AddEdge(string(e.from), string(e.to), e.when); err != nil {
			return nil, err
		}
	}

	if err := graph.SetEntryPoint(string(PhasePlan)); err != nil {
		return nil, err
	}
	if err := graph.SetExitPoint(string(PhaseAggregate)); err != nil {
		return nil, err
	}
	return graph, nil
}

// phaseNode adapts a typed transition into a graph node. The first error is
// kept on the run so Run can return it unwrapped.
func phaseNode(phase Phase, step func(*run, context.Context) error) state.StateNode {
	return state.NewFunctionNode(func(ctx context.Context, s state.State) (state.State, error) {
		r, err := extractRun(s)
		if err != nil {
			return s, fmt.Errorf("%s: %w", phase, err)
		}
		if err := ctx.Err(); err != nil {
			r.err = err
			return s, err
		}
		if err := step(r, ctx); err != nil {
			r.err = err
			return s, fmt.Errorf("%s: %w", phase, err)
		}
		return s.Set(KeyRun, r), nil
	})
}

// finished is the reflect exit predicate.
func finished(s state.State) bool {
	r, err := extractRun(s)
	if err != nil {
		return true
	}
	return r.accepted || r.exhausted
}

func extractRun(s state.State) (*run, error) {
	val, ok := s.Get(KeyRun)
	if !ok {
		return nil, errMissingRun
	}
	r, ok := val.(*run)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", errMissingRun, KeyRun, val)
	}
	return r, nil
}
