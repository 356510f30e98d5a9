package reasoning

import (
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
)

// toolOutcome is the compact form of a tool result shown to the planner.
type toolOutcome struct {
	Tool     tools.Kind `json:"tool"`
	OK       bool       `json:"ok"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
}

type planView struct {
	JobID       string         `json:"job_id"`
	PageIndex   int            `json:"page_index"`
	Iteration   int            `json:"iteration"`
	Items       []session.Item `json:"items"`
	Tools       []toolOutcome  `json:"tools_run"`
	Slices      int            `json:"slices_found"`
	Issues      []string       `json:"previous_issues,omitempty"`
	Suggestions []string       `json:"previous_suggestions,omitempty"`
}

func newPlanView(st session.State) planView {
	v := planView{
		JobID:     st.JobID,
		PageIndex: st.PageIndex,
		Iteration: st.Iteration() + 1,
		Items:     st.Items,
		Tools:     []toolOutcome{},
	}
	for _, k := range tools.Kinds() {
		if r, ok := st.ToolResults[k]; ok {
			v.Tools = append(v.Tools, toolOutcome{Tool: k, OK: r.OK, Error: r.Error, Attempts: r.Attempts})
		}
	}
	for _, s := range st.Slices {
		v.Slices += len(s)
	}
	if st.Reflection != nil {
		v.Issues = st.Reflection.Issues
		v.Suggestions = st.Reflection.Suggestions
	}
	return v
}

// stateView is the working state shown to the reflect and aggregate stages.
type stateView struct {
	PageIndex   int                 `json:"page_index"`
	Iteration   int                 `json:"iteration"`
	Text        string              `json:"recognized_text,omitempty"`
	Items       []session.Item      `json:"items"`
	ToolResults []tools.Result      `json:"tool_results"`
	Evidence    map[string][]string `json:"evidence"`
	Reflection  *session.Reflection `json:"previous_reflection,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

func newStateView(st session.State) stateView {
	v := stateView{
		PageIndex:   st.PageIndex,
		Iteration:   st.Iteration(),
		Text:        st.Text,
		Items:       st.Items,
		ToolResults: []tools.Result{},
		Evidence:    st.Evidence,
		Reflection:  st.Reflection,
		Warnings:    st.Warnings,
	}
	for _, k := range tools.Kinds() {
		if r, ok := st.ToolResults[k]; ok {
			v.ToolResults = append(v.ToolResults, r)
		}
	}
	return v
}
