// Package session holds the working state of one page's grading loop. The
// loop controller is the only writer; state lives in Redis under a fixed TTL
// that is independent of the job record.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/JaimeStill/marker/internal/tools"
)

// SourcePageImage names the raw page image as an evidence source.
const SourcePageImage = "page_image"

// ErrIterationLimit is returned when a reflection would exceed the
// configured iteration bound.
var ErrIterationLimit = errors.New("reflection count exceeds max iterations")

// Item is one non-blank answer under grading.
type Item struct {
	ID             string `json:"id"`
	QuestionNumber string `json:"question_number"`
	Question       string `json:"question,omitempty"`
	Answer         string `json:"answer,omitempty"`
}

// Plan is the ordered tool calls chosen for one iteration.
type Plan struct {
	Calls     []tools.Call `json:"calls"`
	Rationale string       `json:"rationale,omitempty"`
}

// PlanRecord is a plan stamped with the iteration that produced it.
type PlanRecord struct {
	Iteration int       `json:"iteration"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// Reflection is the self-evaluation of an iteration. Evidence maps item ids
// to the sources the reflection relied on (tool kinds or SourcePageImage).
type Reflection struct {
	Pass        bool                `json:"pass"`
	Confidence  float64             `json:"confidence"`
	Issues      []string            `json:"issues,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
	Evidence    map[string][]string `json:"evidence,omitempty"`
}

// State is the per-page working memory of the grading loop.
type State struct {
	ID              string                       `json:"id"`
	JobID           string                       `json:"job_id"`
	PageIndex       int                          `json:"page_index"`
	Images          []string                     `json:"images"`
	Slices          map[tools.Role][]tools.Slice `json:"slices"`
	Text            string                       `json:"text,omitempty"`
	Items           []Item                       `json:"items"`
	CurrentPlan     *Plan                        `json:"current_plan,omitempty"`
	ToolResults     map[tools.Kind]tools.Result  `json:"tool_results"`
	Reflection      *Reflection                  `json:"reflection,omitempty"`
	PlanHistory     []PlanRecord                 `json:"plan_history"`
	ReflectionCount int                          `json:"reflection_count"`
	Evidence        map[string][]string          `json:"evidence"`
	Warnings        []string                     `json:"warnings,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// ID returns the session id for a page of a job.
func ID(jobID string, pageIndex int) string {
	return fmt.Sprintf("%s:%d", jobID, pageIndex)
}

// New creates the initial state for a page.
func New(jobID string, pageIndex int, images []string, text string, items []Item, now time.Time) *State {
	return &State{
		ID:          ID(jobID, pageIndex),
		JobID:       jobID,
		PageIndex:   pageIndex,
		Images:      slices.Clone(images),
		Slices:      map[tools.Role][]tools.Slice{},
		Text:        text,
		Items:       slices.Clone(items),
		ToolResults: map[tools.Kind]tools.Result{},
		PlanHistory: []PlanRecord{},
		Evidence:    map[string][]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Iteration returns the number of plans produced so far.
func (s *State) Iteration() int {
	return len(s.PlanHistory)
}

// BeginIteration records plan as the current plan and returns the new
// iteration number, starting at 1.
func (s *State) BeginIteration(plan Plan, now time.Time) int {
	p := plan
	s.CurrentPlan = &p
	s.PlanHistory = append(s.PlanHistory, PlanRecord{
		Iteration: len(s.PlanHistory) + 1,
		Plan:      plan,
		CreatedAt: now,
	})
	s.UpdatedAt = now
	return len(s.PlanHistory)
}

// RecordToolResult stores the latest result for its tool kind. Successful
// slice extraction results are indexed by role.
func (s *State) RecordToolResult(r tools.Result, now time.Time) {
	s.ToolResults[r.Kind] = r
	if r.Kind == tools.KindSliceExtract && r.OK {
		s.Slices = map[tools.Role][]tools.Slice{}
		for _, sl := range r.Slices {
			s.Slices[sl.Role] = append(s.Slices[sl.Role], sl)
		}
	}
	s.UpdatedAt = now
}

// RecordReflection stores r and advances ReflectionCount. Evidence cited by
// r is kept only for sources that actually produced output: a tool kind
// whose latest result succeeded, or the page image when one exists.
func (s *State) RecordReflection(r Reflection, maxIterations int, now time.Time) error {
	if s.ReflectionCount+1 > maxIterations {
		return fmt.Errorf("%w: %d", ErrIterationLimit, maxIterations)
	}

	s.ReflectionCount++
	ref := r
	s.Reflection = &ref

	for itemID, sources := range r.Evidence {
		for _, src := range sources {
			if !s.validSource(src) || slices.Contains(s.Evidence[itemID], src) {
				continue
			}
			s.Evidence[itemID] = append(s.Evidence[itemID], src)
		}
	}

	s.UpdatedAt = now
	return nil
}

// HasEvidence reports whether itemID has at least one recorded source.
func (s *State) HasEvidence(itemID string) bool {
	return len(s.Evidence[itemID]) > 0
}

// Warn appends a warning.
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// FailedTools returns the tool results of the current plan that failed.
func (s *State) FailedTools() []tools.Result {
	if s.CurrentPlan == nil {
		return nil
	}
	var out []tools.Result
	seen := map[tools.Kind]bool{}
	for _, c := range s.CurrentPlan.Calls {
		k := c.Kind()
		if seen[k] {
			continue
		}
		seen[k] = true
		if r, ok := s.ToolResults[k]; ok && !r.OK {
			out = append(out, r)
		}
	}
	return out
}

func (s *State) validSource(src string) bool {
	if src == SourcePageImage {
		return len(s.Images) > 0
	}
	k, err := tools.ParseKind(src)
	if err != nil {
		return false
	}
	r, ok := s.ToolResults[k]
	return ok && r.OK
}
