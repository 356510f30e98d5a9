// Package jobs implements the grading job domain: jobs, per-page summaries,
// and question cards, with upsert-based persistence so concurrent and
// retried writers converge on the same records.
package jobs

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further page processing will occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// SourceKind identifies how the submitted pages were provided.
type SourceKind string

const (
	SourceImages SourceKind = "images"
	SourcePDF    SourceKind = "pdf"
)

// AnswerState describes what structural recognition found in an answer area.
type AnswerState string

const (
	AnswerBlank   AnswerState = "blank"
	AnswerPresent AnswerState = "has_answer"
	AnswerUnknown AnswerState = "unknown"
)

// ParseAnswerState maps recognizer output onto a known state, defaulting to
// AnswerUnknown.
func ParseAnswerState(s string) AnswerState {
	switch AnswerState(strings.ToLower(strings.TrimSpace(s))) {
	case AnswerBlank:
		return AnswerBlank
	case AnswerPresent:
		return AnswerPresent
	default:
		return AnswerUnknown
	}
}

// Verdict is the grading outcome for a single answer.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictUncertain Verdict = "uncertain"
)

// ParseVerdict validates a verdict string. Unknown values are rejected so
// callers can fall back to VerdictUncertain explicitly.
func ParseVerdict(s string) (Verdict, bool) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictCorrect, VerdictIncorrect, VerdictUncertain:
		return v, true
	default:
		return "", false
	}
}

// Job is one submitted batch of pages.
type Job struct {
	ID            uuid.UUID      `json:"id"`
	Status        Status         `json:"status"`
	SourceKind    SourceKind     `json:"source_kind"`
	SourceKeys    []string       `json:"-"`
	TotalPages    int            `json:"total_pages"`
	DonePages     int            `json:"done_pages"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	PageSummaries []PageSummary  `json:"page_summaries"`
	QuestionCards []QuestionCard `json:"question_cards"`
}

// PendingReviews reports whether any card is still awaiting review. Callers
// polling a done job keep observing while this is true.
func (j *Job) PendingReviews() bool {
	for _, c := range j.QuestionCards {
		if c.CardState == CardReviewPending {
			return true
		}
	}
	return false
}

// PageSummary holds the per-page counts published after a page completes.
// Every card on the page is counted in exactly one of the count fields.
type PageSummary struct {
	PageIndex      int    `json:"page_index"`
	WrongCount     int    `json:"wrong_count"`
	CorrectCount   int    `json:"correct_count"`
	UncertainCount int    `json:"uncertain_count"`
	BlankCount     int    `json:"blank_count"`
	NeedsReview    bool   `json:"needs_review"`
	Completed      bool   `json:"completed"`
	Error          string `json:"error,omitempty"`
}

// Total returns the number of cards the summary accounts for.
func (s PageSummary) Total() int {
	return s.WrongCount + s.CorrectCount + s.UncertainCount + s.BlankCount
}

// QuestionCard is the per-answer record advanced by the grading pipeline and
// the review worker.
type QuestionCard struct {
	ItemID         string      `json:"item_id"`
	QuestionNumber string      `json:"question_number"`
	PageIndex      int         `json:"page_index"`
	Position       int         `json:"position"`
	AnswerState    AnswerState `json:"answer_state"`
	CardState      CardState   `json:"card_state"`
	Verdict        *Verdict    `json:"verdict,omitempty"`
	NeedsReview    bool        `json:"needs_review"`
	VisualRisk     bool        `json:"visual_risk"`
	Reasons        []string    `json:"reasons,omitempty"`
	ReviewSummary  *string     `json:"review_summary,omitempty"`
	ReviewReasons  []string    `json:"review_reasons,omitempty"`
	ReviewAttempts int         `json:"review_attempts"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// VerdictIs reports whether the card carries verdict v.
func (c *QuestionCard) VerdictIs(v Verdict) bool {
	return c.Verdict != nil && *c.Verdict == v
}

// Summarize computes the page summary for the given page's cards. Blank
// answers count as blank (their verdict is always incorrect); the remaining
// cards count by verdict, with unresolved cards counted as uncertain.
func Summarize(pageIndex int, cards []QuestionCard) PageSummary {
	s := PageSummary{PageIndex: pageIndex, Completed: true}
	for _, c := range cards {
		if c.PageIndex != pageIndex {
			continue
		}
		switch {
		case c.AnswerState == AnswerBlank:
			s.BlankCount++
		case c.VerdictIs(VerdictIncorrect):
			s.WrongCount++
		case c.VerdictIs(VerdictCorrect):
			s.CorrectCount++
		default:
			s.UncertainCount++
		}
		if c.NeedsReview || c.CardState.InReview() {
			s.NeedsReview = true
		}
	}
	return s
}

// CreateCommand carries the data needed to register a new job.
type CreateCommand struct {
	ID         uuid.UUID
	SourceKind SourceKind
	SourceKeys []string
	TotalPages int
}

// ListFilter narrows a job listing. An empty Statuses matches every job.
type ListFilter struct {
	Statuses []string
}

// ParseListFilter reads the comma-separated status parameter.
func ParseListFilter(values url.Values) (ListFilter, error) {
	var f ListFilter
	for part := range strings.SplitSeq(values.Get("status"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch Status(part) {
		case StatusQueued, StatusRunning, StatusDone, StatusFailed:
			f.Statuses = append(f.Statuses, part)
		default:
			return ListFilter{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, part)
		}
	}
	return f, nil
}

// VerdictUpdate merges a resolved verdict into an existing card.
type VerdictUpdate struct {
	ItemID      string
	Verdict     Verdict
	NeedsReview bool
	VisualRisk  bool
	Reasons     []string
}

// ReviewPatch carries the review metadata written alongside a card
// transition. Nil fields are left unchanged.
type ReviewPatch struct {
	Verdict          *Verdict
	Summary          *string
	Reasons          []string
	IncrementAttempt bool
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ItemID derives the stable card key for a question on a page. The same page
// and question number always produce the same key, so re-processing a page
// updates cards in place.
func ItemID(pageIndex int, questionNumber string) string {
	q := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(questionNumber)), "-")
	q = strings.Trim(q, "-")
	if q == "" {
		q = "x"
	}
	return fmt.Sprintf("p%d-q%s", pageIndex, q)
}

// AssignItemIDs derives item ids for questions recognized on one page,
// disambiguating repeated question numbers by occurrence order.
func AssignItemIDs(pageIndex int, questionNumbers []string) []string {
	ids := make([]string, len(questionNumbers))
	seen := make(map[string]int, len(questionNumbers))
	for i, qn := range questionNumbers {
		base := ItemID(pageIndex, qn)
		seen[base]++
		if n := seen[base]; n > 1 {
			ids[i] = fmt.Sprintf("%s-%d", base, n)
		} else {
			ids[i] = base
		}
	}
	return ids
}
