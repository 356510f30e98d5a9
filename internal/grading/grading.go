// Package grading runs submitted jobs page by page: recognition, placeholder
// cards, the blank-answer rule, the agent loop, verdict merge, review
// enqueue, and the page summary. Results are published as each page
// completes.
package grading

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/internal/agent"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/session"
)

// Submission errors.
var (
	ErrNoPages          = errors.New("no pages submitted")
	ErrTooManyPages     = errors.New("too many pages submitted")
	ErrMixedSources     = errors.New("a pdf must be submitted on its own")
	ErrUnreadableSource = errors.New("source is unreadable")
)

// MapHTTPStatus maps grading errors to HTTP status codes, deferring to the
// job domain for the rest.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoPages),
		errors.Is(err, ErrTooManyPages),
		errors.Is(err, ErrMixedSources),
		errors.Is(err, ErrUnreadableSource):
		return http.StatusBadRequest
	default:
		return jobs.MapHTTPStatus(err)
	}
}

// Request asks a worker to grade a job starting at StartPage.
type Request struct {
	JobID     uuid.UUID `json:"job_id"`
	StartPage int       `json:"start_page"`
}

// Recognition is the structural reading of one page.
type Recognition struct {
	Text       string           `json:"text"`
	LowQuality bool             `json:"low_quality"`
	Items      []RecognizedItem `json:"items"`
}

// RecognizedItem is one question found on a page.
type RecognizedItem struct {
	QuestionNumber string `json:"question_number"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	AnswerState    string `json:"answer_state"`
	VisualRisk     bool   `json:"visual_risk"`
}

// Recognizer reads the questions and answers on a stored page image.
type Recognizer interface {
	Recognize(ctx context.Context, imageKey string) (Recognition, error)
}

// Looper grades the items of one page.
type Looper interface {
	Run(ctx context.Context, st *session.State) (*agent.PageResult, error)
}

// Reviews queues second-pass reviews for a page's cards.
type Reviews interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, cards []jobs.QuestionCard) ([]jobs.QuestionCard, error)
}

// Renderer turns a PDF into PNG page images.
type Renderer interface {
	Render(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Observer records page outcomes.
type Observer interface {
	ObservePage(outcome string)
}

// Page outcomes reported to the Observer.
const (
	PageCompleted = "completed"
	PageFailed    = "failed"
)
