package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/JaimeStill/marker/pkg/query"
	"github.com/JaimeStill/marker/pkg/repository"
)

// jobProjection exposes job columns to listings. Its order matches scanJob.
var jobProjection = query.NewProjection("jobs").
	Project("id", "id").
	Project("status", "status").
	Project("source_kind", "source_kind").
	Project("source_keys", "source_keys").
	Project("total_pages", "total_pages").
	Project("done_pages", "done_pages").
	Project("error", "error").
	Project("created_at", "created_at").
	Project("updated_at", "updated_at").
	Project("completed_at", "completed_at")

var jobColumns = jobProjection.Columns()

const summaryColumns = `page_index, wrong_count, correct_count, uncertain_count,
	blank_count, needs_review, completed, error`

const cardColumns = `item_id, question_number, page_index, position, answer_state,
	card_state, verdict, needs_review, visual_risk, reasons, review_summary,
	review_reasons, review_attempts, updated_at`

func scanJob(s repository.Scanner) (Job, error) {
	var j Job
	var keysRaw []byte

	err := s.Scan(
		&j.ID,
		&j.Status,
		&j.SourceKind,
		&keysRaw,
		&j.TotalPages,
		&j.DonePages,
		&j.Error,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return j, err
	}

	if err := unmarshalList(keysRaw, &j.SourceKeys); err != nil {
		return j, fmt.Errorf("unmarshal source keys: %w", err)
	}

	j.PageSummaries = []PageSummary{}
	j.QuestionCards = []QuestionCard{}
	return j, nil
}

func scanSummary(s repository.Scanner) (PageSummary, error) {
	var p PageSummary
	err := s.Scan(
		&p.PageIndex,
		&p.WrongCount,
		&p.CorrectCount,
		&p.UncertainCount,
		&p.BlankCount,
		&p.NeedsReview,
		&p.Completed,
		&p.Error,
	)
	return p, err
}

func scanCard(s repository.Scanner) (QuestionCard, error) {
	var c QuestionCard
	var verdict, summary sql.NullString
	var reasonsRaw, reviewRaw []byte

	err := s.Scan(
		&c.ItemID,
		&c.QuestionNumber,
		&c.PageIndex,
		&c.Position,
		&c.AnswerState,
		&c.CardState,
		&verdict,
		&c.NeedsReview,
		&c.VisualRisk,
		&reasonsRaw,
		&summary,
		&reviewRaw,
		&c.ReviewAttempts,
		&c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}

	if verdict.Valid {
		v := Verdict(verdict.String)
		c.Verdict = &v
	}
	if summary.Valid {
		c.ReviewSummary = &summary.String
	}
	if err := unmarshalList(reasonsRaw, &c.Reasons); err != nil {
		return c, fmt.Errorf("unmarshal reasons: %w", err)
	}
	if err := unmarshalList(reviewRaw, &c.ReviewReasons); err != nil {
		return c, fmt.Errorf("unmarshal review reasons: %w", err)
	}

	return c, nil
}

func unmarshalList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func marshalList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func stateStrings(states []CardState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
