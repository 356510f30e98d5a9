package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/marker/pkg/pagination"
	"github.com/JaimeStill/marker/pkg/query"
	"github.com/JaimeStill/marker/pkg/repository"
)

type repo struct {
	db     *sql.DB
	pages  pagination.Config
	logger *slog.Logger
}

// New creates a Postgres-backed job repository implementing System.
func New(db *sql.DB, pages pagination.Config, logger *slog.Logger) System {
	return &repo{
		db:     db,
		pages:  pages,
		logger: logger.With("system", "jobs"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.pages, r.logger)
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Job, error) {
	keys, err := marshalList(cmd.SourceKeys)
	if err != nil {
		return nil, fmt.Errorf("marshal source keys: %w", err)
	}

	q := `
		INSERT INTO jobs (id, status, source_kind, source_keys, total_pages)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + jobColumns

	args := []any{cmd.ID, StatusRunning, cmd.SourceKind, keys, cmd.TotalPages}

	j, err := repository.QueryOne(ctx, r.db, q, args, scanJob)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("job created", "id", j.ID, "pages", j.TotalPages, "source", j.SourceKind)
	return &j, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanJob)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	summaries, err := repository.QueryMany(ctx, r.db,
		`SELECT `+summaryColumns+` FROM page_summaries WHERE job_id = $1 ORDER BY page_index`,
		[]any{id}, scanSummary,
	)
	if err != nil {
		return nil, fmt.Errorf("query page summaries: %w", err)
	}

	cards, err := repository.QueryMany(ctx, r.db,
		`SELECT `+cardColumns+` FROM question_cards WHERE job_id = $1 ORDER BY page_index, position`,
		[]any{id}, scanCard,
	)
	if err != nil {
		return nil, fmt.Errorf("query question cards: %w", err)
	}

	j.PageSummaries = summaries
	j.QuestionCards = cards
	return &j, nil
}

func (r *repo) List(ctx context.Context, page pagination.PageRequest, filter ListFilter) (pagination.PageResult[Job], error) {
	qb := query.NewBuilder(jobProjection, query.SortField{Field: "created_at", Descending: true}).
		WhereAny("status", filter.Statuses).
		OrderBy(page.Sort)

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return pagination.PageResult[Job]{}, fmt.Errorf("count jobs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanJob)
	if err != nil {
		return pagination.PageResult[Job]{}, fmt.Errorf("query jobs: %w", err)
	}

	return pagination.NewPageResult(items, total, page), nil
}

func (r *repo) SetStatus(ctx context.Context, id uuid.UUID, status Status, message string) error {
	q := `
		UPDATE jobs SET
			status = $2,
			error = $3,
			updated_at = NOW(),
			completed_at = CASE WHEN $2 IN ('done', 'failed') THEN NOW() ELSE NULL END
		WHERE id = $1`

	if err := repository.ExecExpectOne(ctx, r.db, q, id, status, message); err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("job status changed", "id", id, "status", status)
	return nil
}

func (r *repo) UpsertPlaceholders(ctx context.Context, jobID uuid.UUID, cards []QuestionCard) error {
	q := `
		INSERT INTO question_cards (
			job_id, item_id, question_number, page_index, position,
			answer_state, card_state, visual_risk
		)
		VALUES ($1, $2, $3, $4, $5, $6, 'placeholder', $7)
		ON CONFLICT (job_id, item_id) DO UPDATE SET
			question_number = EXCLUDED.question_number,
			position = EXCLUDED.position,
			answer_state = EXCLUDED.answer_state,
			visual_risk = EXCLUDED.visual_risk,
			updated_at = NOW()`

	err := repository.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, c := range cards {
			if _, err := tx.ExecContext(ctx, q,
				jobID, c.ItemID, c.QuestionNumber, c.PageIndex, c.Position,
				c.AnswerState, c.VisualRisk,
			); err != nil {
				return fmt.Errorf("upsert card %s: %w", c.ItemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}

func (r *repo) ApplyVerdicts(ctx context.Context, jobID uuid.UUID, updates []VerdictUpdate) ([]QuestionCard, error) {
	q := `
		UPDATE question_cards SET
			card_state = 'verdict_ready',
			verdict = $3,
			needs_review = $4,
			visual_risk = visual_risk OR $5,
			reasons = $6,
			updated_at = NOW()
		WHERE job_id = $1 AND item_id = $2 AND card_state = ANY($7)`

	sources := stateStrings(Sources(CardVerdictReady))

	cards, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) ([]QuestionCard, error) {
		ids := make([]string, len(updates))
		for i, u := range updates {
			reasons, err := marshalList(u.Reasons)
			if err != nil {
				return nil, fmt.Errorf("marshal reasons: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q,
				jobID, u.ItemID, u.Verdict, u.NeedsReview, u.VisualRisk, reasons, sources,
			); err != nil {
				return nil, fmt.Errorf("apply verdict %s: %w", u.ItemID, err)
			}
			ids[i] = u.ItemID
		}

		return repository.QueryMany(ctx, tx,
			`SELECT `+cardColumns+` FROM question_cards
			WHERE job_id = $1 AND item_id = ANY($2)
			ORDER BY page_index, position`,
			[]any{jobID, ids}, scanCard,
		)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrCardNotFound, ErrDuplicate)
	}
	return cards, nil
}

func (r *repo) Transition(
	ctx context.Context,
	jobID uuid.UUID,
	itemID string,
	to CardState,
	patch ReviewPatch,
) (*QuestionCard, error) {
	sources := Sources(to)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, to)
	}

	var verdict, summary, reasons any
	if patch.Verdict != nil {
		verdict = string(*patch.Verdict)
	}
	if patch.Summary != nil {
		summary = *patch.Summary
	}
	if patch.Reasons != nil {
		raw, err := marshalList(patch.Reasons)
		if err != nil {
			return nil, fmt.Errorf("marshal review reasons: %w", err)
		}
		reasons = raw
	}
	increment := 0
	if patch.IncrementAttempt {
		increment = 1
	}

	q := `
		UPDATE question_cards SET
			card_state = $3,
			verdict = COALESCE($4::text, verdict),
			review_summary = COALESCE($5::text, review_summary),
			review_reasons = COALESCE($6::jsonb, review_reasons),
			review_attempts = review_attempts + $7,
			updated_at = NOW()
		WHERE job_id = $1 AND item_id = $2 AND card_state = ANY($8)
		RETURNING ` + cardColumns

	args := []any{jobID, itemID, to, verdict, summary, reasons, increment, stateStrings(sources)}

	c, err := repository.QueryOne(ctx, r.db, q, args, scanCard)
	if err == nil {
		r.logger.Info("card transitioned", "job_id", jobID, "item_id", itemID, "state", to)
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition card %s: %w", itemID, err)
	}

	current, ferr := r.FindCard(ctx, jobID, itemID)
	if ferr != nil {
		return nil, ferr
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.CardState, to)
}

func (r *repo) FindCard(ctx context.Context, jobID uuid.UUID, itemID string) (*QuestionCard, error) {
	q := `SELECT ` + cardColumns + ` FROM question_cards WHERE job_id = $1 AND item_id = $2`

	c, err := repository.QueryOne(ctx, r.db, q, []any{jobID, itemID}, scanCard)
	if err != nil {
		return nil, repository.MapError(err, ErrCardNotFound, ErrDuplicate)
	}
	return &c, nil
}

func (r *repo) PageCards(ctx context.Context, jobID uuid.UUID, pageIndex int) ([]QuestionCard, error) {
	q := `SELECT ` + cardColumns + ` FROM question_cards
		WHERE job_id = $1 AND page_index = $2
		ORDER BY position`

	cards, err := repository.QueryMany(ctx, r.db, q, []any{jobID, pageIndex}, scanCard)
	if err != nil {
		return nil, fmt.Errorf("query page cards: %w", err)
	}
	return cards, nil
}

func (r *repo) SavePageSummary(ctx context.Context, jobID uuid.UUID, s PageSummary) error {
	upsert := `
		INSERT INTO page_summaries (
			job_id, page_index, wrong_count, correct_count, uncertain_count,
			blank_count, needs_review, completed, error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, page_index) DO UPDATE SET
			wrong_count = EXCLUDED.wrong_count,
			correct_count = EXCLUDED.correct_count,
			uncertain_count = EXCLUDED.uncertain_count,
			blank_count = EXCLUDED.blank_count,
			needs_review = EXCLUDED.needs_review,
			completed = EXCLUDED.completed,
			error = EXCLUDED.error,
			updated_at = NOW()`

	progress := `
		UPDATE jobs SET
			done_pages = LEAST(total_pages, (
				SELECT count(*) FROM page_summaries
				WHERE job_id = $1 AND completed
			)),
			updated_at = NOW()
		WHERE id = $1`

	err := repository.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsert,
			jobID, s.PageIndex, s.WrongCount, s.CorrectCount, s.UncertainCount,
			s.BlankCount, s.NeedsReview, s.Completed, s.Error,
		); err != nil {
			return fmt.Errorf("upsert page summary: %w", err)
		}
		if err := repository.ExecExpectOne(ctx, tx, progress, jobID); err != nil {
			return fmt.Errorf("update job progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("page summary saved",
		"job_id", jobID,
		"page", s.PageIndex,
		"wrong", s.WrongCount,
		"uncertain", s.UncertainCount,
		"blank", s.BlankCount,
	)
	return nil
}

func (r *repo) ExpireReviews(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	q := `
		UPDATE question_cards SET
			card_state = 'review_failed',
			review_reasons = review_reasons || jsonb_build_array($2::text),
			updated_at = NOW()
		WHERE card_state = 'review_pending'
		  AND updated_at < NOW() - make_interval(secs => $1)`

	res, err := r.db.ExecContext(ctx, q, olderThan.Seconds(), reason)
	if err != nil {
		return 0, fmt.Errorf("expire reviews: %w", err)
	}
	return res.RowsAffected()
}
