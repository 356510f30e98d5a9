package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/encoding"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/JaimeStill/marker/internal/agent"
	"github.com/JaimeStill/marker/internal/grading"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/prompts"
	"github.com/JaimeStill/marker/internal/review"
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
	"github.com/JaimeStill/marker/pkg/formatting"
	"github.com/JaimeStill/marker/pkg/storage"
)

// ErrEmptyPlan is returned when none of the planned calls could be decoded.
var ErrEmptyPlan = errors.New("plan contains no usable tool calls")

// Service implements every model-backed step of grading.
type Service struct {
	model   Model
	store   storage.System
	slicer  *tools.StorageSlicer
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Service. A nil limiter disables rate limiting.
func New(model Model, store storage.System, limiter *rate.Limiter, logger *slog.Logger) *Service {
	if limiter == nil {
		limiter = NewLimiter(0, 0)
	}
	return &Service{
		model:   model,
		store:   store,
		slicer:  tools.NewStorageSlicer(store),
		limiter: limiter,
		logger:  logger.With("system", "reasoning"),
	}
}

// Recognize reads the questions and answers on a page image.
func (s *Service) Recognize(ctx context.Context, imageKey string) (grading.Recognition, error) {
	return invoke[grading.Recognition](ctx, s, prompts.StageRecognize, nil, []string{imageKey})
}

type planResponse struct {
	Rationale string `json:"rationale"`
	Calls     []struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	} `json:"calls"`
}

// Plan asks the model for the next iteration's tool calls. Calls naming an
// unknown tool or carrying invalid arguments are dropped.
func (s *Service) Plan(ctx context.Context, st session.State) (session.Plan, error) {
	resp, err := invoke[planResponse](ctx, s, prompts.StagePlan, newPlanView(st), nil)
	if err != nil {
		return session.Plan{}, err
	}

	plan := session.Plan{Rationale: resp.Rationale, Calls: []tools.Call{}}
	for _, raw := range resp.Calls {
		call, err := decodePlanned(st, raw.Tool, raw.Args)
		if err != nil {
			s.logger.Warn("dropping planned call", "session", st.ID, "tool", raw.Tool, "error", err)
			continue
		}
		plan.Calls = append(plan.Calls, call)
	}

	if len(plan.Calls) == 0 && len(resp.Calls) > 0 {
		return session.Plan{}, ErrEmptyPlan
	}
	return plan, nil
}

// decodePlanned decodes a planned call. Slice extraction always targets the
// session's page and OCR without an image key reads the page image.
func decodePlanned(st session.State, tool string, args json.RawMessage) (tools.Call, error) {
	switch tools.Kind(tool) {
	case tools.KindSliceExtract:
		return tools.Call{Input: tools.SliceInput{JobID: st.JobID, PageIndex: st.PageIndex}}, nil
	case tools.KindOCRFallback:
		var in tools.OCRInput
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return tools.Call{}, fmt.Errorf("decode %s args: %w", tool, err)
			}
		}
		if in.ImageKey == "" && len(st.Images) > 0 {
			return tools.Call{Input: tools.OCRInput{ImageKey: st.Images[0]}}, nil
		}
	}
	return tools.DecodeCall(tool, args)
}

// Reflect asks the model to judge whether the gathered evidence suffices.
func (s *Service) Reflect(ctx context.Context, st session.State) (session.Reflection, error) {
	return invoke[session.Reflection](ctx, s, prompts.StageReflect, newStateView(st), nil)
}

type aggregateResponse struct {
	Items []agent.Judgment `json:"items"`
}

// Aggregate asks the model for one verdict per item, attaching images.
func (s *Service) Aggregate(ctx context.Context, st session.State, images []string) ([]agent.Judgment, error) {
	resp, err := invoke[aggregateResponse](ctx, s, prompts.StageAggregate, newStateView(st), images)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type reviewView struct {
	ItemID         string       `json:"item_id"`
	QuestionNumber string       `json:"question_number"`
	PageIndex      int          `json:"page_index"`
	Verdict        jobs.Verdict `json:"current_verdict"`
	NeedsReview    bool         `json:"needs_review"`
	Reasons        []string     `json:"reasons,omitempty"`
}

// Review re-checks a card against the page's figure and question slices,
// or the page image when the page has no slices.
func (s *Service) Review(ctx context.Context, jobID uuid.UUID, card jobs.QuestionCard) (review.Outcome, error) {
	images, err := s.reviewImages(ctx, jobID, card.PageIndex)
	if err != nil {
		return review.Outcome{}, err
	}

	view := reviewView{
		ItemID:         card.ItemID,
		QuestionNumber: card.QuestionNumber,
		PageIndex:      card.PageIndex,
		Verdict:        jobs.VerdictUncertain,
		NeedsReview:    card.NeedsReview,
		Reasons:        card.Reasons,
	}
	if card.Verdict != nil {
		view.Verdict = *card.Verdict
	}

	return invoke[review.Outcome](ctx, s, prompts.StageReview, view, images)
}

func (s *Service) reviewImages(ctx context.Context, jobID uuid.UUID, page int) ([]string, error) {
	found, err := s.slicer.Slices(ctx, jobID.String(), page)
	if err != nil {
		return nil, fmt.Errorf("list slices: %w", err)
	}

	st := &session.State{
		Images: []string{jobs.PageKey(jobID.String(), page)},
		Slices: map[tools.Role][]tools.Slice{},
	}
	for _, sl := range found {
		st.Slices[sl.Role] = append(st.Slices[sl.Role], sl)
	}
	return agent.SelectImages(st), nil
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe reads the text of a stored image.
func (s *Service) Transcribe(ctx context.Context, imageKey string) (string, error) {
	resp, err := invoke[transcribeResponse](ctx, s, prompts.StageTranscribe, nil, []string{imageKey})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// invoke composes the stage prompt, waits for the rate limiter, calls the
// model with the images at imageKeys, and parses the response into T.
func invoke[T any](ctx context.Context, s *Service, stage prompts.Stage, state any, imageKeys []string) (T, error) {
	var zero T

	prompt, err := prompts.Compose(stage, state)
	if err != nil {
		return zero, err
	}

	images, err := s.encodeImages(ctx, imageKeys)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", stage, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s: %w", stage, err)
	}

	start := time.Now()
	var content string
	if len(images) > 0 {
		content, err = s.model.Vision(ctx, prompt, images)
	} else {
		content, err = s.model.Chat(ctx, prompt)
	}
	if err != nil {
		return zero, fmt.Errorf("%s: %w", stage, err)
	}

	result, err := formatting.Parse[T](content)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", stage, err)
	}

	s.logger.Debug("model call complete", "stage", stage, "images", len(images), "duration", time.Since(start))
	return result, nil
}

func (s *Service) encodeImages(ctx context.Context, keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		data, err := storage.ReadAll(ctx, s.store, key)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", key, err)
		}
		uri, err := encoding.EncodeImageDataURI(data, document.PNG)
		if err != nil {
			return nil, fmt.Errorf("encode image %s: %w", key, err)
		}
		out = append(out, uri)
	}
	return out, nil
}
