package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/JaimeStill/marker/pkg/mathsandbox"
)

// Slicer discovers preprocessed slices of a page.
type Slicer interface {
	Slices(ctx context.Context, jobID string, pageIndex int) ([]Slice, error)
}

// Index finds reference answers for a question.
type Index interface {
	Lookup(ctx context.Context, question string) ([]IndexEntry, error)
}

// Transcriber reads the text out of a stored image.
type Transcriber interface {
	Transcribe(ctx context.Context, imageKey string) (string, error)
}

// Invoker runs a single tool call once.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (Result, error)
}

// Registry dispatches typed calls to the tool implementations.
type Registry struct {
	slicer  Slicer
	index   Index
	sandbox *mathsandbox.Sandbox
	ocr     Transcriber
}

// NewRegistry creates a Registry. Every tool must be provided.
func NewRegistry(slicer Slicer, index Index, sandbox *mathsandbox.Sandbox, ocr Transcriber) (*Registry, error) {
	switch {
	case slicer == nil:
		return nil, errors.New("slice extractor required")
	case index == nil:
		return nil, errors.New("index required")
	case sandbox == nil:
		return nil, errors.New("math sandbox required")
	case ocr == nil:
		return nil, errors.New("transcriber required")
	}
	return &Registry{slicer: slicer, index: index, sandbox: sandbox, ocr: ocr}, nil
}

// Invoke runs call once and returns its populated result. A math expression
// the sandbox rejects is a successful call whose Math.Status is error.
func (r *Registry) Invoke(ctx context.Context, call Call) (Result, error) {
	res := Result{Kind: call.Kind()}

	switch in := call.Input.(type) {
	case SliceInput:
		slices, err := r.slicer.Slices(ctx, in.JobID, in.PageIndex)
		if err != nil {
			return res, fmt.Errorf("%s: %w", KindSliceExtract, err)
		}
		res.Slices = slices
	case IndexInput:
		matches, err := r.index.Lookup(ctx, in.Question)
		if err != nil {
			return res, fmt.Errorf("%s: %w", KindIndexLookup, err)
		}
		res.Matches = matches
	case MathInput:
		out := r.sandbox.Evaluate(ctx, in.Expression)
		if errors.Is(ctx.Err(), context.Canceled) {
			return res, fmt.Errorf("%s: %w", KindMathVerify, ctx.Err())
		}
		res.Math = &out
	case OCRInput:
		text, err := r.ocr.Transcribe(ctx, in.ImageKey)
		if err != nil {
			return res, fmt.Errorf("%s: %w", KindOCRFallback, err)
		}
		res.Text = text
	default:
		return res, fmt.Errorf("%w: %T", ErrUnknownTool, call.Input)
	}

	res.OK = true
	return res, nil
}
