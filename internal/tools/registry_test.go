package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/JaimeStill/marker/internal/tools"
	"github.com/JaimeStill/marker/pkg/mathsandbox"
)

type stubSlicer struct {
	slices []tools.Slice
	err    error
}

func (s stubSlicer) Slices(context.Context, string, int) ([]tools.Slice, error) {
	return s.slices, s.err
}

type stubIndex struct {
	entries []tools.IndexEntry
}

func (s stubIndex) Lookup(context.Context, string) ([]tools.IndexEntry, error) {
	return s.entries, nil
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) Transcribe(context.Context, string) (string, error) {
	return s.text, s.err
}

func newRegistry(t *testing.T, slicer tools.Slicer, ocr tools.Transcriber) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry(
		slicer,
		stubIndex{entries: []tools.IndexEntry{{Question: "2+2", Answer: "4"}}},
		mathsandbox.New(mathsandbox.DefaultLimits()),
		ocr,
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryInvoke(t *testing.T) {
	ctx := context.Background()
	slicer := stubSlicer{slices: []tools.Slice{{Role: tools.RoleFigure, Key: "k"}}}
	r := newRegistry(t, slicer, stubOCR{text: "x = 4"})

	t.Run("slice extract", func(t *testing.T) {
		res, err := r.Invoke(ctx, tools.Call{Input: tools.SliceInput{JobID: "j", PageIndex: 0}})
		if err != nil || !res.OK || len(res.Slices) != 1 {
			t.Errorf("result = %+v, err = %v", res, err)
		}
	})

	t.Run("index lookup", func(t *testing.T) {
		res, err := r.Invoke(ctx, tools.Call{Input: tools.IndexInput{Question: "2+2"}})
		if err != nil || !res.OK || res.Matches[0].Answer != "4" {
			t.Errorf("result = %+v, err = %v", res, err)
		}
	})

	t.Run("math verify", func(t *testing.T) {
		res, err := r.Invoke(ctx, tools.Call{Input: tools.MathInput{Expression: "1/2 + 1/2"}})
		if err != nil || !res.OK || res.Math == nil || res.Math.Result != "1" {
			t.Errorf("result = %+v, err = %v", res, err)
		}
	})

	t.Run("rejected expression is still a result", func(t *testing.T) {
		res, err := r.Invoke(ctx, tools.Call{Input: tools.MathInput{Expression: "__import__('os')"}})
		if err != nil || !res.OK {
			t.Fatalf("result = %+v, err = %v", res, err)
		}
		if res.Math.Status != mathsandbox.StatusError {
			t.Errorf("math status = %s, want error", res.Math.Status)
		}
	})

	t.Run("ocr fallback", func(t *testing.T) {
		res, err := r.Invoke(ctx, tools.Call{Input: tools.OCRInput{ImageKey: "k"}})
		if err != nil || res.Text != "x = 4" {
			t.Errorf("result = %+v, err = %v", res, err)
		}
	})

	t.Run("empty call", func(t *testing.T) {
		if _, err := r.Invoke(ctx, tools.Call{}); !errors.Is(err, tools.ErrUnknownTool) {
			t.Errorf("error = %v, want ErrUnknownTool", err)
		}
	})
}

func TestRegistryInvokeFailure(t *testing.T) {
	boom := errors.New("storage offline")
	r := newRegistry(t, stubSlicer{err: boom}, stubOCR{err: boom})

	res, err := r.Invoke(context.Background(), tools.Call{Input: tools.SliceInput{JobID: "j"}})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if res.OK || res.Kind != tools.KindSliceExtract {
		t.Errorf("result = %+v, want failed slice_extract", res)
	}
}

func TestNewRegistryRequiresTools(t *testing.T) {
	if _, err := tools.NewRegistry(nil, stubIndex{}, mathsandbox.New(mathsandbox.Limits{}), stubOCR{}); err == nil {
		t.Error("NewRegistry accepted a nil slicer")
	}
}
