package tools_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/JaimeStill/marker/internal/tools"
)

func TestParseKind(t *testing.T) {
	for _, k := range tools.Kinds() {
		got, err := tools.ParseKind(" " + string(k) + " ")
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = (%q, %v)", k, got, err)
		}
	}

	if _, err := tools.ParseKind("shell"); !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("ParseKind(shell) error = %v, want ErrUnknownTool", err)
	}
}

func TestDecodeCall(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		args    string
		want    tools.Input
		wantErr error
	}{
		{"slice", "slice_extract", `{"job_id":"j1","page_index":2}`, tools.SliceInput{JobID: "j1", PageIndex: 2}, nil},
		{"index", "index_lookup", `{"question":"What is 2+2?"}`, tools.IndexInput{Question: "What is 2+2?"}, nil},
		{"math", "math_verify", `{"expression":"simplify(x - x)"}`, tools.MathInput{Expression: "simplify(x - x)"}, nil},
		{"ocr", "ocr_fallback", `{"image_key":"jobs/j1/pages/0.png"}`, tools.OCRInput{ImageKey: "jobs/j1/pages/0.png"}, nil},
		{"unknown tool", "web_search", `{}`, nil, tools.ErrUnknownTool},
		{"missing math expression", "math_verify", `{}`, nil, tools.ErrInvalidInput},
		{"missing ocr key", "ocr_fallback", ``, nil, tools.ErrInvalidInput},
		{"negative page", "slice_extract", `{"job_id":"j1","page_index":-1}`, nil, tools.ErrInvalidInput},
		{"wrong arg type", "index_lookup", `{"question":7}`, nil, tools.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := tools.DecodeCall(tt.tool, json.RawMessage(tt.args))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCall: %v", err)
			}
			if call.Input != tt.want {
				t.Errorf("input = %#v, want %#v", call.Input, tt.want)
			}
		})
	}
}

func TestCallJSON(t *testing.T) {
	plan := []tools.Call{
		{Input: tools.SliceInput{JobID: "j1", PageIndex: 0}},
		{Input: tools.MathInput{Expression: "expand((x + 1)**2)"}},
	}

	data, err := json.Marshal(plan)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back []tools.Call
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0].Kind() != tools.KindSliceExtract || back[1].Kind() != tools.KindMathVerify {
		t.Errorf("decoded plan = %#v", back)
	}

	var bad tools.Call
	if err := json.Unmarshal([]byte(`{"tool":"rm","args":{}}`), &bad); !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("unknown tool error = %v, want ErrUnknownTool", err)
	}
}
