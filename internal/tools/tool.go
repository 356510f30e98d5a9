// Package tools defines the closed set of tools the grading loop can plan
// and the registry that dispatches typed calls to their implementations.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/JaimeStill/marker/pkg/mathsandbox"
)

// Kind names a tool. The set is closed: planners can only name these.
type Kind string

const (
	KindSliceExtract Kind = "slice_extract"
	KindIndexLookup  Kind = "index_lookup"
	KindMathVerify   Kind = "math_verify"
	KindOCRFallback  Kind = "ocr_fallback"
)

var kinds = []Kind{KindSliceExtract, KindIndexLookup, KindMathVerify, KindOCRFallback}

// Errors returned by call decoding and dispatch.
var (
	ErrUnknownTool  = errors.New("unknown tool")
	ErrInvalidInput = errors.New("invalid tool input")
)

// Kinds returns every tool kind in planning order.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

// ParseKind validates a tool name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(kinds, k) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
	}
	return k, nil
}

// Role classifies a preprocessed slice of a page.
type Role string

const (
	RoleFigure   Role = "figure"
	RoleQuestion Role = "question"
)

// Slice is a preprocessed crop of a page stored in blob storage.
type Slice struct {
	Role Role   `json:"role"`
	Key  string `json:"key"`
}

// IndexEntry is a known question with its reference answer.
type IndexEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source,omitempty"`
}

// Input is the typed argument set of one tool. Each tool has exactly one
// input type; the set is sealed to this package.
type Input interface {
	Kind() Kind
	validate() error
}

// SliceInput requests the slices produced for a page.
type SliceInput struct {
	JobID     string `json:"job_id"`
	PageIndex int    `json:"page_index"`
}

func (SliceInput) Kind() Kind { return KindSliceExtract }

func (in SliceInput) validate() error {
	if in.JobID == "" {
		return fmt.Errorf("%w: job_id required", ErrInvalidInput)
	}
	if in.PageIndex < 0 {
		return fmt.Errorf("%w: page_index must be >= 0", ErrInvalidInput)
	}
	return nil
}

// IndexInput looks up a question in the reference index.
type IndexInput struct {
	Question string `json:"question"`
}

func (IndexInput) Kind() Kind { return KindIndexLookup }

func (in IndexInput) validate() error {
	if strings.TrimSpace(in.Question) == "" {
		return fmt.Errorf("%w: question required", ErrInvalidInput)
	}
	return nil
}

// MathInput is an expression for the math sandbox.
type MathInput struct {
	Expression string `json:"expression"`
}

func (MathInput) Kind() Kind { return KindMathVerify }

func (in MathInput) validate() error {
	if strings.TrimSpace(in.Expression) == "" {
		return fmt.Errorf("%w: expression required", ErrInvalidInput)
	}
	return nil
}

// OCRInput requests a transcription of a stored image.
type OCRInput struct {
	ImageKey string `json:"image_key"`
}

func (OCRInput) Kind() Kind { return KindOCRFallback }

func (in OCRInput) validate() error {
	if in.ImageKey == "" {
		return fmt.Errorf("%w: image_key required", ErrInvalidInput)
	}
	return nil
}

// Call is one planned tool invocation.
type Call struct {
	Input Input
}

// Kind returns the tool the call targets.
func (c Call) Kind() Kind {
	if c.Input == nil {
		return ""
	}
	return c.Input.Kind()
}

type wireCall struct {
	Tool Kind            `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// MarshalJSON encodes the call as {"tool": kind, "args": {...}}.
func (c Call) MarshalJSON() ([]byte, error) {
	if c.Input == nil {
		return nil, fmt.Errorf("%w: empty call", ErrInvalidInput)
	}
	args, err := json.Marshal(c.Input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCall{Tool: c.Input.Kind(), Args: args})
}

// UnmarshalJSON decodes and validates a call.
func (c *Call) UnmarshalJSON(data []byte) error {
	var w wireCall
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	call, err := DecodeCall(string(w.Tool), w.Args)
	if err != nil {
		return err
	}
	*c = call
	return nil
}

// DecodeCall builds a typed call from a tool name and raw JSON arguments.
func DecodeCall(tool string, args json.RawMessage) (Call, error) {
	kind, err := ParseKind(tool)
	if err != nil {
		return Call{}, err
	}

	var in Input
	switch kind {
	case KindSliceExtract:
		in, err = decode[SliceInput](args)
	case KindIndexLookup:
		in, err = decode[IndexInput](args)
	case KindMathVerify:
		in, err = decode[MathInput](args)
	case KindOCRFallback:
		in, err = decode[OCRInput](args)
	default:
		return Call{}, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	if err != nil {
		return Call{}, err
	}

	if err := in.validate(); err != nil {
		return Call{}, err
	}
	return Call{Input: in}, nil
}

func decode[T Input](args json.RawMessage) (Input, error) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return v, nil
}

// Result is the recorded outcome of one tool call. OK is false when every
// attempt failed; Error then holds the last failure.
type Result struct {
	Kind       Kind                `json:"kind"`
	OK         bool                `json:"ok"`
	Error      string              `json:"error,omitempty"`
	Attempts   int                 `json:"attempts"`
	DurationMS int64               `json:"duration_ms"`
	Slices     []Slice             `json:"slices,omitempty"`
	Matches    []IndexEntry        `json:"matches,omitempty"`
	Math       *mathsandbox.Result `json:"math,omitempty"`
	Text       string              `json:"text,omitempty"`
}
