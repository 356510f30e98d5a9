// Package prompts holds the instructions and response specifications for
// each reasoning stage and composes them with the stage's working context.
package prompts

import (
	"encoding/json"
	"errors"
	"slices"
)

// ErrInvalidStage is returned for a stage name outside the known set.
var ErrInvalidStage = errors.New("invalid reasoning stage")

// Stage is a call the grading service makes to the reasoning model.
type Stage string

const (
	StageRecognize  Stage = "recognize"
	StagePlan       Stage = "plan"
	StageReflect    Stage = "reflect"
	StageAggregate  Stage = "aggregate"
	StageReview     Stage = "review"
	StageTranscribe Stage = "transcribe"
)

var stages = []Stage{
	StageRecognize,
	StagePlan,
	StageReflect,
	StageAggregate,
	StageReview,
	StageTranscribe,
}

// Stages returns the known stages.
func Stages() []Stage {
	return slices.Clone(stages)
}

// UnmarshalJSON validates that the decoded string is a known stage value.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := ParseStage(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStage validates a string as a known stage.
func ParseStage(s string) (Stage, error) {
	v := Stage(s)
	if !slices.Contains(stages, v) {
		return "", ErrInvalidStage
	}
	return v, nil
}
