package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Compose builds the full prompt for stage: instructions, response spec,
// and, when state is non-nil, the working state rendered as indented JSON.
func Compose(stage Stage, state any) (string, error) {
	inst, err := Instructions(stage)
	if err != nil {
		return "", err
	}
	spec, err := Spec(stage)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(inst)
	b.WriteString("\n\n")
	b.WriteString(spec)

	if state != nil {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal %s state: %w", stage, err)
		}
		b.WriteString("\n\nWorking state:\n\n")
		b.Write(data)
	}

	return b.String(), nil
}
