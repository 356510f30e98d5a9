package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrParseFailed is returned when model output cannot be decoded as JSON,
// directly, from a markdown code fence, or after repair.
var ErrParseFailed = errors.New("failed to parse response")

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// Parse decodes model output into T. Content is tried as-is, then as the body
// of a markdown code fence, and finally after jsonrepair fixes trailing
// commas, unquoted keys, and truncated brackets.
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	candidate := content
	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) >= 2 {
		candidate = strings.TrimSpace(matches[1])
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			return result, nil
		}
	}

	if candidate != "" {
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
			var fixed T
			if err := json.Unmarshal([]byte(repaired), &fixed); err == nil {
				return fixed, nil
			}
		}
	}

	return result, fmt.Errorf("%w: %s", ErrParseFailed, content)
}
