package agent

import (
	"time"

	"github.com/JaimeStill/marker/internal/jobs"
)

// ItemResult is the final verdict for one item.
type ItemResult struct {
	ItemID      string       `json:"item_id"`
	Verdict     jobs.Verdict `json:"verdict"`
	NeedsReview bool         `json:"needs_review"`
	Reasons     []string     `json:"reasons,omitempty"`
	Evidence    []string     `json:"evidence,omitempty"`
}

// PageResult is the output of one loop run.
type PageResult struct {
	SessionID  string        `json:"session_id"`
	Items      []ItemResult  `json:"items"`
	Incorrect  []ItemResult  `json:"incorrect"`
	Iterations int           `json:"iterations"`
	Confidence float64       `json:"confidence"`
	Converged  bool          `json:"converged"`
	Warnings   []string      `json:"warnings,omitempty"`
	Figures    bool          `json:"figures"`
	Duration   time.Duration `json:"duration"`
}

// Item returns the result for itemID.
func (p *PageResult) Item(itemID string) (ItemResult, bool) {
	for _, it := range p.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return ItemResult{}, false
}
