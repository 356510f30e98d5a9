package jobs

import "slices"

// CardState is the lifecycle state of a QuestionCard.
type CardState string

const (
	CardPlaceholder   CardState = "placeholder"
	CardVerdictReady  CardState = "verdict_ready"
	CardReviewPending CardState = "review_pending"
	CardReviewReady   CardState = "review_ready"
	CardReviewFailed  CardState = "review_failed"
)

// InReview reports whether the card has entered the review branch.
func (s CardState) InReview() bool {
	return s == CardReviewPending || s == CardReviewReady || s == CardReviewFailed
}

// transitions lists, for each target state, the states a card may move from.
// review_failed -> review_pending is the manual retry edge.
var transitions = map[CardState][]CardState{
	CardVerdictReady:  {CardPlaceholder, CardVerdictReady},
	CardReviewPending: {CardVerdictReady, CardReviewFailed},
	CardReviewReady:   {CardReviewPending},
	CardReviewFailed:  {CardReviewPending},
}

// CanTransition reports whether a card may move from one state to another.
// Re-applying a verdict to a verdict_ready card is allowed so re-processed
// pages converge; every other edge is forward-only.
func CanTransition(from, to CardState) bool {
	return slices.Contains(transitions[to], from)
}

// Sources returns the states a card may move from to reach to.
func Sources(to CardState) []CardState {
	return slices.Clone(transitions[to])
}
