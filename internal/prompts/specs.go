package prompts

const recognizeSpec = `Respond with a JSON object matching this exact structure:

{
  "text": "<full page transcription>",
  "low_quality": false,
  "items": [
    {
      "question_number": "<as printed>",
      "question": "<question text>",
      "answer": "<student answer>",
      "answer_state": "has_answer",
      "visual_risk": false
    }
  ]
}

Field constraints:
- answer_state: one of blank, has_answer, unknown
- answer: empty string when answer_state is blank
- low_quality: true when the photograph as a whole is hard to read

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- List questions in the order they appear on the page`

const planSpec = `Respond with a JSON object matching this exact structure:

{
  "rationale": "<why these calls>",
  "calls": [
    {"tool": "slice_extract", "args": {"job_id": "<job>", "page_index": 0}},
    {"tool": "index_lookup", "args": {"question": "<question text>"}},
    {"tool": "math_verify", "args": {"expression": "simplify(<expr>)"}},
    {"tool": "ocr_fallback", "args": {"image_key": "<blob key>"}}
  ]
}

Field constraints:
- tool: one of slice_extract, index_lookup, math_verify, ocr_fallback
- args: exactly the fields shown for that tool
- calls: may be empty when no further evidence is needed

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing`

const reflectSpec = `Respond with a JSON object matching this exact structure:

{
  "pass": false,
  "confidence": 0.0,
  "issues": ["<issue>"],
  "suggestions": ["<suggested tool call>"],
  "evidence": {"<item_id>": ["<tool or page_image>"]}
}

Field constraints:
- confidence: number between 0 and 1
- evidence: for each item id, the successful tools (or page_image) that
  support its grading; omit items with no support

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing
- issues must be empty when pass is true`

const aggregateSpec = `Respond with a JSON object matching this exact structure:

{
  "items": [
    {
      "item_id": "<item id from the working state>",
      "verdict": "correct",
      "needs_review": false,
      "reasons": ["<reason>"]
    }
  ]
}

Field constraints:
- verdict: one of correct, incorrect, uncertain
- item_id: copied exactly from the working state; one entry per item

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing`

const reviewSpec = `Respond with a JSON object matching this exact structure:

{
  "verdict": "incorrect",
  "summary": "<what was checked>",
  "reasons": ["<reason>"]
}

Field constraints:
- verdict: one of correct, incorrect, uncertain
- reasons: required and non-empty when the verdict differs from the
  current verdict

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing`

const transcribeSpec = `Respond with a JSON object matching this exact structure:

{
  "text": "<transcription>"
}

Behavioral constraints:
- Always respond with valid JSON, no markdown fencing`

var specs = map[Stage]string{
	StageRecognize:  recognizeSpec,
	StagePlan:       planSpec,
	StageReflect:    reflectSpec,
	StageAggregate:  aggregateSpec,
	StageReview:     reviewSpec,
	StageTranscribe: transcribeSpec,
}

// Spec returns the response format specification for a reasoning stage.
// Returns ErrInvalidStage if the stage is not recognized.
func Spec(stage Stage) (string, error) {
	text, ok := specs[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}
