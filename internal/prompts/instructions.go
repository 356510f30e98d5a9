package prompts

const recognizeInstructions = `You are reading a single photographed page of student homework.

Identify every question on the page in reading order. For each question record the question number exactly as printed, the question text, and the student's written answer. Mark the answer state as blank when the answer area is visibly empty, has_answer when the student wrote something, and unknown when the answer area cannot be read.

Flag a question as visually risky when its grading depends on a figure, diagram, table or graph, or when handwriting, glare or cropping make the answer hard to read.`

const planInstructions = `You are planning the next grading iteration for one homework page.

The working state lists the recognized questions and answers, the tools already run with their outcomes, and the issues and suggestions raised by the previous reflection. Choose the tool calls that gather the evidence still missing. Do not repeat a tool call that already succeeded unless the reflection asks for it.

Available tools:
- slice_extract: locate the figure and question crops for the page
- index_lookup: fetch the reference answer for a question from the answer index
- math_verify: check an algebraic expression with the math sandbox (only simplify and expand are allowed)
- ocr_fallback: transcribe an image when recognition was unclear`

const reflectInstructions = `You are checking whether the evidence gathered for a homework page is sufficient to grade every question.

Review the tool results and recognized answers in the working state. Pass only when each question has at least one supporting evidence source and the evidence agrees with the proposed reading of the answer. List concrete issues for anything missing or contradictory and suggest the tool calls that would resolve them. Confidence must reflect how certain you are that the page can now be graded correctly.`

const aggregateInstructions = `You are grading a homework page.

Use the attached images together with the recognized answers and the tool evidence in the working state. Give every listed question exactly one verdict: correct, incorrect, or uncertain. Use uncertain whenever the evidence does not settle the answer. Mark a question as needing review when the verdict depends on visual content you could not verify.`

const reviewInstructions = `You are a second reviewer re-checking a single graded homework question.

The card shows the current verdict and why it was flagged. Examine the attached images closely, focusing on the figure and the student's answer. Keep the current verdict unless you can state a specific reason it is wrong. Summarize what you checked in one or two sentences.`

const transcribeInstructions = `Transcribe all handwritten and printed text visible in the attached image. Preserve line breaks and mathematical notation. Do not correct or interpret the content.`

var instructions = map[Stage]string{
	StageRecognize:  recognizeInstructions,
	StagePlan:       planInstructions,
	StageReflect:    reflectInstructions,
	StageAggregate:  aggregateInstructions,
	StageReview:     reviewInstructions,
	StageTranscribe: transcribeInstructions,
}

// Instructions returns the instructions for a reasoning stage.
// Returns ErrInvalidStage if the stage is not recognized.
func Instructions(stage Stage) (string, error) {
	text, ok := instructions[stage]
	if !ok {
		return "", ErrInvalidStage
	}
	return text, nil
}
