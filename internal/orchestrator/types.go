package orchestrator

import "github.com/danielpatrickdp/prompt-compliance/internal/verdict"

// #region config

// Config tunes the evaluation step.
type Config struct {
	MalformedRetries int    // re-asks after an unparsable response, independent of transport retries
	Instructions     string // system instructions for the reasoner, empty = DefaultInstructions
}

// DefaultConfig allows one re-ask after a malformed response.
func DefaultConfig() Config {
	return Config{MalformedRetries: 1}
}

// DefaultInstructions frames the reasoning task.
const DefaultInstructions = `You are a compliance reviewer. You are given a user prompt and a numbered list of organizational policies.
For every policy, decide whether the prompt violates it.
Return one assessment per policy, referencing it by its policy_index.
When violated is true, give a severity from 0 (negligible) to 10 (flagrant), a one-sentence explanation, and the shortest excerpt of the prompt that causes the violation.
When violated is false, use severity 0 and empty strings.
Judge only against the listed policies.`

// #endregion config

// #region assessment

// Assessment is the reasoner's judgment of one policy.
type Assessment struct {
	PolicyIndex   int     `json:"policy_index"`
	Violated      bool    `json:"violated"`
	Severity      float64 `json:"severity"`
	Explanation   string  `json:"explanation"`
	PromptExcerpt string  `json:"prompt_excerpt"`
}

// reasoningResult is the top-level object the reasoner must return.
type reasoningResult struct {
	Assessments []Assessment `json:"assessments"`
}

// #endregion assessment

// #region attempt

// Attempt records one reasoning round: a guarded provider call plus parsing.
type Attempt struct {
	Calls int   // provider calls made by the transport guard
	Err   error // nil, a malformed response, or a provider failure
}

// Evaluation is a verdict plus the attempt history that produced it.
type Evaluation struct {
	Verdict  verdict.Verdict
	Attempts []Attempt
}

// ReasoningCalls returns the total provider calls across all attempts.
func (e Evaluation) ReasoningCalls() int {
	n := 0
	for _, a := range e.Attempts {
		n += a.Calls
	}
	return n
}

// MalformedResponses returns how many attempts produced unparsable output.
func (e Evaluation) MalformedResponses() int {
	n := 0
	for _, a := range e.Attempts {
		if isMalformed(a.Err) {
			n++
		}
	}
	return n
}

// #endregion attempt
