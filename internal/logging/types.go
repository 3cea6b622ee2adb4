package logging

import "time"

// #region decision-entry
// DecisionEntry is one line of the decision log: the outcome of a single
// verification, without the prompt itself.
type DecisionEntry struct {
	RequestID          string    `json:"request_id"`
	PromptHash         string    `json:"prompt_hash"`
	Status             string    `json:"status,omitempty"`
	ComplianceScore    *float64  `json:"compliance_score,omitempty"`
	Issues             int       `json:"issues"`
	PolicyIDs          []string  `json:"policy_ids"`
	Candidates         int       `json:"candidates"`
	ReasoningCalls     int       `json:"reasoning_calls"`
	MalformedResponses int       `json:"malformed_responses"`
	ErrorKind          string    `json:"error_kind,omitempty"`
	Error              string    `json:"error,omitempty"`
	DurationMS         float64   `json:"duration_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// #endregion decision-entry
