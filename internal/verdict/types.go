package verdict

// #region status

// Status is the three-way compliance outcome.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusNonCompliant Status = "NON_COMPLIANT"
	StatusUncertain    Status = "UNCERTAIN"
)

// #endregion status

// #region scoring-config

// ScoringConfig holds the aggregation constants and status thresholds.
type ScoringConfig struct {
	NonCompliantMax float64 // score <= this is NON_COMPLIANT
	CompliantMin    float64 // score >= this is COMPLIANT
	HighSeverity    float64 // issues at or above this add weight beyond the max
	ExtraWeight     float64 // weight added per additional high-severity issue
}

// DefaultScoringConfig returns the pinned thresholds: <=4 non-compliant, >=7 compliant.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		NonCompliantMax: 4.0,
		CompliantMin:    7.0,
		HighSeverity:    6.0,
		ExtraWeight:     0.5,
	}
}

// #endregion scoring-config

// #region issue

// Issue is one policy the prompt violates.
type Issue struct {
	PolicyText  string  `json:"policy_text"`
	PromptText  string  `json:"prompt_text"`
	Severity    float64 `json:"severity"`
	Explanation string  `json:"explanation"`
}

// #endregion issue

// #region verdict

// Verdict is the final judgment for one prompt.
type Verdict struct {
	Status           Status   `json:"status"`
	ComplianceScore  float64  `json:"compliance_score"`
	Issues           []Issue  `json:"issues"`
	RelevantPolicies []string `json:"relevant_policies"`
}

// Compliant is the verdict for a prompt no stored policy applies to.
func Compliant() Verdict {
	return Verdict{
		Status:           StatusCompliant,
		ComplianceScore:  MaxScore,
		Issues:           []Issue{},
		RelevantPolicies: []string{},
	}
}

// #endregion verdict
