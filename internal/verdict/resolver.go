package verdict

import (
	"math"
	"sort"
)

// #region constants

const (
	MinScore = 0.0
	MaxScore = 10.0
)

// #endregion constants

// #region resolver

// Resolver turns an issue list into a compliance score and status. Pure; safe for concurrent use.
type Resolver struct {
	config ScoringConfig
}

// NewResolver creates a resolver with the given scoring constants.
func NewResolver(config ScoringConfig) *Resolver {
	return &Resolver{config: config}
}

// #endregion resolver

// #region resolve

// Resolve computes the aggregate score and status. Total over all inputs, including nil.
//
// score = 10 - min(10, maxSeverity + ExtraWeight * count(severity >= HighSeverity, excluding the max))
func (r *Resolver) Resolve(issues []Issue) (float64, Status) {
	if len(issues) == 0 {
		return MaxScore, StatusCompliant
	}

	maxIdx := 0
	maxSev := ClampSeverity(issues[0].Severity)
	for i := 1; i < len(issues); i++ {
		if sev := ClampSeverity(issues[i].Severity); sev > maxSev {
			maxSev = sev
			maxIdx = i
		}
	}

	extra := 0
	for i, issue := range issues {
		if i == maxIdx {
			continue
		}
		if ClampSeverity(issue.Severity) >= r.config.HighSeverity {
			extra++
		}
	}

	weighted := math.Min(MaxScore, maxSev+r.config.ExtraWeight*float64(extra))
	score := roundScore(clamp(MaxScore-weighted, MinScore, MaxScore))
	return score, r.StatusFor(score)
}

// StatusFor maps a score onto the three-way status. Boundaries are inclusive as configured.
func (r *Resolver) StatusFor(score float64) Status {
	switch {
	case score <= r.config.NonCompliantMax:
		return StatusNonCompliant
	case score >= r.config.CompliantMin:
		return StatusCompliant
	default:
		return StatusUncertain
	}
}

// #endregion resolve

// #region build

// Build assembles a verdict: severities clamped, issues sorted by descending
// severity, score and status resolved. relevant is copied in the given order.
func (r *Resolver) Build(issues []Issue, relevant []string) Verdict {
	out := make([]Issue, len(issues))
	for i, issue := range issues {
		issue.Severity = ClampSeverity(issue.Severity)
		out[i] = issue
	}
	SortIssues(out)

	score, status := r.Resolve(out)

	rel := make([]string, len(relevant))
	copy(rel, relevant)

	return Verdict{
		Status:           status,
		ComplianceScore:  score,
		Issues:           out,
		RelevantPolicies: rel,
	}
}

// SortIssues orders issues by descending severity; equal severities keep their order.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity > issues[j].Severity
	})
}

// #endregion build

// #region helpers

// ClampSeverity bounds a severity to [0,10]. NaN maps to 0.
func ClampSeverity(s float64) float64 {
	if math.IsNaN(s) {
		return MinScore
	}
	return clamp(s, MinScore, MaxScore)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundScore keeps two decimals so 10-6.3 reads as 3.7.
func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// #endregion helpers
