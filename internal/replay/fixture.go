package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a policy
// corpus, a set of prompts, and the reasoner output each prompt should see.
type Fixture struct {
	Description string          `json:"description"`
	Config      FixtureConfig   `json:"config"`
	Policies    []FixturePolicy `json:"policies"`
	Cases       []FixtureCase   `json:"cases"`
}

// FixtureConfig overrides retrieval, scoring and retry settings for a run.
// Zero values fall back to the defaults.
type FixtureConfig struct {
	TopK             int             `json:"top_k"`
	MinSimilarity    *float64        `json:"min_similarity,omitempty"`
	MalformedRetries *int            `json:"malformed_retries,omitempty"`
	Attempts         int             `json:"attempts"`
	Scoring          *FixtureScoring `json:"scoring,omitempty"`
}

// FixtureScoring mirrors verdict.ScoringConfig with JSON tags.
type FixtureScoring struct {
	NonCompliantMax float64 `json:"non_compliant_max"`
	CompliantMin    float64 `json:"compliant_min"`
	HighSeverity    float64 `json:"high_severity"`
	ExtraWeight     float64 `json:"extra_weight"`
}

type FixturePolicy struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// FixtureCase is one prompt and the scripted reasoner behaviour for it.
// Responses are replayed in order; the last one repeats.
type FixtureCase struct {
	ID        string            `json:"id"`
	Prompt    string            `json:"prompt"`
	Responses []FixtureResponse `json:"responses"`
	Expect    FixtureExpect     `json:"expect"`
}

// FixtureResponse is one reasoner reply. Exactly one field should be set.
type FixtureResponse struct {
	Output    json.RawMessage `json:"output,omitempty"` // returned verbatim
	Text      string          `json:"text,omitempty"`   // returned verbatim, for non-JSON replies
	Error     string          `json:"error,omitempty"`  // provider fails with this message
	Transient bool            `json:"transient,omitempty"`
}

// FixtureExpect is checked against the outcome. Unset fields are not checked.
type FixtureExpect struct {
	Status         string   `json:"status,omitempty"`
	Error          string   `json:"error,omitempty"` // failure kind, e.g. "evaluation_failure"
	Issues         *int     `json:"issues,omitempty"`
	MinScore       *float64 `json:"min_score,omitempty"`
	MaxScore       *float64 `json:"max_score,omitempty"`
	ReasoningCalls *int     `json:"reasoning_calls,omitempty"`
	Relevant       *int     `json:"relevant,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes and checks a fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Cases) == 0 {
		return nil, fmt.Errorf("fixture has no cases")
	}
	seen := make(map[string]bool, len(f.Cases))
	for i, c := range f.Cases {
		if c.ID == "" {
			return nil, fmt.Errorf("case %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Expect.Status == "" && c.Expect.Error == "" {
			return nil, fmt.Errorf("case %q expects neither a status nor an error", c.ID)
		}
	}
	return &f, nil
}

// ToScoringConfig returns the fixture's scoring overrides, or the defaults.
func (fc *FixtureConfig) ToScoringConfig() verdict.ScoringConfig {
	if fc.Scoring == nil {
		return verdict.DefaultScoringConfig()
	}
	return verdict.ScoringConfig{
		NonCompliantMax: fc.Scoring.NonCompliantMax,
		CompliantMin:    fc.Scoring.CompliantMin,
		HighSeverity:    fc.Scoring.HighSeverity,
		ExtraWeight:     fc.Scoring.ExtraWeight,
	}
}

// #endregion fixture-loader
