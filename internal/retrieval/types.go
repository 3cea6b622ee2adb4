package retrieval

import (
	"context"

	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
)

// #region config
// Config holds limits for the retrieval pipeline.
type Config struct {
	TopK          int     // max candidates requested from the store
	MinSimilarity float64 // candidates below this cosine similarity are dropped
	MaxPolicyLen  int     // max chars per policy text, 0 disables the check
}

// DefaultConfig returns the defaults used when no config file is given.
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		MinSimilarity: 0.2,
	}
}

// #endregion config

// #region searcher
// Searcher ranks stored policies against a query vector.
type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]policy.Retrieved, error)
}

// #endregion searcher

// #region result
// Result captures the outcome of one retrieval.
type Result struct {
	Candidates int                // entries returned by the store before filtering
	Retrieved  []policy.Retrieved // final policies, descending similarity
	Reason     string             // human-readable explanation
}

// #endregion result
