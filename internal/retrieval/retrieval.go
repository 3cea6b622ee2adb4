package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region retriever
// Retriever selects the stored policies relevant to a prompt.
type Retriever struct {
	embedder provider.Embedder
	store    Searcher
	config   Config
}

// NewRetriever creates a Retriever. A non-positive TopK falls back to the default.
func NewRetriever(embedder provider.Embedder, store Searcher, config Config) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	return &Retriever{embedder: embedder, store: store, config: config}
}

// Config returns the active configuration.
func (r *Retriever) Config() Config {
	return r.config
}

// #endregion retriever

// #region retrieve
// Retrieve runs the retrieval pipeline:
//  1. embed the prompt
//  2. ask the store for the top k candidates
//  3. drop candidates below MinSimilarity
//  4. drop empty, overlong or duplicate entries
//
// Order is the store's: descending similarity, ties in insertion order.
func (r *Retriever) Retrieve(ctx context.Context, prompt string) (Result, error) {
	result := Result{Retrieved: []policy.Retrieved{}}

	vec, err := r.embedder.Embed(ctx, prompt)
	if err != nil {
		if errors.Is(err, failure.ErrEmbedding) {
			return result, err
		}
		return result, failure.Embedding("retrieve", err)
	}

	candidates, err := r.store.Query(ctx, vec, r.config.TopK)
	if err != nil {
		return result, fmt.Errorf("retrieval search: %w", err)
	}
	result.Candidates = len(candidates)
	if result.Candidates == 0 {
		result.Reason = "store returned no candidates"
		log.Printf("[RETRIEVE] %s", result.Reason)
		return result, nil
	}

	above := make([]policy.Retrieved, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity < r.config.MinSimilarity {
			continue
		}
		above = append(above, c)
	}
	if len(above) == 0 {
		result.Reason = fmt.Sprintf("all %d candidates below similarity %.2f (best %.4f)",
			result.Candidates, r.config.MinSimilarity, candidates[0].Similarity)
		log.Printf("[RETRIEVE] %s", result.Reason)
		return result, nil
	}

	result.Retrieved = r.consistencyCheck(above)
	if len(result.Retrieved) == 0 {
		result.Reason = "all candidates failed consistency check"
	} else {
		result.Reason = fmt.Sprintf("retrieved %d policies (candidates=%d, above threshold=%d, top=%.4f)",
			len(result.Retrieved), result.Candidates, len(above), result.Retrieved[0].Similarity)
	}
	log.Printf("[RETRIEVE] %s", result.Reason)
	return result, nil
}

// #endregion retrieve

// #region consistency-check
// consistencyCheck keeps entries with non-empty text within MaxPolicyLen and
// the first occurrence of each ID.
func (r *Retriever) consistencyCheck(results []policy.Retrieved) []policy.Retrieved {
	seen := make(map[string]bool)
	valid := make([]policy.Retrieved, 0, len(results))

	for _, rec := range results {
		if rec.Entry.Text == "" {
			continue
		}
		if r.config.MaxPolicyLen > 0 && len(rec.Entry.Text) > r.config.MaxPolicyLen {
			log.Printf("[RETRIEVE] skipping %s: %d chars exceeds %d", rec.Entry.ID, len(rec.Entry.Text), r.config.MaxPolicyLen)
			continue
		}
		if seen[rec.Entry.ID] {
			continue
		}
		seen[rec.Entry.ID] = true
		valid = append(valid, rec)
	}

	return valid
}

// #endregion consistency-check
