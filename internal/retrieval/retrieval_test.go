package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
)

// #region mocks
type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

type stubSearcher struct {
	results []policy.Retrieved
	err     error
	gotK    int
}

func (s *stubSearcher) Query(_ context.Context, _ []float32, k int) ([]policy.Retrieved, error) {
	s.gotK = k
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > k {
		return s.results[:k], nil
	}
	return s.results, nil
}

func hit(id, text string, sim float64) policy.Retrieved {
	return policy.Retrieved{Entry: policy.Entry{ID: id, Text: text}, Similarity: sim}
}

// #endregion mocks

// #region consistency-tests
func TestConsistencyCheck_FiltersEmpty(t *testing.T) {
	r := &Retriever{config: DefaultConfig()}
	valid := r.consistencyCheck([]policy.Retrieved{
		hit("1", "no illegal activity", 0.9),
		hit("2", "", 0.8),
	})
	if len(valid) != 1 || valid[0].Entry.ID != "1" {
		t.Fatalf("expected only ID=1, got %+v", valid)
	}
}

func TestConsistencyCheck_FiltersOverlong(t *testing.T) {
	r := &Retriever{config: Config{MaxPolicyLen: 10}}
	valid := r.consistencyCheck([]policy.Retrieved{
		hit("1", "short", 0.9),
		hit("2", "this text is way too long for the limit", 0.8),
	})
	if len(valid) != 1 {
		t.Errorf("expected 1 valid result, got %d", len(valid))
	}
}

func TestConsistencyCheck_FiltersDuplicateIDs(t *testing.T) {
	r := &Retriever{config: DefaultConfig()}
	valid := r.consistencyCheck([]policy.Retrieved{
		hit("dup", "first", 0.9),
		hit("dup", "second", 0.8),
		hit("unique", "third", 0.7),
	})
	if len(valid) != 2 {
		t.Fatalf("expected 2 valid results, got %d", len(valid))
	}
	if valid[0].Entry.Text != "first" {
		t.Errorf("expected first occurrence, got %s", valid[0].Entry.Text)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TopK != 5 {
		t.Errorf("TopK: got %d, want 5", cfg.TopK)
	}
	if cfg.MinSimilarity < 0.15 || cfg.MinSimilarity > 0.25 {
		t.Errorf("MinSimilarity %v outside recommended range", cfg.MinSimilarity)
	}
	if cfg.MaxPolicyLen != 0 {
		t.Errorf("MaxPolicyLen should be disabled by default, got %d", cfg.MaxPolicyLen)
	}
}

// #endregion consistency-tests

// #region retrieve-tests
func TestRetrieve_FiltersBelowThreshold(t *testing.T) {
	store := &stubSearcher{results: []policy.Retrieved{
		hit("a", "no illegal activity", 0.8),
		hit("b", "no profanity", 0.2),
		hit("c", "no medical advice", 0.1),
	}}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, store, DefaultConfig())

	res, err := r.Retrieve(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Candidates != 3 {
		t.Errorf("Candidates: got %d, want 3", res.Candidates)
	}
	if len(res.Retrieved) != 2 {
		t.Fatalf("expected 2 retrieved (threshold inclusive), got %d", len(res.Retrieved))
	}
	if res.Retrieved[0].Entry.ID != "a" || res.Retrieved[1].Entry.ID != "b" {
		t.Errorf("order not preserved: %+v", res.Retrieved)
	}
	if store.gotK != 5 {
		t.Errorf("expected k=5, got %d", store.gotK)
	}
}

func TestRetrieve_AllBelowThreshold(t *testing.T) {
	store := &stubSearcher{results: []policy.Retrieved{hit("a", "policy", 0.05)}}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, store, DefaultConfig())

	res, err := r.Retrieve(context.Background(), "market trends")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Retrieved) != 0 {
		t.Errorf("expected empty retrieval, got %d", len(res.Retrieved))
	}
	if res.Retrieved == nil {
		t.Error("expected non-nil empty slice")
	}
	if !strings.Contains(res.Reason, "below similarity") {
		t.Errorf("unexpected reason %q", res.Reason)
	}
}

func TestRetrieve_EmptyStore(t *testing.T) {
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, &stubSearcher{}, DefaultConfig())
	res, err := r.Retrieve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Candidates != 0 || len(res.Retrieved) != 0 {
		t.Errorf("expected nothing, got %+v", res)
	}
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("connection refused")}
	store := &stubSearcher{results: []policy.Retrieved{hit("a", "policy", 0.9)}}
	r := NewRetriever(emb, store, DefaultConfig())

	_, err := r.Retrieve(context.Background(), "prompt")
	if !errors.Is(err, failure.ErrEmbedding) {
		t.Fatalf("expected embedding failure, got %v", err)
	}
	if store.gotK != 0 {
		t.Error("store should not be queried when embedding fails")
	}
}

func TestRetrieve_EmbeddingFailurePassesThrough(t *testing.T) {
	inner := failure.Embedding("embed", errors.New("timeout"))
	r := NewRetriever(&stubEmbedder{err: inner}, &stubSearcher{}, DefaultConfig())

	_, err := r.Retrieve(context.Background(), "prompt")
	if err != inner {
		t.Errorf("expected the original embedding failure, got %v", err)
	}
}

func TestRetrieve_StoreFailure(t *testing.T) {
	store := &stubSearcher{err: failure.Storage("query policies", errors.New("disk"))}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, store, DefaultConfig())

	_, err := r.Retrieve(context.Background(), "prompt")
	if !errors.Is(err, failure.ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestRetrieve_CustomTopK(t *testing.T) {
	store := &stubSearcher{results: []policy.Retrieved{
		hit("a", "p1", 0.9), hit("b", "p2", 0.8), hit("c", "p3", 0.7),
	}}
	r := NewRetriever(&stubEmbedder{vec: []float32{1}}, store, Config{TopK: 2, MinSimilarity: 0.2})

	res, err := r.Retrieve(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Retrieved) != 2 {
		t.Errorf("expected 2, got %d", len(res.Retrieved))
	}
}

func TestNewRetriever_DefaultsTopK(t *testing.T) {
	r := NewRetriever(&stubEmbedder{}, &stubSearcher{}, Config{})
	if r.Config().TopK != 5 {
		t.Errorf("expected default TopK 5, got %d", r.Config().TopK)
	}
}

// #endregion retrieve-tests
