package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/prompt-compliance/internal/embedding"
	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/orchestrator"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
	"github.com/danielpatrickdp/prompt-compliance/internal/resilience"
	"github.com/danielpatrickdp/prompt-compliance/internal/retrieval"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region types

// CaseResult captures the outcome of replaying one case.
type CaseResult struct {
	ID             string
	Status         verdict.Status
	Score          float64
	Issues         int
	Relevant       int
	ErrorKind      failure.Kind
	Err            error
	ReasoningCalls int
	Passed         bool
	Reason         string // first failed expectation
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total        int
	Passed       int
	Failed       int
	Compliant    int
	NonCompliant int
	Uncertain    int
	Errors       int
}

// #endregion types

// #region scripted-reasoner

// scriptedReasoner serves one case's responses at a time.
type scriptedReasoner struct {
	mu        sync.Mutex
	responses []FixtureResponse
	calls     int
}

func (s *scriptedReasoner) load(responses []FixtureResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = responses
	s.calls = 0
}

func (s *scriptedReasoner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedReasoner) EvaluateStructured(ctx context.Context, _ provider.ReasoningRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	i := min(s.calls-1, len(s.responses)-1)
	r := s.responses[i]
	switch {
	case r.Error != "" && r.Transient:
		return nil, provider.Transientf("%s", r.Error)
	case r.Error != "":
		return nil, errors.New(r.Error)
	case r.Text != "":
		return []byte(r.Text), nil
	}
	return []byte(r.Output), nil
}

// #endregion scripted-reasoner

// #region replay

// Replay loads the fixture's policies into an in-memory store embedded with
// the hashing embedder, then verifies every case in order against scripted
// reasoner output. Only setup problems return an error; per-case failures
// are reported in the results.
func Replay(ctx context.Context, f *Fixture) ([]CaseResult, error) {
	embedder := embedding.NewHash(0)
	store, err := policy.NewStore(":memory:", embedder.Dim(), embedder)
	if err != nil {
		return nil, fmt.Errorf("open replay store: %w", err)
	}
	defer store.Close()

	for _, p := range f.Policies {
		if _, err := store.Insert(ctx, p.Text, p.Name); err != nil {
			return nil, fmt.Errorf("load policy %q: %w", p.Name, err)
		}
	}

	rcfg := retrieval.DefaultConfig()
	if f.Config.TopK > 0 {
		rcfg.TopK = f.Config.TopK
	}
	if f.Config.MinSimilarity != nil {
		rcfg.MinSimilarity = *f.Config.MinSimilarity
	}
	retriever := retrieval.NewRetriever(embedder, store, rcfg)

	ocfg := orchestrator.DefaultConfig()
	if f.Config.MalformedRetries != nil {
		ocfg.MalformedRetries = *f.Config.MalformedRetries
	}
	attempts := f.Config.Attempts
	if attempts <= 0 {
		attempts = resilience.DefaultPolicy().Attempts
	}
	guard := resilience.NewGuard(resilience.Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil, nil)

	reasoner := &scriptedReasoner{}
	orch, err := orchestrator.NewOrchestrator(reasoner, guard, verdict.NewResolver(f.Config.ToScoringConfig()), ocfg)
	if err != nil {
		return nil, err
	}

	results := make([]CaseResult, 0, len(f.Cases))
	for _, c := range f.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		reasoner.load(c.Responses)

		res := CaseResult{ID: c.ID}
		v, err := verifyCase(ctx, retriever, orch, c.Prompt)
		res.ReasoningCalls = reasoner.callCount()
		if err != nil {
			res.Err = err
			res.ErrorKind = failure.KindOf(err)
		} else {
			res.Status = v.Status
			res.Score = v.ComplianceScore
			res.Issues = len(v.Issues)
			res.Relevant = len(v.RelevantPolicies)
		}
		res.Passed, res.Reason = check(c.Expect, res)
		results = append(results, res)
	}
	return results, nil
}

func verifyCase(ctx context.Context, r *retrieval.Retriever, o *orchestrator.Orchestrator, prompt string) (verdict.Verdict, error) {
	if prompt == "" {
		return verdict.Verdict{}, failure.Validation("replay", "prompt is empty")
	}
	found, err := r.Retrieve(ctx, prompt)
	if err != nil {
		return verdict.Verdict{}, err
	}
	return o.Evaluate(ctx, prompt, found.Retrieved)
}

// check compares one result with its expectations.
func check(want FixtureExpect, got CaseResult) (bool, string) {
	if want.Error != "" {
		if got.Err == nil {
			return false, fmt.Sprintf("expected %s, got %s", want.Error, got.Status)
		}
		if string(got.ErrorKind) != want.Error {
			return false, fmt.Sprintf("expected %s, got %s: %v", want.Error, got.ErrorKind, got.Err)
		}
	} else if got.Err != nil {
		return false, fmt.Sprintf("unexpected error: %v", got.Err)
	}

	if want.Status != "" && string(got.Status) != want.Status {
		return false, fmt.Sprintf("status %s, want %s", got.Status, want.Status)
	}
	if want.Issues != nil && got.Issues != *want.Issues {
		return false, fmt.Sprintf("%d issues, want %d", got.Issues, *want.Issues)
	}
	if want.MinScore != nil && got.Score < *want.MinScore {
		return false, fmt.Sprintf("score %.2f below %.2f", got.Score, *want.MinScore)
	}
	if want.MaxScore != nil && got.Score > *want.MaxScore {
		return false, fmt.Sprintf("score %.2f above %.2f", got.Score, *want.MaxScore)
	}
	if want.ReasoningCalls != nil && got.ReasoningCalls != *want.ReasoningCalls {
		return false, fmt.Sprintf("%d reasoning calls, want %d", got.ReasoningCalls, *want.ReasoningCalls)
	}
	if want.Relevant != nil && got.Relevant != *want.Relevant {
		return false, fmt.Sprintf("%d relevant policies, want %d", got.Relevant, *want.Relevant)
	}
	return true, ""
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		if r.Err != nil {
			s.Errors++
			continue
		}
		switch r.Status {
		case verdict.StatusCompliant:
			s.Compliant++
		case verdict.StatusNonCompliant:
			s.NonCompliant++
		case verdict.StatusUncertain:
			s.Uncertain++
		}
	}
	return s
}

// #endregion replay
