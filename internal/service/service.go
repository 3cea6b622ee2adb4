package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/logging"
	"github.com/danielpatrickdp/prompt-compliance/internal/metrics"
	"github.com/danielpatrickdp/prompt-compliance/internal/orchestrator"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/retrieval"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region interfaces

// PolicyStore is the subset of the policy store the service mutates and lists.
type PolicyStore interface {
	Insert(ctx context.Context, text, name string) (policy.Entry, error)
	List(ctx context.Context) ([]policy.Entry, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// #endregion interfaces

// #region service-struct

// Service is the entry point used by the CLI: verification plus policy management.
type Service struct {
	store     PolicyStore
	retriever *retrieval.Retriever
	evaluator *orchestrator.Orchestrator
	metrics   *metrics.Metrics
	decisions *logging.DecisionLog
}

// New creates a Service. m and decisions may be nil.
func New(store PolicyStore, retriever *retrieval.Retriever, evaluator *orchestrator.Orchestrator, m *metrics.Metrics, decisions *logging.DecisionLog) (*Service, error) {
	if store == nil || retriever == nil || evaluator == nil {
		return nil, errors.New("service requires a store, a retriever and an evaluator")
	}
	return &Service{
		store:     store,
		retriever: retriever,
		evaluator: evaluator,
		metrics:   m,
		decisions: decisions,
	}, nil
}

// #endregion service-struct

// #region verify

// Verify checks prompt against the stored policies. Any failure is returned
// as a typed error and never as a verdict.
func (s *Service) Verify(ctx context.Context, prompt string) (verdict.Verdict, error) {
	start := time.Now()
	entry := logging.DecisionEntry{
		RequestID:  logging.NewRequestID(),
		PromptHash: logging.HashPrompt(prompt),
	}

	if strings.TrimSpace(prompt) == "" {
		err := failure.Validation("verify", "prompt is empty")
		s.recordFailure(entry, err, start)
		return verdict.Verdict{}, err
	}

	res, err := s.retriever.Retrieve(ctx, prompt)
	if err != nil {
		s.recordFailure(entry, err, start)
		return verdict.Verdict{}, err
	}
	entry.Candidates = res.Candidates
	entry.PolicyIDs = make([]string, len(res.Retrieved))
	for i, r := range res.Retrieved {
		entry.PolicyIDs[i] = r.Entry.ID
	}

	ev, err := s.evaluator.EvaluateDetailed(ctx, prompt, res.Retrieved)
	entry.ReasoningCalls = ev.ReasoningCalls()
	entry.MalformedResponses = ev.MalformedResponses()
	s.metrics.ObserveMalformed(entry.MalformedResponses)
	if err != nil {
		s.recordFailure(entry, err, start)
		return verdict.Verdict{}, err
	}

	v := ev.Verdict
	elapsed := time.Since(start)
	score := v.ComplianceScore
	entry.Status = string(v.Status)
	entry.ComplianceScore = &score
	entry.Issues = len(v.Issues)
	entry.DurationMS = float64(elapsed.Microseconds()) / 1000
	s.metrics.ObserveVerification(string(v.Status), elapsed)
	s.writeDecision(entry)

	log.Printf("[VERIFY] %s status=%s score=%.2f issues=%d policies=%d calls=%d (%s)",
		entry.RequestID, v.Status, v.ComplianceScore, len(v.Issues), len(v.RelevantPolicies),
		entry.ReasoningCalls, elapsed.Round(time.Millisecond))
	return v, nil
}

func (s *Service) recordFailure(entry logging.DecisionEntry, err error, start time.Time) {
	elapsed := time.Since(start)
	kind := string(failure.KindOf(err))
	entry.ErrorKind = kind
	entry.Error = err.Error()
	entry.DurationMS = float64(elapsed.Microseconds()) / 1000
	s.metrics.ObserveFailure(kind, elapsed)
	s.writeDecision(entry)
	log.Printf("[VERIFY] %s failed (%s): %v", entry.RequestID, kind, err)
}

func (s *Service) writeDecision(entry logging.DecisionEntry) {
	if err := s.decisions.LogDecision(entry); err != nil {
		log.Printf("[VERIFY] decision log: %v", err)
	}
}

// #endregion verify

// #region policies

// AddPolicyText stores one policy statement. An empty name gets a generated one.
func (s *Service) AddPolicyText(ctx context.Context, text, name string) (policy.Entry, error) {
	entry, err := s.store.Insert(ctx, text, name)
	if err != nil {
		return policy.Entry{}, err
	}
	s.SyncMetrics(ctx)
	return entry, nil
}

// AddPolicyFileContent stores text already extracted from an uploaded file.
func (s *Service) AddPolicyFileContent(ctx context.Context, content, name string) (policy.Entry, error) {
	return s.AddPolicyText(ctx, NormalizeFileContent(content), name)
}

// ListPolicies returns every stored policy in insertion order.
func (s *Service) ListPolicies(ctx context.Context) ([]policy.Entry, error) {
	return s.store.List(ctx)
}

// ClearPolicies removes every stored policy. Idempotent.
func (s *Service) ClearPolicies(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.SyncMetrics(ctx)
	return nil
}

// SyncMetrics refreshes the stored-policy gauge.
func (s *Service) SyncMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		log.Printf("[POLICY] count for metrics: %v", err)
		return
	}
	s.metrics.SetPoliciesStored(n)
}

// #endregion policies

// #region normalize

// NormalizeFileContent strips a UTF-8 byte order mark, converts CRLF and CR
// line endings to LF and trims surrounding whitespace.
func NormalizeFileContent(content string) string {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.TrimSpace(content)
}

// #endregion normalize
