package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
	"github.com/danielpatrickdp/prompt-compliance/internal/resilience"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #endregion

// #region orchestrator-struct

// Orchestrator turns a prompt and its retrieved policies into a verdict.
type Orchestrator struct {
	reasoner     provider.Reasoner
	guard        *resilience.Guard
	resolver     *verdict.Resolver
	retry        *RetryEngine
	schema       *jsonschema.Schema
	instructions string
}

// #endregion

// #region constructor

// NewOrchestrator creates a fully wired orchestrator.
func NewOrchestrator(reasoner provider.Reasoner, guard *resilience.Guard, resolver *verdict.Resolver, cfg Config) (*Orchestrator, error) {
	if reasoner == nil {
		return nil, errors.New("orchestrator requires a reasoner")
	}
	if guard == nil {
		guard = resilience.NewGuard(resilience.DefaultPolicy(), nil, nil)
	}
	if resolver == nil {
		resolver = verdict.NewResolver(verdict.DefaultScoringConfig())
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	instructions := cfg.Instructions
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return &Orchestrator{
		reasoner:     reasoner,
		guard:        guard,
		resolver:     resolver,
		retry:        NewRetryEngine(cfg.MalformedRetries),
		schema:       schema,
		instructions: instructions,
	}, nil
}

// #endregion

// #region evaluate

// Evaluate returns the verdict for prompt against retrieved.
func (o *Orchestrator) Evaluate(ctx context.Context, prompt string, retrieved []policy.Retrieved) (verdict.Verdict, error) {
	ev, err := o.EvaluateDetailed(ctx, prompt, retrieved)
	return ev.Verdict, err
}

// EvaluateDetailed is Evaluate plus the attempt history. An empty retrieval
// resolves to COMPLIANT without calling the reasoner. Failures are returned
// as evaluation failures wrapping either a malformed response or a
// reasoning provider failure; no verdict is produced for them.
func (o *Orchestrator) EvaluateDetailed(ctx context.Context, prompt string, retrieved []policy.Retrieved) (Evaluation, error) {
	if len(retrieved) == 0 {
		log.Printf("[EVAL] no applicable policy, resolving COMPLIANT without reasoning call")
		return Evaluation{Verdict: verdict.Compliant()}, nil
	}

	req, relevant := o.buildRequest(prompt, retrieved)
	ev := Evaluation{}

	for {
		var raw []byte
		calls, err := o.guard.Do(ctx, "reason", func(ctx context.Context) error {
			out, err := o.reasoner.EvaluateStructured(ctx, req)
			if err != nil {
				return err
			}
			raw = out
			return nil
		})
		if err != nil {
			err = failure.New(failure.KindReasoning, "reason", err)
			ev.Attempts = append(ev.Attempts, Attempt{Calls: calls, Err: err})
			log.Printf("[EVAL] reasoning failed after %d call(s): %v", calls, err)
			return ev, failure.Evaluation("evaluate", err)
		}

		issues, err := o.parseResponse(raw, prompt, req.Policies)
		ev.Attempts = append(ev.Attempts, Attempt{Calls: calls, Err: err})
		if err == nil {
			ev.Verdict = o.resolver.Build(issues, relevant)
			log.Printf("[EVAL] policies=%d issues=%d score=%.2f status=%s attempts=%d",
				len(req.Policies), len(ev.Verdict.Issues), ev.Verdict.ComplianceScore, ev.Verdict.Status, len(ev.Attempts))
			return ev, nil
		}

		if !o.retry.ShouldRetry(ev.Attempts) {
			log.Printf("[EVAL] malformed response, giving up after %d attempt(s): %v", len(ev.Attempts), err)
			return ev, failure.Evaluation("evaluate", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ev, failure.Evaluation("evaluate", fmt.Errorf("%w: %w", err, ctxErr))
		}
		log.Printf("[EVAL] malformed response, re-asking: %v", err)
	}
}

// #endregion

// #region build-request

// buildRequest numbers retrieved policies from 1 in retrieval order and
// collects their distinct texts in the same order.
func (o *Orchestrator) buildRequest(prompt string, retrieved []policy.Retrieved) (provider.ReasoningRequest, []string) {
	policies := make([]provider.PolicyContext, len(retrieved))
	relevant := make([]string, 0, len(retrieved))
	seen := make(map[string]bool, len(retrieved))
	for i, r := range retrieved {
		policies[i] = provider.PolicyContext{
			Index:      i + 1,
			Text:       r.Entry.Text,
			Similarity: r.Similarity,
		}
		if !seen[r.Entry.Text] {
			seen[r.Entry.Text] = true
			relevant = append(relevant, r.Entry.Text)
		}
	}
	return provider.ReasoningRequest{
		Instructions: o.instructions,
		Prompt:       prompt,
		Policies:     policies,
		SchemaName:   SchemaName,
		Schema:       Schema(),
	}, relevant
}

// #endregion
