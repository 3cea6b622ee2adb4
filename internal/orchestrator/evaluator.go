package orchestrator

// #region imports
import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #endregion

// #region parse

// parseResponse turns raw reasoner output into validated issues. Output that
// does not fit the result schema, or cites a policy that was not sent, is a
// malformed response. Violations without an explanation are dropped.
func (o *Orchestrator) parseResponse(raw []byte, prompt string, policies []provider.PolicyContext) ([]verdict.Issue, error) {
	body := stripFences(raw)
	if len(body) == 0 {
		return nil, failure.Malformed("parse response", errors.New("empty response"))
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, failure.Malformed("parse response", fmt.Errorf("decode json: %w", err))
	}
	if err := o.schema.Validate(doc); err != nil {
		return nil, failure.Malformed("parse response", fmt.Errorf("schema validation: %w", err))
	}

	var result reasoningResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, failure.Malformed("parse response", fmt.Errorf("decode assessments: %w", err))
	}

	byIndex := make(map[int]int) // policy index -> position in issues
	issues := make([]verdict.Issue, 0, len(result.Assessments))
	for _, a := range result.Assessments {
		if a.PolicyIndex < 1 || a.PolicyIndex > len(policies) {
			return nil, failure.Malformed("parse response",
				fmt.Errorf("policy_index %d outside 1..%d", a.PolicyIndex, len(policies)))
		}
		if !a.Violated {
			continue
		}
		explanation := strings.TrimSpace(a.Explanation)
		if explanation == "" {
			log.Printf("[EVAL] dropping violation of policy %d: empty explanation", a.PolicyIndex)
			continue
		}
		excerpt := strings.TrimSpace(a.PromptExcerpt)
		if excerpt == "" {
			excerpt = prompt
		}
		issue := verdict.Issue{
			PolicyText:  policies[a.PolicyIndex-1].Text,
			PromptText:  excerpt,
			Severity:    verdict.ClampSeverity(a.Severity),
			Explanation: explanation,
		}

		// one issue per policy, the most severe assessment wins
		if pos, ok := byIndex[a.PolicyIndex]; ok {
			if issue.Severity > issues[pos].Severity {
				issues[pos] = issue
			}
			continue
		}
		byIndex[a.PolicyIndex] = len(issues)
		issues = append(issues, issue)
	}
	return issues, nil
}

// #endregion

// #region strip-fences

// stripFences removes a surrounding markdown code fence, which some providers
// add even in structured-output mode.
func stripFences(raw []byte) []byte {
	body := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(body, []byte("```")) {
		return body
	}
	body = bytes.TrimPrefix(body, []byte("```"))
	if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return nil
	}
	body = bytes.TrimSpace(body)
	body = bytes.TrimSuffix(body, []byte("```"))
	return bytes.TrimSpace(body)
}

func isMalformed(err error) bool {
	return err != nil && errors.Is(err, failure.ErrMalformed)
}

// #endregion
