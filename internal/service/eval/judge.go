package eval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tessen-ai/kanshi/internal/service/llm"
)

const judgeSystemPrompt = `You are an expert SQL evaluator. Determine whether the generated SQL correctly answers the user's question.

Evaluation criteria:
1. Correctness: does the SQL retrieve the right data for the question?
2. Completeness: are all necessary filters, aggregations, and joins present?
3. Logic: are joins, WHERE conditions, and GROUP BY clauses sound?

Compare the generated SQL with the reference SQL. Consider them equivalent when they produce the same result even if syntax differs.

PASS when:
- a view is used instead of equivalent joins
- LIMIT values differ but the question did not ask for a specific count
- the SQL answers the core intent even if sorting or aggregation differs slightly
- column or table aliases differ
- extra safety checks (NULLIF, COALESCE) or extra SELECT columns appear alongside the core answer

FAIL only when:
- the SQL is syntactically invalid
- the SQL reads the wrong table or column
- the SQL returns unrelated data

Ignore case differences in string literals and incidental ORDER BY clauses.

Respond in exactly this format:
VERDICT: [PASS/FAIL]
CONFIDENCE: [0.0-1.0]
REASONING: [brief explanation]`

// JudgeResult is the parsed verdict of the SQL judge.
type JudgeResult struct {
	Verdict     string  `json:"verdict"` // PASS or FAIL
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	RawResponse string  `json:"-"`
}

// Judge asks an LLM whether candidate SQL answers the question as well as
// the reference SQL does.
type Judge struct {
	provider llm.Provider
}

// NewJudge wraps an LLM provider as a SQL judge.
func NewJudge(provider llm.Provider) *Judge {
	return &Judge{provider: provider}
}

// Evaluate prompts the model and parses its structured verdict. Provider
// failures surface as errors; the caller decides how to degrade.
func (j *Judge) Evaluate(ctx context.Context, question, candidateSQL, referenceSQL, agentType string) (JudgeResult, error) {
	user := fmt.Sprintf(`User Query: %q

Generated SQL:
%s

Reference SQL:
%s

Agent Type: %s

Evaluate if the generated SQL correctly answers the user query.`, question, candidateSQL, referenceSQL, agentType)

	resp, err := j.provider.Complete(ctx, judgeSystemPrompt, user)
	if err != nil {
		return JudgeResult{}, fmt.Errorf("eval: llm judge: %w", err)
	}
	return parseJudgeResponse(resp), nil
}

// parseJudgeResponse is lenient: a malformed response degrades to FAIL with
// mid confidence rather than an error, with the raw text kept as reasoning.
func parseJudgeResponse(resp string) JudgeResult {
	res := JudgeResult{Verdict: "FAIL", Confidence: 0.5, RawResponse: resp}

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "VERDICT:"):
			v := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "VERDICT:")))
			if v == "PASS" || v == "FAIL" {
				res.Verdict = v
			}
		case strings.HasPrefix(line, "CONFIDENCE:"):
			if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64); err == nil {
				res.Confidence = clamp01(f)
			}
		case strings.HasPrefix(line, "REASONING:"):
			res.Reasoning = strings.TrimSpace(strings.TrimPrefix(line, "REASONING:"))
		}
	}

	if res.Reasoning == "" {
		res.Reasoning = strings.TrimSpace(resp)
	}
	return res
}
