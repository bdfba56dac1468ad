package eval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/service/llm"
)

// Output-judge score weights.
const (
	outputCorrectnessWeight  = 0.5
	outputCompletenessWeight = 0.3
	outputQualityWeight      = 0.2

	outputSampleRows = 5
)

// OutputScore is the parsed result of LLM output validation.
type OutputScore struct {
	Correctness  float64 `json:"correctness"`
	Completeness float64 `json:"completeness"`
	Quality      float64 `json:"quality"`
	Overall      float64 `json:"overall"`
	Reasoning    string  `json:"reasoning"`
}

// OutputJudge scores executed query output against the question when no
// ground truth exists to compare SQL against.
type OutputJudge struct {
	provider llm.Provider
}

// NewOutputJudge wraps an LLM provider as an output judge.
func NewOutputJudge(provider llm.Provider) *OutputJudge {
	return &OutputJudge{provider: provider}
}

const outputJudgeSystem = `You are an expert SQL query evaluator. Analyze whether the query output correctly answers the user's question.

Important: a NULL or empty result is CORRECT when the SQL is logically right but the requested data does not exist. Judge the SQL logic, not whether the data exists.

Score three criteria:
1. CORRECTNESS (50%): does the SQL correctly answer the question, with reasonable values and relevant columns?
2. COMPLETENESS (30%): is the expected structure returned with all requested fields, even at 0 rows?
3. QUALITY (20%): are values in plausible ranges with proper types and no obvious errors?

Respond in exactly this format:
CORRECTNESS_SCORE: <0.0-1.0>
COMPLETENESS_SCORE: <0.0-1.0>
QUALITY_SCORE: <0.0-1.0>
OVERALL_SCORE: <0.5*correctness + 0.3*completeness + 0.2*quality>
REASONING: <2-3 sentences>`

// Evaluate formats the execution result as a table and asks the model to
// score it.
func (o *OutputJudge) Evaluate(ctx context.Context, question, sql string, result *agentdb.Result) (OutputScore, error) {
	user := fmt.Sprintf(`User Question:
%s

Generated SQL:
%s

Query Output (sample):
%s

Execution Details:
- Total rows returned: %d
- Columns: %s
- Execution time: %.1fms

Now evaluate the query output above.`,
		question, sql,
		formatResultTable(result, outputSampleRows),
		result.RowCount,
		strings.Join(result.Columns, ", "),
		result.ExecutionTimeMS,
	)

	resp, err := o.provider.Complete(ctx, outputJudgeSystem, user)
	if err != nil {
		return OutputScore{}, fmt.Errorf("eval: output judge: %w", err)
	}
	return parseOutputResponse(resp), nil
}

// formatResultTable renders up to maxRows as a markdown table for the
// prompt.
func formatResultTable(result *agentdb.Result, maxRows int) string {
	if result.RowCount == 0 || len(result.Rows) == 0 {
		return "No rows returned"
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(result.Columns)) + "\n")

	n := len(result.Rows)
	if n > maxRows {
		n = maxRows
	}
	for _, row := range result.Rows[:n] {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(result.Rows) > maxRows {
		fmt.Fprintf(&b, "\n... and %d more rows", len(result.Rows)-maxRows)
	}
	return b.String()
}

// parseOutputResponse extracts the scored fields. A missing OVERALL_SCORE
// is recomputed from the component weights.
func parseOutputResponse(resp string) OutputScore {
	score := OutputScore{Correctness: 0.5, Completeness: 0.5, Quality: 0.5}
	overallSeen := false

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "CORRECTNESS_SCORE":
			score.Correctness = parseScore(val, score.Correctness)
		case "COMPLETENESS_SCORE":
			score.Completeness = parseScore(val, score.Completeness)
		case "QUALITY_SCORE":
			score.Quality = parseScore(val, score.Quality)
		case "OVERALL_SCORE":
			score.Overall = parseScore(val, 0)
			overallSeen = true
		case "REASONING":
			score.Reasoning = val
		}
	}

	if !overallSeen {
		score.Overall = outputCorrectnessWeight*score.Correctness +
			outputCompletenessWeight*score.Completeness +
			outputQualityWeight*score.Quality
	}
	return score
}

func parseScore(s string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return clamp01(f)
	}
	return fallback
}
