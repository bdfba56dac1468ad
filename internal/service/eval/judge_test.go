package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/agentdb"
)

// cannedProvider returns a fixed completion.
type cannedProvider struct {
	response string
	err      error
}

func (p *cannedProvider) Complete(context.Context, string, string) (string, error) {
	return p.response, p.err
}

func TestJudgeParsesStructuredVerdict(t *testing.T) {
	j := NewJudge(&cannedProvider{response: `VERDICT: PASS
CONFIDENCE: 0.92
REASONING: Equivalent aggregation over the same table.`})

	res, err := j.Evaluate(context.Background(), "total sales", "SELECT SUM(sales) FROM orders", "SELECT SUM(sales) FROM orders", "orders_agent")
	require.NoError(t, err)
	assert.Equal(t, "PASS", res.Verdict)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Contains(t, res.Reasoning, "Equivalent")
}

func TestJudgeMalformedResponseDegrades(t *testing.T) {
	res := parseJudgeResponse("the model rambled instead of following the format")
	assert.Equal(t, "FAIL", res.Verdict)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Contains(t, res.Reasoning, "rambled")
}

func TestJudgeClampsConfidence(t *testing.T) {
	res := parseJudgeResponse("VERDICT: PASS\nCONFIDENCE: 1.7\nREASONING: x")
	assert.Equal(t, 1.0, res.Confidence)
}

func TestJudgeRejectsUnknownVerdict(t *testing.T) {
	res := parseJudgeResponse("VERDICT: MAYBE\nCONFIDENCE: 0.9")
	assert.Equal(t, "FAIL", res.Verdict)
}

func TestOutputJudgeParsesScores(t *testing.T) {
	resp := `CORRECTNESS_SCORE: 0.9
COMPLETENESS_SCORE: 1.0
QUALITY_SCORE: 0.85
OVERALL_SCORE: 0.92
REASONING: Correct maximum with a clear column name.`
	score := parseOutputResponse(resp)
	assert.InDelta(t, 0.9, score.Correctness, 1e-9)
	assert.InDelta(t, 1.0, score.Completeness, 1e-9)
	assert.InDelta(t, 0.85, score.Quality, 1e-9)
	assert.InDelta(t, 0.92, score.Overall, 1e-9)
	assert.NotEmpty(t, score.Reasoning)
}

func TestOutputJudgeComputesMissingOverall(t *testing.T) {
	resp := "CORRECTNESS_SCORE: 1.0\nCOMPLETENESS_SCORE: 0.5\nQUALITY_SCORE: 0.0"
	score := parseOutputResponse(resp)
	assert.InDelta(t, 0.65, score.Overall, 1e-9)
}

func TestFormatResultTable(t *testing.T) {
	res := &agentdb.Result{
		Columns:  []string{"region", "total"},
		Rows:     [][]any{{"EU", 100.0}, {"US", nil}},
		RowCount: 2,
	}
	table := formatResultTable(res, 5)
	assert.Contains(t, table, "| region | total |")
	assert.Contains(t, table, "NULL")

	empty := &agentdb.Result{Columns: []string{"x"}}
	assert.Equal(t, "No rows returned", formatResultTable(empty, 5))
}

func TestFormatResultTableTruncates(t *testing.T) {
	rows := make([][]any, 8)
	for i := range rows {
		rows[i] = []any{float64(i)}
	}
	res := &agentdb.Result{Columns: []string{"n"}, Rows: rows, RowCount: 8}
	table := formatResultTable(res, 5)
	assert.Contains(t, table, "and 3 more rows")
}
