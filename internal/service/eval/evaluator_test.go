package eval

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/match"
)

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"  SELECT 1  ", "SELECT 1"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"prefix ```SELECT 1``` suffix", "SELECT 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanSQL(tt.in), "input %q", tt.in)
	}
}

func newTestEvaluator(provider *cannedProvider) *Evaluator {
	var m *match.Matcher
	return New(nil, m, provider, 0.7, slog.Default())
}

func newEvalRecord(q model.Query) model.Evaluation {
	return model.Evaluation{
		QueryID:        q.QueryID,
		AgentType:      q.AgentType,
		GeneratedSQL:   q.GeneratedSQL,
		EvaluationData: map[string]any{},
		CreatedAt:      time.Now().UTC(),
	}
}

func heuristicInput(question, sql string, driftQuality *float64) Input {
	return Input{
		Query: model.Query{
			QueryID:      "INGEST-ORDERS-deadbeef",
			QueryText:    question,
			AgentType:    "orders_agent",
			Status:       model.QuerySuccess,
			GeneratedSQL: &sql,
		},
		DriftQuality: driftQuality,
	}
}

func TestHeuristicWeightedScore(t *testing.T) {
	e := newTestEvaluator(&cannedProvider{})
	in := heuristicInput("show all orders", "SELECT * FROM orders", nil)

	ev := newEvalRecord(in.Query)
	ev.StructuralScore = 1.0
	e.evaluateHeuristic(context.Background(), &ev, in, *in.Query.GeneratedSQL)

	// 0.45*1.0 structural + 0.30*1.0 intent + 0.25*0.65 pattern.
	assert.InDelta(t, 0.9125, ev.FinalScore, 1e-9)
	assert.Equal(t, model.EvalPass, ev.Result)
	assert.Equal(t, ev.FinalScore, ev.Confidence)
	assert.Equal(t, string(model.PathHeuristic), ev.EvaluationData["path"])
}

func TestHeuristicDriftVeto(t *testing.T) {
	e := newTestEvaluator(&cannedProvider{})
	quality := 0.05
	in := heuristicInput("show all orders", "SELECT * FROM orders", &quality)

	ev := newEvalRecord(in.Query)
	ev.StructuralScore = 1.0
	e.evaluateHeuristic(context.Background(), &ev, in, *in.Query.GeneratedSQL)

	assert.Equal(t, model.EvalFail, ev.Result)
	assert.Zero(t, ev.FinalScore)
	assert.Zero(t, ev.Confidence)
	assert.Contains(t, *ev.Reasoning, "drift veto")
}

func TestHeuristicDriftAboveVetoThreshold(t *testing.T) {
	e := newTestEvaluator(&cannedProvider{})
	quality := 0.4
	in := heuristicInput("show all orders", "SELECT * FROM orders", &quality)

	ev := newEvalRecord(in.Query)
	ev.StructuralScore = 1.0
	e.evaluateHeuristic(context.Background(), &ev, in, *in.Query.GeneratedSQL)

	assert.Equal(t, model.EvalPass, ev.Result)
	assert.InDelta(t, 0.9125, ev.FinalScore, 1e-9)
}

func TestGroundTruthPathWithoutResultValidation(t *testing.T) {
	// PASS verdict from the judge plus identical SQL: final uses the
	// no-result weights 0.60/0.10/0.30.
	e := newTestEvaluator(&cannedProvider{response: "VERDICT: PASS\nCONFIDENCE: 0.9\nREASONING: same query"})
	sql := "SELECT SUM(sales) FROM orders"
	in := heuristicInput("total sales", sql, nil)

	ev := newEvalRecord(in.Query)
	ev.StructuralScore = 1.0
	gt := match.Match{
		Query:      model.GroundTruthQuery{NaturalLanguage: "total sales", SQL: sql},
		Similarity: 0.99,
	}
	e.evaluateGroundTruth(context.Background(), &ev, in, sql, gt)

	assert.InDelta(t, 1.0, ev.FinalScore, 1e-9) // 0.60 + 0.10 + 0.30
	assert.Equal(t, model.EvalPass, ev.Result)
	assert.InDelta(t, (0.9+1.0)/2, ev.Confidence, 1e-9)
	assert.Equal(t, string(model.PathGroundTruth), ev.EvaluationData["path"])
}

func TestGroundTruthPathJudgeFail(t *testing.T) {
	e := newTestEvaluator(&cannedProvider{response: "VERDICT: FAIL\nCONFIDENCE: 0.8\nREASONING: wrong table"})
	in := heuristicInput("total sales", "SELECT SUM(price) FROM products", nil)

	ev := newEvalRecord(in.Query)
	ev.StructuralScore = 1.0
	gt := match.Match{
		Query:      model.GroundTruthQuery{NaturalLanguage: "total sales", SQL: "SELECT SUM(sales) FROM orders"},
		Similarity: 0.96,
	}
	e.evaluateGroundTruth(context.Background(), &ev, in, *in.Query.GeneratedSQL, gt)

	// Structural 0.60 + semantic share only; the llm component is 0.
	assert.Less(t, ev.FinalScore, 0.7)
	assert.Equal(t, model.EvalFail, ev.Result)
	assert.Equal(t, "wrong table", *ev.Reasoning)
}
