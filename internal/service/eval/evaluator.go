// Package eval scores generated SQL against the user's question, either by
// comparison with a matched ground-truth query or by a reference-free
// heuristic when no match exists.
package eval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/llm"
	"github.com/tessen-ai/kanshi/internal/service/match"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// Final-score weights for the ground-truth path. Result validation, when it
// runs, carries the largest share after structure.
const (
	gtStructuralWeight = 0.40
	gtSemanticWeight   = 0.15
	gtLLMWeight        = 0.15
	gtResultWeight     = 0.30

	// Without result validation the structural signal dominates.
	gtNoResultStructuralWeight = 0.60
	gtNoResultSemanticWeight   = 0.10
	gtNoResultLLMWeight        = 0.30
)

// Heuristic-path weights. Drift is monitoring-only: it never contributes to
// the weighted sum but can veto obviously off-distribution queries.
const (
	heuristicStructuralWeight = 0.45
	heuristicIntentWeight     = 0.30
	heuristicPatternWeight    = 0.25

	driftVetoThreshold = 0.1
)

// DefaultThreshold is the PASS boundary on the final score.
const DefaultThreshold = 0.7

// Input is everything the evaluator needs for one query. Conn and Schema
// come from the caller because pipeline stages share one agent connection.
type Input struct {
	Query  model.Query
	Schema []model.DiscoveredColumn

	// Conn is the agent DB connection, nil when unreachable. EXPLAIN
	// validation and result execution degrade gracefully without it.
	Conn *agentdb.Conn

	// DriftQuality is 1 - drift_score from the drift stage, nil when drift
	// did not produce a comparable score.
	DriftQuality *float64
}

// Outcome carries the persisted evaluation plus what the pipeline needs for
// the error-classification stage.
type Outcome struct {
	Evaluation             model.Evaluation
	RequiresClassification bool
	StructuralError        string
}

// Evaluator runs the two-path scoring procedure and persists results.
type Evaluator struct {
	db          *storage.DB
	matcher     *match.Matcher
	judge       *Judge
	outputJudge *OutputJudge
	threshold   float64
	logger      *slog.Logger
}

// New creates an Evaluator. A threshold of 0 selects DefaultThreshold.
func New(db *storage.DB, matcher *match.Matcher, provider llm.Provider, threshold float64, logger *slog.Logger) *Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Evaluator{
		db:          db,
		matcher:     matcher,
		judge:       NewJudge(provider),
		outputJudge: NewOutputJudge(provider),
		threshold:   threshold,
		logger:      logger,
	}
}

// Evaluate scores one successful query and upserts the evaluation row.
// Scoring never fails the pipeline: component errors degrade the affected
// signal and are recorded in evaluation_data.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (Outcome, error) {
	q := in.Query
	cleanedSQL := CleanSQL(derefString(q.GeneratedSQL))

	ev := model.Evaluation{
		QueryID:        q.QueryID,
		AgentType:      q.AgentType,
		GeneratedSQL:   q.GeneratedSQL,
		EvaluationData: map[string]any{"cleaned_sql": cleanedSQL},
		CreatedAt:      time.Now().UTC(),
	}

	validator := NewStructuralValidator(in.Schema)
	structural := validator.Validate(ctx, in.Conn, cleanedSQL)
	ev.StructuralScore = structural.Score
	ev.EvaluationData["structural"] = structural

	if structural.Score == 0 {
		ev.Result = model.EvalFail
		ev.FinalScore = 0
		ev.Confidence = 1.0
		reason := "structural validation failed: " + structural.ErrorMessage
		ev.Reasoning = &reason
		ev.EvaluationData["path"] = string(model.PathStructuralFail)
		e.logger.Warn("evaluation: structural failure",
			"query_id", q.QueryID, "kind", structural.ErrorKind)
		return Outcome{
			Evaluation:             ev,
			RequiresClassification: structural.RequiresClassification,
			StructuralError:        structural.ErrorMessage,
		}, e.db.UpsertEvaluation(ctx, ev)
	}

	gt, loaded, err := e.matcher.Best(ctx, strings.ToLower(q.AgentType), q.QueryText)
	if err != nil {
		e.logger.Warn("evaluation: ground-truth lookup failed", "query_id", q.QueryID, "error", err)
	}

	if err == nil && loaded && e.matcher.BestIsHit(gt) {
		e.evaluateGroundTruth(ctx, &ev, in, cleanedSQL, gt)
	} else {
		e.evaluateHeuristic(ctx, &ev, in, cleanedSQL)
	}

	e.logger.Info("evaluation complete",
		"query_id", q.QueryID,
		"path", ev.EvaluationData["path"],
		"result", ev.Result,
		"score", ev.FinalScore)
	return Outcome{Evaluation: ev}, e.db.UpsertEvaluation(ctx, ev)
}

// evaluateGroundTruth is the path with a matched reference query: semantic
// similarity, LLM judge, and live result comparison.
func (e *Evaluator) evaluateGroundTruth(ctx context.Context, ev *model.Evaluation, in Input, cleanedSQL string, gt match.Match) {
	ev.EvaluationData["path"] = string(model.PathGroundTruth)
	ev.EvaluationData["ground_truth"] = map[string]any{
		"natural_language": gt.Query.NaturalLanguage,
		"sql":              gt.Query.SQL,
		"similarity":       gt.Similarity,
		"complexity":       gt.Query.Complexity,
	}

	checker := NewSemanticChecker(validatorColumns(in.Schema), validatorTables(in.Schema))
	semantic, breakdown := checker.Similarity(cleanedSQL, gt.Query.SQL)
	ev.SemanticScore = semantic
	ev.EvaluationData["semantic"] = breakdown

	llmConfidence := 0.5
	judge, err := e.judge.Evaluate(ctx, in.Query.QueryText, cleanedSQL, gt.Query.SQL, in.Query.AgentType)
	if err != nil {
		e.logger.Warn("evaluation: llm judge unavailable", "query_id", in.Query.QueryID, "error", err)
		ev.EvaluationData["llm_judge_error"] = err.Error()
	} else {
		if judge.Verdict == "PASS" {
			ev.LLMScore = 1.0
		}
		llmConfidence = judge.Confidence
		ev.Reasoning = &judge.Reasoning
		ev.EvaluationData["llm_judge"] = judge
	}

	resultRan := false
	if in.Conn != nil {
		validation, err := ValidateResult(ctx, in.Conn, cleanedSQL, gt.Query)
		ev.EvaluationData["result_validation"] = validation
		if err != nil {
			e.logger.Warn("evaluation: result validation failed", "query_id", in.Query.QueryID, "error", err)
		} else {
			resultRan = true
			ev.FinalScore = gtStructuralWeight*ev.StructuralScore +
				gtSemanticWeight*ev.SemanticScore +
				gtLLMWeight*ev.LLMScore +
				gtResultWeight*validation.Score
		}
	}
	if !resultRan {
		ev.FinalScore = gtNoResultStructuralWeight*ev.StructuralScore +
			gtNoResultSemanticWeight*ev.SemanticScore +
			gtNoResultLLMWeight*ev.LLMScore
	}

	ev.Result = e.verdict(ev.FinalScore)
	ev.Confidence = (llmConfidence + ev.FinalScore) / 2
}

// evaluateHeuristic is the reference-free path: intent and pattern layers
// plus the structural score, with a drift veto for junk queries.
func (e *Evaluator) evaluateHeuristic(ctx context.Context, ev *model.Evaluation, in Input, cleanedSQL string) {
	ev.EvaluationData["path"] = string(model.PathHeuristic)

	analyzer := NewIntentAnalyzer(columnTypes(in.Schema))
	intent := analyzer.Evaluate(in.Query.QueryText, cleanedSQL)
	ev.EvaluationData["intent"] = intent

	pattern := PatternScore(cleanedSQL)
	ev.EvaluationData["pattern"] = pattern

	ev.FinalScore = heuristicStructuralWeight*ev.StructuralScore +
		heuristicIntentWeight*intent.Score +
		heuristicPatternWeight*pattern.Score

	if in.DriftQuality != nil {
		ev.EvaluationData["drift_quality"] = *in.DriftQuality
		if *in.DriftQuality < driftVetoThreshold {
			ev.FinalScore = 0
			ev.Confidence = 0
			ev.Result = model.EvalFail
			reason := "drift veto: query is far outside the agent's baseline distribution"
			ev.Reasoning = &reason
			e.logger.Warn("evaluation: drift veto", "query_id", in.Query.QueryID, "drift_quality", *in.DriftQuality)
			return
		}
	}

	ev.Result = e.verdict(ev.FinalScore)
	ev.Confidence = ev.FinalScore
	reason := "reference-free heuristic evaluation"
	ev.Reasoning = &reason

	// With DB access, additionally judge the executed output. Attached for
	// observability; it does not move the weighted score.
	if in.Conn != nil {
		result, err := in.Conn.ExecuteSQL(ctx, cleanedSQL, resultExecTimeout, agentdb.DefaultMaxRows)
		if err != nil {
			ev.EvaluationData["output_validation_error"] = err.Error()
			return
		}
		score, err := e.outputJudge.Evaluate(ctx, in.Query.QueryText, cleanedSQL, result)
		if err != nil {
			ev.EvaluationData["output_validation_error"] = err.Error()
			return
		}
		ev.EvaluationData["output_validation"] = score
	}
}

func (e *Evaluator) verdict(score float64) model.EvalResult {
	if score >= e.threshold {
		return model.EvalPass
	}
	return model.EvalFail
}

// CleanSQL trims whitespace and strips markdown code fences that some
// agents leak into their telemetry.
func CleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	if !strings.Contains(sql, "```") {
		return sql
	}
	if parts := strings.Split(sql, "```"); len(parts) >= 3 {
		sql = parts[1]
	} else {
		sql = strings.ReplaceAll(sql, "```", "")
	}
	sql = strings.TrimPrefix(strings.TrimSpace(sql), "sql")
	return strings.TrimSpace(sql)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func validatorColumns(cols []model.DiscoveredColumn) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cols {
		name := strings.ToLower(c.ColumnName)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func validatorTables(cols []model.DiscoveredColumn) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cols {
		name := strings.ToLower(c.TableName)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func columnTypes(cols []model.DiscoveredColumn) map[string]string {
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c.ColumnName] = c.DataType
	}
	return out
}
