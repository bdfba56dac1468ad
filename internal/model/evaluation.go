package model

import "time"

// EvalResult is the final verdict of the evaluator for one query.
type EvalResult string

const (
	EvalPass  EvalResult = "PASS"
	EvalFail  EvalResult = "FAIL"
	EvalError EvalResult = "ERROR"
)

// EvalPath identifies which decision procedure produced an evaluation.
type EvalPath string

const (
	PathGroundTruth    EvalPath = "ground_truth"
	PathHeuristic      EvalPath = "heuristic"
	PathStructuralFail EvalPath = "structural_fail"
)

// Evaluation is the persisted outcome for one query (1:1, upsert by query_id).
type Evaluation struct {
	QueryID         string         `json:"query_id"`
	AgentType       string         `json:"agent_type"`
	GeneratedSQL    *string        `json:"generated_sql,omitempty"`
	StructuralScore float64        `json:"structural_score"`
	SemanticScore   float64        `json:"semantic_score"`
	LLMScore        float64        `json:"llm_score"`
	FinalScore      float64        `json:"final_score"`
	Confidence      float64        `json:"confidence"`
	Result          EvalResult     `json:"result"`
	Reasoning       *string        `json:"reasoning,omitempty"`
	EvaluationData  map[string]any `json:"evaluation_data,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
