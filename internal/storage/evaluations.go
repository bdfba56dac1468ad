package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tessen-ai/kanshi/internal/model"
)

// UpsertEvaluation stores the evaluation outcome for a query. Re-evaluation
// replaces the previous row; queries and evaluations stay 1:1.
func (db *DB) UpsertEvaluation(ctx context.Context, e model.Evaluation) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.evaluations
		 (query_id, agent_type, generated_sql, structural_score, semantic_score, llm_score,
		  final_score, confidence, result, reasoning, evaluation_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (query_id) DO UPDATE SET
		   agent_type = EXCLUDED.agent_type,
		   generated_sql = EXCLUDED.generated_sql,
		   structural_score = EXCLUDED.structural_score,
		   semantic_score = EXCLUDED.semantic_score,
		   llm_score = EXCLUDED.llm_score,
		   final_score = EXCLUDED.final_score,
		   confidence = EXCLUDED.confidence,
		   result = EXCLUDED.result,
		   reasoning = EXCLUDED.reasoning,
		   evaluation_data = EXCLUDED.evaluation_data,
		   updated_at = now()`,
		e.QueryID, e.AgentType, e.GeneratedSQL, e.StructuralScore, e.SemanticScore, e.LLMScore,
		e.FinalScore, e.Confidence, string(e.Result), e.Reasoning, e.EvaluationData,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation retrieves the evaluation for a query.
func (db *DB) GetEvaluation(ctx context.Context, queryID string) (model.Evaluation, error) {
	var e model.Evaluation
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, agent_type, generated_sql, structural_score, semantic_score, llm_score,
		        final_score, confidence, result, reasoning, evaluation_data, created_at, updated_at
		 FROM monitoring.evaluations WHERE query_id = $1`, queryID,
	).Scan(
		&e.QueryID, &e.AgentType, &e.GeneratedSQL, &e.StructuralScore, &e.SemanticScore, &e.LLMScore,
		&e.FinalScore, &e.Confidence, &e.Result, &e.Reasoning, &e.EvaluationData, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Evaluation{}, fmt.Errorf("storage: evaluation %s: %w", queryID, ErrNotFound)
		}
		return model.Evaluation{}, fmt.Errorf("storage: get evaluation: %w", err)
	}
	return e, nil
}

// ListQueryIDsForRevalidation returns query ids for an agent that have an
// evaluation, newest first, bounded by limit. Used after ground-truth
// regeneration to re-run affected evaluations.
func (db *DB) ListQueryIDsForRevalidation(ctx context.Context, agentType string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.pool.Query(ctx,
		`SELECT query_id FROM monitoring.evaluations
		 WHERE agent_type = $1 ORDER BY created_at DESC LIMIT $2`,
		agentType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list revalidation ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan revalidation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
