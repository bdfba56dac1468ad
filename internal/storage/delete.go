package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DeleteAgentResult contains the count of rows deleted per table.
type DeleteAgentResult struct {
	Errors            int64 `json:"errors"`
	Drift             int64 `json:"drift"`
	Evaluations       int64 `json:"evaluations"`
	Queries           int64 `json:"queries"`
	Baselines         int64 `json:"baselines"`
	QueryLogConfig    int64 `json:"query_log_config"`
	DiscoveredSchemas int64 `json:"discovered_schemas"`
	SchemaChanges     int64 `json:"schema_changes"`
	DataQualityIssues int64 `json:"data_quality_issues"`
	Agents            int64 `json:"agents"`
}

// DeleteAgentData removes an agent and all derived data in a single
// transaction. Deletes run leaf-first (errors, drift, evaluations) so the
// plan holds even without ON DELETE CASCADE on the monitoring tables.
// Deadlocks against concurrent pipeline upserts re-run the transaction.
func (db *DB) DeleteAgentData(ctx context.Context, agentID int64, agentType string) (DeleteAgentResult, error) {
	var result DeleteAgentResult
	err := withTxRetry(ctx, func() error {
		var txErr error
		result, txErr = db.deleteAgentData(ctx, agentID, agentType)
		return txErr
	})
	return result, err
}

func (db *DB) deleteAgentData(ctx context.Context, agentID int64, agentType string) (DeleteAgentResult, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var result DeleteAgentResult

	tag, err := tx.Exec(ctx,
		`DELETE FROM monitoring.errors WHERE query_id IN
		 (SELECT query_id FROM monitoring.queries WHERE agent_type = $1)`, agentType)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete errors: %w", err)
	}
	result.Errors = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM monitoring.drift_monitoring WHERE query_id IN
		 (SELECT query_id FROM monitoring.queries WHERE agent_type = $1)`, agentType)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete drift: %w", err)
	}
	result.Drift = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM monitoring.evaluations WHERE agent_type = $1`, agentType)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete evaluations: %w", err)
	}
	result.Evaluations = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM monitoring.queries WHERE agent_type = $1`, agentType)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete queries: %w", err)
	}
	result.Queries = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM monitoring.baseline WHERE agent_type = $1`, agentType)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete baselines: %w", err)
	}
	result.Baselines = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM platform.query_log_config WHERE agent_id = $1`, agentID)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete query log config: %w", err)
	}
	result.QueryLogConfig = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM platform.discovered_schemas WHERE agent_id = $1`, agentID)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete discovered schemas: %w", err)
	}
	result.DiscoveredSchemas = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM platform.schema_changes WHERE agent_id = $1`, agentID)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete schema changes: %w", err)
	}
	result.SchemaChanges = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM platform.data_quality_issues WHERE agent_id = $1`, agentID)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete data quality issues: %w", err)
	}
	result.DataQualityIssues = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM platform.agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: delete agent: %w", err)
	}
	result.Agents = tag.RowsAffected()
	if result.Agents == 0 {
		return DeleteAgentResult{}, fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return DeleteAgentResult{}, fmt.Errorf("storage: commit delete tx: %w", err)
	}

	return result, nil
}
