package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tessen-ai/kanshi/internal/model"
)

// ReplaceDiscoveredSchema replaces the stored schema snapshot for an agent
// in a single transaction. Discovery always produces the full picture, so a
// wholesale replace keeps the snapshot authoritative.
func (db *DB) ReplaceDiscoveredSchema(ctx context.Context, agentID int64, cols []model.DiscoveredColumn) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM platform.discovered_schemas WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("storage: clear discovered schema: %w", err)
	}

	for _, c := range cols {
		if _, err := tx.Exec(ctx,
			`INSERT INTO platform.discovered_schemas
			 (agent_id, schema_name, table_name, column_name, data_type, is_nullable)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (agent_id, schema_name, table_name, column_name) DO UPDATE SET
			   data_type = EXCLUDED.data_type,
			   is_nullable = EXCLUDED.is_nullable`,
			agentID, c.SchemaName, c.TableName, c.ColumnName, c.DataType, c.IsNullable,
		); err != nil {
			return fmt.Errorf("storage: insert discovered column: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace schema tx: %w", err)
	}
	return nil
}

// ListDiscoveredSchema returns the stored schema snapshot for an agent.
func (db *DB) ListDiscoveredSchema(ctx context.Context, agentID int64) ([]model.DiscoveredColumn, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT agent_id, schema_name, table_name, column_name, COALESCE(data_type, ''), is_nullable, discovered_at
		 FROM platform.discovered_schemas WHERE agent_id = $1
		 ORDER BY schema_name, table_name, column_name`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list discovered schema: %w", err)
	}
	defer rows.Close()

	var cols []model.DiscoveredColumn
	for rows.Next() {
		var c model.DiscoveredColumn
		if err := rows.Scan(&c.AgentID, &c.SchemaName, &c.TableName, &c.ColumnName, &c.DataType, &c.IsNullable, &c.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("storage: scan discovered column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// UpsertQueryLogConfig stores the detected query-log table for an agent.
func (db *DB) UpsertQueryLogConfig(ctx context.Context, c model.QueryLogConfig) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO platform.query_log_config
		 (agent_id, schema_name, table_name, query_text_column, sql_column, timestamp_column,
		  status_column, error_column, id_column)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   schema_name = EXCLUDED.schema_name,
		   table_name = EXCLUDED.table_name,
		   query_text_column = EXCLUDED.query_text_column,
		   sql_column = EXCLUDED.sql_column,
		   timestamp_column = EXCLUDED.timestamp_column,
		   status_column = EXCLUDED.status_column,
		   error_column = EXCLUDED.error_column,
		   id_column = EXCLUDED.id_column,
		   detected_at = now()`,
		c.AgentID, c.SchemaName, c.TableName, c.QueryTextColumn, c.SQLColumn, c.TimestampColumn,
		c.StatusColumn, c.ErrorColumn, c.IDColumn,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert query log config: %w", err)
	}
	return nil
}

// GetQueryLogConfig returns the query-log config for an agent, or ErrNotFound
// when no log table was detected.
func (db *DB) GetQueryLogConfig(ctx context.Context, agentID int64) (model.QueryLogConfig, error) {
	var c model.QueryLogConfig
	err := db.pool.QueryRow(ctx,
		`SELECT agent_id, schema_name, table_name, query_text_column, sql_column, timestamp_column,
		        status_column, error_column, id_column, last_seen_timestamp, last_seen_id, detected_at
		 FROM platform.query_log_config WHERE agent_id = $1`, agentID,
	).Scan(
		&c.AgentID, &c.SchemaName, &c.TableName, &c.QueryTextColumn, &c.SQLColumn, &c.TimestampColumn,
		&c.StatusColumn, &c.ErrorColumn, &c.IDColumn, &c.LastSeenTimestamp, &c.LastSeenID, &c.DetectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.QueryLogConfig{}, fmt.Errorf("storage: query log config %d: %w", agentID, ErrNotFound)
		}
		return model.QueryLogConfig{}, fmt.Errorf("storage: get query log config: %w", err)
	}
	return c, nil
}

// AdvanceQueryLogWatermark moves the poller watermark forward. The watermark
// only ever advances; a stale caller cannot rewind it.
func (db *DB) AdvanceQueryLogWatermark(ctx context.Context, agentID int64, ts time.Time, lastID *string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.query_log_config
		 SET last_seen_timestamp = GREATEST(COALESCE(last_seen_timestamp, 'epoch'::timestamptz), $1),
		     last_seen_id = COALESCE($2, last_seen_id)
		 WHERE agent_id = $3`,
		ts, lastID, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: advance watermark: %w", err)
	}
	return nil
}

// InsertSchemaChanges appends detected schema changes.
func (db *DB) InsertSchemaChanges(ctx context.Context, changes []model.SchemaChange) error {
	for _, ch := range changes {
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO platform.schema_changes
			 (agent_id, change_type, schema_name, table_name, column_name, data_type)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			ch.AgentID, ch.ChangeType, ch.SchemaName, ch.TableName, ch.ColumnName, ch.DataType,
		); err != nil {
			return fmt.Errorf("storage: insert schema change: %w", err)
		}
	}
	return nil
}

// MarkSchemaChangesGenerated records that incremental ground truth was
// produced for the given change rows.
func (db *DB) MarkSchemaChangesGenerated(ctx context.Context, ids []int64, queryCount int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.schema_changes
		 SET gt_generated = true, gt_query_count = $1
		 WHERE id = ANY($2)`,
		queryCount, ids,
	)
	if err != nil {
		return fmt.Errorf("storage: mark schema changes generated: %w", err)
	}
	return nil
}

// ListSchemaChanges returns detected changes for an agent, newest first.
func (db *DB) ListSchemaChanges(ctx context.Context, agentID int64, limit int) ([]model.SchemaChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, change_type, schema_name, table_name, column_name, data_type,
		        gt_generated, gt_query_count, detected_at
		 FROM platform.schema_changes WHERE agent_id = $1
		 ORDER BY detected_at DESC LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list schema changes: %w", err)
	}
	defer rows.Close()

	var out []model.SchemaChange
	for rows.Next() {
		var ch model.SchemaChange
		if err := rows.Scan(&ch.ID, &ch.AgentID, &ch.ChangeType, &ch.SchemaName, &ch.TableName,
			&ch.ColumnName, &ch.DataType, &ch.GTGenerated, &ch.GTQueryCount, &ch.DetectedAt); err != nil {
			return nil, fmt.Errorf("storage: scan schema change: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// InsertDataQualityIssues appends validation findings for an agent.
func (db *DB) InsertDataQualityIssues(ctx context.Context, issues []model.DataQualityIssue) error {
	for _, i := range issues {
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO platform.data_quality_issues
			 (agent_id, schema_name, table_name, column_name, issue_type, detail, severity)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			i.AgentID, i.SchemaName, i.TableName, i.ColumnName, i.IssueType, i.Detail, i.Severity,
		); err != nil {
			return fmt.Errorf("storage: insert data quality issue: %w", err)
		}
	}
	return nil
}

// ListDataQualityIssues returns validation findings for an agent, newest first.
func (db *DB) ListDataQualityIssues(ctx context.Context, agentID int64, limit int) ([]model.DataQualityIssue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, schema_name, table_name, column_name, issue_type, COALESCE(detail, ''), severity, detected_at
		 FROM platform.data_quality_issues WHERE agent_id = $1
		 ORDER BY detected_at DESC LIMIT $2`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list data quality issues: %w", err)
	}
	defer rows.Close()

	var out []model.DataQualityIssue
	for rows.Next() {
		var i model.DataQualityIssue
		if err := rows.Scan(&i.ID, &i.AgentID, &i.SchemaName, &i.TableName, &i.ColumnName,
			&i.IssueType, &i.Detail, &i.Severity, &i.DetectedAt); err != nil {
			return nil, fmt.Errorf("storage: scan data quality issue: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
