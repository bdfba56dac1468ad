package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tessen-ai/kanshi/internal/model"
)

// InsertQuery stores one telemetry event. Replays of the same query_id are
// ignored so the pipeline stays idempotent under at-least-once delivery.
func (db *DB) InsertQuery(ctx context.Context, q model.Query) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.queries
		 (query_id, query_text, agent_type, status, generated_sql, error_message, execution_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (query_id) DO NOTHING`,
		q.QueryID, q.QueryText, q.AgentType, string(q.Status),
		q.GeneratedSQL, q.ErrorMessage, q.ExecutionTimeMS, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert query: %w", err)
	}
	return nil
}

// GetQuery retrieves one telemetry event by id.
func (db *DB) GetQuery(ctx context.Context, queryID string) (model.Query, error) {
	var q model.Query
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, query_text, agent_type, status, generated_sql, error_message, execution_time_ms, created_at
		 FROM monitoring.queries WHERE query_id = $1`, queryID,
	).Scan(&q.QueryID, &q.QueryText, &q.AgentType, &q.Status, &q.GeneratedSQL, &q.ErrorMessage, &q.ExecutionTimeMS, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Query{}, fmt.Errorf("storage: query %s: %w", queryID, ErrNotFound)
		}
		return model.Query{}, fmt.Errorf("storage: get query: %w", err)
	}
	return q, nil
}

// ListRecentQueryTexts returns up to limit successful query texts for an
// agent, most recent first. Used to rebuild drift baselines.
func (db *DB) ListRecentQueryTexts(ctx context.Context, agentType string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT query_text FROM monitoring.queries
		 WHERE agent_type = $1 AND status = 'success'
		 ORDER BY created_at DESC LIMIT $2`,
		agentType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent query texts: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("storage: scan query text: %w", err)
		}
		texts = append(texts, t)
	}
	return texts, rows.Err()
}

// CountQueriesSince returns how many events arrived for an agent after the
// given time. The health checker uses this to distinguish a quiet agent
// from a broken SDK.
func (db *DB) CountQueriesSince(ctx context.Context, agentType string, since time.Time) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM monitoring.queries WHERE agent_type = $1 AND created_at > $2`,
		agentType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count queries since: %w", err)
	}
	return count, nil
}

// LatestQueryTime returns the newest event timestamp for an agent, or
// ErrNotFound when the agent has no telemetry at all.
func (db *DB) LatestQueryTime(ctx context.Context, agentType string) (time.Time, error) {
	var ts *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT max(created_at) FROM monitoring.queries WHERE agent_type = $1`, agentType,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: latest query time: %w", err)
	}
	if ts == nil {
		return time.Time{}, fmt.Errorf("storage: agent %q telemetry: %w", agentType, ErrNotFound)
	}
	return *ts, nil
}
