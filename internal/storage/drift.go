package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/tessen-ai/kanshi/internal/model"
)

// UpsertDrift stores the drift measurement for a query (1:1 by query_id).
func (db *DB) UpsertDrift(ctx context.Context, d model.DriftRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO monitoring.drift_monitoring
		 (query_id, query_embedding, drift_score, drift_classification, similarity_to_baseline, is_anomaly)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (query_id) DO UPDATE SET
		   query_embedding = EXCLUDED.query_embedding,
		   drift_score = EXCLUDED.drift_score,
		   drift_classification = EXCLUDED.drift_classification,
		   similarity_to_baseline = EXCLUDED.similarity_to_baseline,
		   is_anomaly = EXCLUDED.is_anomaly`,
		d.QueryID, d.QueryEmbedding, d.DriftScore, string(d.DriftClassification),
		d.SimilarityToBaseline, d.IsAnomaly,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert drift: %w", err)
	}
	return nil
}

// GetDrift retrieves the drift record for a query.
func (db *DB) GetDrift(ctx context.Context, queryID string) (model.DriftRecord, error) {
	var d model.DriftRecord
	err := db.pool.QueryRow(ctx,
		`SELECT query_id, drift_score, drift_classification, similarity_to_baseline, is_anomaly, created_at
		 FROM monitoring.drift_monitoring WHERE query_id = $1`, queryID,
	).Scan(&d.QueryID, &d.DriftScore, &d.DriftClassification, &d.SimilarityToBaseline, &d.IsAnomaly, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DriftRecord{}, fmt.Errorf("storage: drift %s: %w", queryID, ErrNotFound)
		}
		return model.DriftRecord{}, fmt.Errorf("storage: get drift: %w", err)
	}
	return d, nil
}

// InsertBaseline stores a new baseline at the next version for the agent.
func (db *DB) InsertBaseline(ctx context.Context, b model.Baseline) (model.Baseline, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO monitoring.baseline (agent_type, version, centroid_embedding, embedding_dim, num_queries)
		 VALUES ($1,
		         COALESCE((SELECT max(version) FROM monitoring.baseline WHERE agent_type = $1), 0) + 1,
		         $2, $3, $4)
		 RETURNING id, version, created_at`,
		b.AgentType, b.Centroid, b.EmbeddingDim, b.NumQueries,
	).Scan(&b.ID, &b.Version, &b.CreatedAt)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("storage: insert baseline: %w", err)
	}
	return b, nil
}

// LatestBaseline returns the highest-version baseline for an agent.
func (db *DB) LatestBaseline(ctx context.Context, agentType string) (model.Baseline, error) {
	var b model.Baseline
	var centroid pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_type, version, centroid_embedding, embedding_dim, num_queries, created_at
		 FROM monitoring.baseline WHERE agent_type = $1
		 ORDER BY version DESC LIMIT 1`, agentType,
	).Scan(&b.ID, &b.AgentType, &b.Version, &centroid, &b.EmbeddingDim, &b.NumQueries, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Baseline{}, fmt.Errorf("storage: baseline %q: %w", agentType, ErrNotFound)
		}
		return model.Baseline{}, fmt.Errorf("storage: latest baseline: %w", err)
	}
	b.Centroid = centroid
	return b, nil
}

// CountHighDriftSince counts anomalies for an agent in the trailing window.
func (db *DB) CountHighDriftSince(ctx context.Context, agentType string, since time.Time) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM monitoring.drift_monitoring d
		 JOIN monitoring.queries q ON q.query_id = d.query_id
		 WHERE q.agent_type = $1 AND d.is_anomaly AND d.created_at > $2`,
		agentType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count high drift: %w", err)
	}
	return count, nil
}
