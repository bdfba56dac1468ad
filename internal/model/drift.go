package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// DriftClass is the drift band assigned to one query.
type DriftClass string

const (
	DriftNormal            DriftClass = "normal"
	DriftMedium            DriftClass = "medium"
	DriftHigh              DriftClass = "high"
	DriftNoBaseline        DriftClass = "no_baseline"
	DriftDimensionMismatch DriftClass = "dimension_mismatch"
)

// DriftRecord is the per-query drift measurement (1:1, upsert by query_id).
// The invariant drift_score = 1 - similarity holds except for the
// no_baseline and dimension_mismatch classes, where both are zero.
type DriftRecord struct {
	QueryID              string           `json:"query_id"`
	QueryEmbedding       *pgvector.Vector `json:"-"`
	DriftScore           float64          `json:"drift_score"`
	DriftClassification  DriftClass       `json:"drift_classification"`
	SimilarityToBaseline float64          `json:"similarity_to_baseline"`
	IsAnomaly            bool             `json:"is_anomaly"`
	CreatedAt            time.Time        `json:"created_at"`
}

// Baseline is the learned centroid of representative queries for one agent.
// Only the highest version per agent_type is consulted by drift detection.
type Baseline struct {
	ID           int64           `json:"id"`
	AgentType    string          `json:"agent_type"`
	Version      int             `json:"version"`
	Centroid     pgvector.Vector `json:"-"`
	EmbeddingDim int             `json:"embedding_dim"`
	NumQueries   int             `json:"num_queries"`
	CreatedAt    time.Time       `json:"created_at"`
}
