// Package drift measures how far incoming prompts have moved from the
// agent's learned baseline of representative queries.
package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pgvector/pgvector-go"

	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/embedding"
	"github.com/tessen-ai/kanshi/internal/service/match"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// Detector classifies per-query drift against the latest baseline centroid.
type Detector struct {
	db       *storage.DB
	provider embedding.Provider
	logger   *slog.Logger

	// Band boundaries on the drift score (1 - similarity).
	highThreshold   float64
	mediumThreshold float64
}

// NewDetector creates a drift detector with the given band thresholds.
func NewDetector(db *storage.DB, provider embedding.Provider, high, medium float64, logger *slog.Logger) *Detector {
	if high <= 0 {
		high = 0.5
	}
	if medium <= 0 {
		medium = 0.3
	}
	return &Detector{
		db:              db,
		provider:        provider,
		logger:          logger,
		highThreshold:   high,
		mediumThreshold: medium,
	}
}

// Detect embeds the prompt, compares it with the agent's latest baseline,
// and persists the drift record. Missing baselines and dimension mismatches
// produce sentinel classifications instead of errors so the pipeline never
// stalls on an unprepared agent.
func (d *Detector) Detect(ctx context.Context, queryID, agentType, prompt string) (model.DriftRecord, error) {
	rec := model.DriftRecord{QueryID: queryID}

	vec, err := d.provider.Embed(ctx, prompt)
	if err != nil {
		return rec, fmt.Errorf("drift: embed query: %w", err)
	}
	rec.QueryEmbedding = &vec

	baseline, err := d.db.LatestBaseline(ctx, agentType)
	switch {
	case err == nil:
	case isNotFound(err):
		// Sentinel rows carry a NULL embedding: the query_embedding column
		// is fixed-width, and a vector the provider sized differently would
		// make the insert itself fail, losing the sentinel.
		rec.QueryEmbedding = nil
		rec.DriftClassification = model.DriftNoBaseline
		return rec, d.db.UpsertDrift(ctx, rec)
	default:
		return rec, err
	}

	if baseline.EmbeddingDim != len(vec.Slice()) {
		d.logger.Warn("drift: embedding dimension mismatch",
			"agent", agentType, "baseline_dim", baseline.EmbeddingDim, "query_dim", len(vec.Slice()))
		rec.QueryEmbedding = nil
		rec.DriftClassification = model.DriftDimensionMismatch
		return rec, d.db.UpsertDrift(ctx, rec)
	}

	sim := match.CosineSimilarity(vec.Slice(), baseline.Centroid.Slice())
	rec.SimilarityToBaseline = sim
	rec.DriftScore = 1 - sim
	rec.DriftClassification, rec.IsAnomaly = d.Classify(sim)

	return rec, d.db.UpsertDrift(ctx, rec)
}

// Classify maps a similarity to a drift band. Anomaly is reserved for the
// high band.
func (d *Detector) Classify(similarity float64) (model.DriftClass, bool) {
	switch {
	case similarity >= 1-d.mediumThreshold:
		return model.DriftNormal, false
	case similarity >= 1-d.highThreshold:
		return model.DriftMedium, false
	default:
		return model.DriftHigh, true
	}
}

// BuildBaseline embeds the given representative queries, averages them into
// a centroid, and stores it as the next baseline version for the agent.
// Zero-norm centroids (all embeddings zero, e.g. from the noop provider)
// are rejected rather than stored.
func (d *Detector) BuildBaseline(ctx context.Context, agentType string, queries []string) (model.Baseline, error) {
	if len(queries) == 0 {
		return model.Baseline{}, fmt.Errorf("drift: no queries to build baseline for %s", agentType)
	}

	vecs, err := d.provider.EmbedBatch(ctx, queries)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("drift: embed baseline queries: %w", err)
	}

	centroid, err := Centroid(vecs)
	if err != nil {
		return model.Baseline{}, fmt.Errorf("drift: baseline for %s: %w", agentType, err)
	}

	b := model.Baseline{
		AgentType:    agentType,
		Centroid:     centroid,
		EmbeddingDim: len(centroid.Slice()),
		NumQueries:   len(queries),
	}
	stored, err := d.db.InsertBaseline(ctx, b)
	if err != nil {
		return model.Baseline{}, err
	}
	d.logger.Info("drift: baseline rebuilt",
		"agent", agentType, "version", stored.Version, "queries", stored.NumQueries)
	return stored, nil
}

// Centroid averages embedding vectors. Returns an error when the mean has
// zero norm, which would make every similarity undefined.
func Centroid(vecs []pgvector.Vector) (pgvector.Vector, error) {
	if len(vecs) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty vector set")
	}
	dim := len(vecs[0].Slice())
	sum := make([]float64, dim)
	for _, v := range vecs {
		s := v.Slice()
		if len(s) != dim {
			return pgvector.Vector{}, fmt.Errorf("mixed dimensions %d and %d", dim, len(s))
		}
		for i, x := range s {
			sum[i] += float64(x)
		}
	}

	mean := make([]float32, dim)
	var norm float64
	for i := range sum {
		mean[i] = float32(sum[i] / float64(len(vecs)))
		norm += float64(mean[i]) * float64(mean[i])
	}
	if math.Sqrt(norm) == 0 {
		return pgvector.Vector{}, fmt.Errorf("zero-norm centroid")
	}
	return pgvector.NewVector(mean), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
