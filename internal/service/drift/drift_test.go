package drift

import (
	"log/slog"
	"math"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/model"
)

func newDetector() *Detector {
	return NewDetector(nil, nil, 0.5, 0.3, slog.Default())
}

func TestClassifyBands(t *testing.T) {
	d := newDetector()
	tests := []struct {
		similarity  float64
		wantClass   model.DriftClass
		wantAnomaly bool
	}{
		{1.0, model.DriftNormal, false},
		{0.71, model.DriftNormal, false},
		{0.70, model.DriftNormal, false}, // boundary: sim >= 1-medium
		{0.69, model.DriftMedium, false},
		{0.51, model.DriftMedium, false},
		{0.50, model.DriftMedium, false}, // boundary: sim >= 1-high
		{0.49, model.DriftHigh, true},
		{0.0, model.DriftHigh, true},
		{-0.2, model.DriftHigh, true},
	}
	for _, tt := range tests {
		class, anomaly := d.Classify(tt.similarity)
		assert.Equal(t, tt.wantClass, class, "similarity %v", tt.similarity)
		assert.Equal(t, tt.wantAnomaly, anomaly, "similarity %v", tt.similarity)
	}
}

func TestCentroid(t *testing.T) {
	vecs := []pgvector.Vector{
		pgvector.NewVector([]float32{1, 0, 0}),
		pgvector.NewVector([]float32{0, 1, 0}),
	}
	c, err := Centroid(vecs)
	require.NoError(t, err)
	got := c.Slice()
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.InDelta(t, 0.5, got[1], 1e-6)
	assert.InDelta(t, 0.0, got[2], 1e-6)
}

func TestCentroidZeroNorm(t *testing.T) {
	vecs := []pgvector.Vector{
		pgvector.NewVector([]float32{0, 0}),
		pgvector.NewVector([]float32{0, 0}),
	}
	_, err := Centroid(vecs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero-norm")
}

func TestCentroidOpposingVectorsCancel(t *testing.T) {
	vecs := []pgvector.Vector{
		pgvector.NewVector([]float32{1, 0}),
		pgvector.NewVector([]float32{-1, 0}),
	}
	_, err := Centroid(vecs)
	assert.Error(t, err)
}

func TestCentroidMixedDimensions(t *testing.T) {
	vecs := []pgvector.Vector{
		pgvector.NewVector([]float32{1, 0}),
		pgvector.NewVector([]float32{1, 0, 0}),
	}
	_, err := Centroid(vecs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mixed dimensions")
}

func TestCentroidEmpty(t *testing.T) {
	_, err := Centroid(nil)
	assert.Error(t, err)
}

func TestCentroidSingleVector(t *testing.T) {
	v := []float32{0.6, 0.8}
	c, err := Centroid([]pgvector.Vector{pgvector.NewVector(v)})
	require.NoError(t, err)
	got := c.Slice()
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)
	var norm float64
	for _, x := range got {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}
