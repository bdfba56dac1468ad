package match

import (
	"context"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/model"
)

// stubProvider maps exact texts to fixed vectors.
type stubProvider struct {
	vecs map[string][]float32
	dims int
}

func (s *stubProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	if v, ok := s.vecs[text]; ok {
		return pgvector.NewVector(v), nil
	}
	return pgvector.NewVector(make([]float32, s.dims)), nil
}

func (s *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubProvider) Dimensions() int { return s.dims }

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 0}))
}

func TestMatcherBest(t *testing.T) {
	provider := &stubProvider{dims: 2, vecs: map[string][]float32{
		"show all orders":          {1, 0},
		"count customers":          {0, 1},
		"show me all the orders":   {0.999, 0.04},
		"how is the weather today": {0.7, 0.7},
	}}
	m := New(provider, 0.95)

	corpus := []model.GroundTruthQuery{
		{ID: 1, NaturalLanguage: "show all orders", SQL: "SELECT * FROM orders"},
		{ID: 2, NaturalLanguage: "count customers", SQL: "SELECT COUNT(*) FROM customers"},
	}
	require.NoError(t, m.Load(context.Background(), "orders_agent", corpus))
	assert.Equal(t, 2, m.CorpusSize("orders_agent"))

	// Near-identical prompt clears the threshold.
	match, loaded, err := m.Best(context.Background(), "orders_agent", "show me all the orders")
	require.NoError(t, err)
	require.True(t, loaded)
	assert.True(t, m.BestIsHit(match))
	assert.Equal(t, 1, match.Query.ID)
	assert.Greater(t, match.Similarity, 0.95)

	// Distant prompt falls below the threshold.
	match, loaded, err = m.Best(context.Background(), "orders_agent", "how is the weather today")
	require.NoError(t, err)
	require.True(t, loaded)
	assert.False(t, m.BestIsHit(match))
}

func TestMatcherEmptyCorpus(t *testing.T) {
	m := New(&stubProvider{dims: 2}, 0)
	_, loaded, err := m.Best(context.Background(), "unknown_agent", "anything")
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestMatcherUnload(t *testing.T) {
	provider := &stubProvider{dims: 2, vecs: map[string][]float32{"q": {1, 0}}}
	m := New(provider, 0)
	require.NoError(t, m.Load(context.Background(), "a", []model.GroundTruthQuery{{ID: 1, NaturalLanguage: "q"}}))
	assert.Equal(t, 1, m.CorpusSize("a"))
	m.Unload("a")
	assert.Zero(t, m.CorpusSize("a"))
}
