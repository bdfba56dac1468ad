// Package match finds the ground-truth query closest to an incoming prompt
// by cosine similarity over embeddings.
package match

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/embedding"
)

// DefaultThreshold is the minimum cosine similarity for a ground-truth hit.
// Below it the evaluator falls back to the heuristic path.
const DefaultThreshold = 0.95

// Match is a ground-truth query paired with its similarity to the prompt.
type Match struct {
	Query      model.GroundTruthQuery
	Similarity float64
}

// Matcher holds per-agent ground-truth embeddings in memory. Corpora are
// small (hundreds of queries) so exhaustive search beats maintaining an
// index, and reload on artifact regeneration is a single swap.
type Matcher struct {
	provider  embedding.Provider
	threshold float64

	mu     sync.RWMutex
	corpus map[string][]entry // keyed by normalized agent name
}

type entry struct {
	query model.GroundTruthQuery
	vec   []float32
}

// New creates a Matcher. A threshold of 0 selects DefaultThreshold.
func New(provider embedding.Provider, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{
		provider:  provider,
		threshold: threshold,
		corpus:    make(map[string][]entry),
	}
}

// Load embeds an agent's ground-truth corpus and swaps it in, replacing any
// previous corpus for that agent.
func (m *Matcher) Load(ctx context.Context, agent string, queries []model.GroundTruthQuery) error {
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.NaturalLanguage
	}
	vecs, err := m.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("match: embed corpus for %s: %w", agent, err)
	}

	entries := make([]entry, len(queries))
	for i := range queries {
		entries[i] = entry{query: queries[i], vec: vecs[i].Slice()}
	}

	m.mu.Lock()
	m.corpus[agent] = entries
	m.mu.Unlock()
	return nil
}

// Unload drops an agent's corpus, e.g. on agent deletion.
func (m *Matcher) Unload(agent string) {
	m.mu.Lock()
	delete(m.corpus, agent)
	m.mu.Unlock()
}

// CorpusSize returns the number of loaded ground-truth queries for an agent.
func (m *Matcher) CorpusSize(agent string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.corpus[agent])
}

// Best returns the closest ground-truth query at or above the threshold,
// or ok=false when the corpus is empty or nothing is close enough.
func (m *Matcher) Best(ctx context.Context, agent, prompt string) (Match, bool, error) {
	m.mu.RLock()
	entries := m.corpus[agent]
	m.mu.RUnlock()
	if len(entries) == 0 {
		return Match{}, false, nil
	}

	vec, err := m.provider.Embed(ctx, prompt)
	if err != nil {
		return Match{}, false, fmt.Errorf("match: embed prompt: %w", err)
	}
	return m.bestAgainst(entries, vec), true, nil
}

func (m *Matcher) bestAgainst(entries []entry, vec pgvector.Vector) Match {
	probe := vec.Slice()
	best := Match{Similarity: -1}
	for _, e := range entries {
		sim := CosineSimilarity(probe, e.vec)
		if sim > best.Similarity {
			best = Match{Query: e.query, Similarity: sim}
		}
	}
	if best.Similarity < m.threshold {
		return Match{Similarity: best.Similarity}
	}
	return best
}

// BestIsHit reports whether a Best result cleared the threshold.
func (m *Matcher) BestIsHit(match Match) bool {
	return match.Query.NaturalLanguage != "" && match.Similarity >= m.threshold
}

// CosineSimilarity computes cosine similarity between two vectors. Zero
// vectors and dimension mismatches yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
