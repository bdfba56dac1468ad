package groundtruth

import (
	"context"
	"fmt"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

const (
	queriesPerNewTable    = 10
	maxIncrementalQueries = 100
)

// GenerateIncremental appends queries covering newly discovered columns to
// the agent's existing artifact. It sizes the batch at queriesPerNewTable
// per new table, capped at maxIncrementalQueries, and returns how many
// queries were appended. Missing artifacts are created fresh so agents whose
// full generation never ran still get coverage.
func (g *Generator) GenerateIncremental(ctx context.Context, agent model.Agent, newCols []model.DiscoveredColumn) (int, error) {
	if len(newCols) == 0 {
		return 0, nil
	}

	type tableKey struct{ schema, table string }
	tables := map[tableKey]bool{}
	for _, c := range newCols {
		tables[tableKey{c.SchemaName, c.TableName}] = true
	}
	numQueries := len(tables) * queriesPerNewTable
	if numQueries > maxIncrementalQueries {
		numQueries = maxIncrementalQueries
	}

	conn, err := agentdb.Open(ctx, agent.DBURL, g.logger)
	if err != nil {
		return 0, fmt.Errorf("groundtruth: connect agent db: %w", err)
	}
	defer conn.Close(ctx)

	samples := g.collectSamples(ctx, conn, newCols)
	prompt := buildIncrementalPrompt(agent.AgentName, conn.Dialect(), newCols, samples, numQueries)

	raw, err := g.provider.Complete(ctx, generationSystemPrompt, prompt)
	if err != nil {
		return 0, fmt.Errorf("groundtruth: incremental generation: %w", err)
	}
	generated, err := parseGeneratedQueries(raw)
	if err != nil {
		return 0, err
	}

	filename := ArtifactFilename(agent.AgentName)
	artifact, ok, err := g.store.Load(ctx, filename)
	if err != nil {
		return 0, fmt.Errorf("groundtruth: load artifact: %w", err)
	}
	if !ok {
		artifact = &model.GroundTruthArtifact{
			AgentID:   agent.AgentID,
			AgentName: agent.AgentName,
			Metadata:  model.ArtifactMetadata{GeneratedAt: time.Now().UTC()},
		}
	}

	batch := g.validateAndAssemble(ctx, conn, agent, generated, len(artifact.Queries)+1)
	for i := range batch.Queries {
		batch.Queries[i].Incremental = true
	}

	artifact.Queries = append(artifact.Queries, batch.Queries...)
	artifact.TotalQueries = len(artifact.Queries)
	artifact.Metadata.SuccessCount += batch.Metadata.SuccessCount
	artifact.Metadata.FailCount += batch.Metadata.FailCount
	artifact.Metadata.IncrementalUpdates = append(artifact.Metadata.IncrementalUpdates, model.IncrementalUpdate{
		Timestamp:    time.Now().UTC(),
		QueryCount:   len(batch.Queries),
		SuccessCount: batch.Metadata.SuccessCount,
		FailCount:    batch.Metadata.FailCount,
	})

	if err := g.store.Save(ctx, filename, artifact); err != nil {
		return 0, fmt.Errorf("groundtruth: save artifact: %w", err)
	}

	g.logger.Info("incremental ground truth appended",
		"agent", agent.AgentName, "appended", len(batch.Queries),
		"success", batch.Metadata.SuccessCount, "total", artifact.TotalQueries)

	if g.matcher != nil {
		if err := g.matcher.Load(ctx, agent.NormalizedName(), artifact.Queries); err != nil {
			g.logger.Warn("matcher reload failed", "agent", agent.AgentName, "error", err)
		}
	}
	return len(batch.Queries), nil
}

// LoadCorpus reads an agent's artifact and loads its matcher corpus. Used at
// startup so semantic matching works without regenerating anything.
func (g *Generator) LoadCorpus(ctx context.Context, agent model.Agent) (int, error) {
	artifact, ok, err := g.store.Load(ctx, ArtifactFilename(agent.AgentName))
	if err != nil || !ok {
		return 0, err
	}
	if g.matcher != nil {
		if err := g.matcher.Load(ctx, agent.NormalizedName(), artifact.Queries); err != nil {
			return 0, err
		}
	}
	return len(artifact.Queries), nil
}

// Artifact exposes the stored artifact for read-API handlers.
func (g *Generator) Artifact(ctx context.Context, agentName string) (*model.GroundTruthArtifact, bool, error) {
	return g.store.Load(ctx, ArtifactFilename(agentName))
}
