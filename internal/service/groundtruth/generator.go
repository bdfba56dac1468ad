// Package groundtruth generates per-agent evaluation corpora: LLM-written
// (question, SQL) pairs executed against the agent's own database and stored
// as a versioned artifact.
package groundtruth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/llm"
	"github.com/tessen-ai/kanshi/internal/service/match"
	"github.com/tessen-ai/kanshi/internal/storage"
)

const (
	// totalQueries is the full-generation corpus size, produced in
	// numBatches LLM calls so one bad response cannot sink the run.
	totalQueries = 100
	numBatches   = 4

	// maxAttempts full-generation attempts with backoff between them.
	maxAttempts    = 3
	initialBackoff = 5 * time.Second

	// gtExecTimeout bounds each validation execution; artifacts keep at
	// most maxStoredRows rows per query.
	gtExecTimeout      = 5 * time.Second
	maxStoredRows      = 20
	sampleRowsPerTable = 5
)

// Generator produces and stores ground-truth artifacts.
type Generator struct {
	db       *storage.DB
	store    Store
	provider llm.Provider
	detector *drift.Detector
	matcher  *match.Matcher
	logger   *slog.Logger
}

// NewGenerator wires a Generator.
func NewGenerator(db *storage.DB, store Store, provider llm.Provider, detector *drift.Detector, matcher *match.Matcher, logger *slog.Logger) *Generator {
	return &Generator{
		db:       db,
		store:    store,
		provider: provider,
		detector: detector,
		matcher:  matcher,
		logger:   logger.With("component", "groundtruth"),
	}
}

// Generate runs full ground-truth generation for an agent with retries.
// Status moves in_progress -> success on the first attempt that completes;
// after maxAttempts failures the agent is marked failed with the last error.
func (g *Generator) Generate(ctx context.Context, agent model.Agent) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = g.generateOnce(ctx, agent)
		if lastErr == nil {
			if err := g.db.ResetGTRetry(ctx, agent.AgentID); err != nil {
				g.logger.Warn("reset gt retry count failed", "agent", agent.AgentName, "error", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		g.logger.Warn("ground truth generation attempt failed",
			"agent", agent.AgentName, "attempt", attempt, "error", lastErr)
		if _, err := g.db.IncrementGTRetry(ctx, agent.AgentID); err != nil {
			g.logger.Warn("increment gt retry count failed", "agent", agent.AgentName, "error", err)
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				attempt = maxAttempts
			}
			backoff *= 2
		}
	}

	msg := lastErr.Error()
	if err := g.db.UpdateAgentGTStatus(ctx, agent.AgentID, model.GTFailed, &msg, 0); err != nil {
		g.logger.Error("update gt status failed", "agent", agent.AgentName, "error", err)
	}
	return fmt.Errorf("groundtruth: generation for %s: %w", agent.AgentName, lastErr)
}

func (g *Generator) generateOnce(ctx context.Context, agent model.Agent) error {
	if err := g.db.UpdateAgentGTStatus(ctx, agent.AgentID, model.GTInProgress, nil, 0); err != nil {
		return fmt.Errorf("mark in_progress: %w", err)
	}

	conn, err := agentdb.Open(ctx, agent.DBURL, g.logger)
	if err != nil {
		return fmt.Errorf("connect agent db: %w", err)
	}
	defer conn.Close(ctx)

	cols, err := g.db.ListDiscoveredSchema(ctx, agent.AgentID)
	if err != nil {
		return fmt.Errorf("load discovered schema: %w", err)
	}
	if len(cols) == 0 {
		if cols, err = conn.DiscoverSchema(ctx); err != nil {
			return fmt.Errorf("discover schema: %w", err)
		}
	}
	if len(cols) == 0 {
		return fmt.Errorf("agent database has no discoverable tables")
	}

	rels, err := conn.DiscoverRelationships(ctx, cols)
	if err != nil {
		g.logger.Warn("relationship discovery failed", "agent", agent.AgentName, "error", err)
		rels = nil
	}
	samples := g.collectSamples(ctx, conn, cols)

	perBatch := totalQueries / numBatches
	g.logger.Info("generating ground truth",
		"agent", agent.AgentName, "queries", totalQueries, "batches", numBatches)

	var generated []generatedQuery
	failedBatches := 0
	for batch := 0; batch < numBatches; batch++ {
		prompt := buildGenerationPrompt(agent.AgentName, conn.Dialect(), cols, rels, samples, perBatch)
		raw, err := g.provider.Complete(ctx, generationSystemPrompt, prompt)
		if err != nil {
			g.logger.Warn("generation batch failed", "agent", agent.AgentName, "batch", batch+1, "error", err)
			failedBatches++
			continue
		}
		qs, err := parseGeneratedQueries(raw)
		if err != nil {
			g.logger.Warn("generation batch unparseable", "agent", agent.AgentName, "batch", batch+1, "error", err)
			failedBatches++
			continue
		}
		generated = append(generated, qs...)
	}
	if len(generated) == 0 {
		return fmt.Errorf("all %d generation batches failed", numBatches)
	}
	if failedBatches > 0 {
		g.logger.Warn("partial generation", "agent", agent.AgentName,
			"failed_batches", failedBatches, "queries", len(generated))
	}

	artifact := g.validateAndAssemble(ctx, conn, agent, generated, 1)
	filename := ArtifactFilename(agent.AgentName)
	if err := g.store.Save(ctx, filename, artifact); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	if err := g.db.UpdateAgentGTStatus(ctx, agent.AgentID, model.GTSuccess, nil, artifact.Metadata.SuccessCount); err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	g.logger.Info("ground truth generated", "agent", agent.AgentName,
		"total", artifact.TotalQueries,
		"success", artifact.Metadata.SuccessCount, "failed", artifact.Metadata.FailCount)

	g.postSuccess(ctx, agent, artifact)
	return nil
}

// validateAndAssemble executes every generated query against the agent DB
// and packs the outcomes into an artifact. Ids start at startID so
// incremental runs can append without collisions.
func (g *Generator) validateAndAssemble(ctx context.Context, conn *agentdb.Conn, agent model.Agent, generated []generatedQuery, startID int) *model.GroundTruthArtifact {
	now := time.Now().UTC()
	queries := make([]model.GroundTruthQuery, 0, len(generated))
	success, failed := 0, 0

	for i, gq := range generated {
		q := model.GroundTruthQuery{
			ID:              startID + i,
			NaturalLanguage: gq.NaturalLanguage,
			SQL:             gq.SQL,
			Complexity:      gq.Complexity,
			GeneratedAt:     now,
		}
		res, err := conn.ExecuteSQL(ctx, gq.SQL, gtExecTimeout, 0)
		if err != nil {
			msg := err.Error()
			q.GenerationError = &msg
			failed++
		} else {
			rows := res.Rows
			if len(rows) > maxStoredRows {
				rows = rows[:maxStoredRows]
			}
			q.ExpectedOutput = &model.ExpectedOutput{
				Columns:         res.Columns,
				RowCount:        res.RowCount,
				SampleRows:      rows,
				ExecutionTimeMS: res.ExecutionTimeMS,
			}
			success++
		}
		queries = append(queries, q)
	}

	return &model.GroundTruthArtifact{
		AgentID:      agent.AgentID,
		AgentName:    agent.AgentName,
		TotalQueries: len(queries),
		Queries:      queries,
		Metadata: model.ArtifactMetadata{
			GeneratedAt:  now,
			SuccessCount: success,
			FailCount:    failed,
		},
	}
}

// postSuccess builds the drift baseline from the fresh corpus and loads the
// in-memory matcher. Both are best-effort; the artifact is already saved.
func (g *Generator) postSuccess(ctx context.Context, agent model.Agent, artifact *model.GroundTruthArtifact) {
	if g.detector != nil {
		nl := make([]string, 0, len(artifact.Queries))
		for _, q := range artifact.Queries {
			if q.NaturalLanguage != "" {
				nl = append(nl, q.NaturalLanguage)
			}
		}
		if _, err := g.detector.BuildBaseline(ctx, agent.NormalizedName(), nl); err != nil {
			g.logger.Warn("baseline build failed", "agent", agent.AgentName, "error", err)
		}
	}
	if g.matcher != nil {
		if err := g.matcher.Load(ctx, agent.NormalizedName(), artifact.Queries); err != nil {
			g.logger.Warn("matcher load failed", "agent", agent.AgentName, "error", err)
		}
	}
}

// collectSamples pulls a few rows from each discovered table. Per-table
// failures are skipped; the prompt degrades gracefully.
func (g *Generator) collectSamples(ctx context.Context, conn *agentdb.Conn, cols []model.DiscoveredColumn) []TableSample {
	type tableKey struct{ schema, table string }
	seen := map[tableKey]bool{}
	var samples []TableSample
	for _, c := range cols {
		k := tableKey{c.SchemaName, c.TableName}
		if seen[k] {
			continue
		}
		seen[k] = true

		columns, rows, err := conn.SampleRows(ctx, k.schema, k.table, sampleRowsPerTable)
		if err != nil {
			g.logger.Debug("sample rows failed", "table", k.schema+"."+k.table, "error", err)
			continue
		}
		samples = append(samples, TableSample{
			Schema:  k.schema,
			Table:   k.table,
			Columns: columns,
			Rows:    rows,
		})
	}
	return samples
}

// generatedQuery is the shape the model is asked to emit.
type generatedQuery struct {
	NaturalLanguage string `json:"natural_language"`
	SQL             string `json:"sql"`
	Complexity      string `json:"complexity,omitempty"`
}

// parseGeneratedQueries extracts the JSON array from a model response,
// tolerating markdown fences and prose around it. Entries missing either
// field are dropped.
func parseGeneratedQueries(raw string) ([]generatedQuery, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "```") {
		if parts := strings.SplitN(s, "```", 3); len(parts) >= 2 {
			s = strings.TrimPrefix(strings.TrimSpace(parts[1]), "json")
		}
	}
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("groundtruth: no JSON array in response")
	}

	var all []generatedQuery
	if err := json.Unmarshal([]byte(s[start:end+1]), &all); err != nil {
		return nil, fmt.Errorf("groundtruth: decode response: %w", err)
	}

	valid := all[:0]
	for _, q := range all {
		q.NaturalLanguage = strings.TrimSpace(q.NaturalLanguage)
		q.SQL = strings.TrimSpace(q.SQL)
		if q.NaturalLanguage == "" || q.SQL == "" {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("groundtruth: response contained no usable queries")
	}
	return valid, nil
}
