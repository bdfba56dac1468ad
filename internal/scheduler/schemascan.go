package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/groundtruth"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// SchemaScanner re-discovers agent schemas on a fixed schedule, records
// additive changes, and tops up ground truth for whatever is new. Dropped
// tables and columns are deliberately not tracked; stale ground-truth
// queries simply start failing execution and lose their result weight.
type SchemaScanner struct {
	db     *storage.DB
	gen    *groundtruth.Generator
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSchemaScanner creates a scanner; call Start to schedule it.
func NewSchemaScanner(db *storage.DB, gen *groundtruth.Generator, logger *slog.Logger) *SchemaScanner {
	return &SchemaScanner{
		db:     db,
		gen:    gen,
		logger: logger.With("component", "schemascan"),
		cron:   cron.New(),
	}
}

// Start schedules scans every interval and starts the cron engine.
func (s *SchemaScanner) Start(ctx context.Context, every time.Duration) {
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		s.ScanAll(ctx)
	}))
	s.cron.Start()
	s.logger.Info("schema scan scheduled", "every", every)
}

// Stop halts the cron engine and waits for a running scan to finish.
func (s *SchemaScanner) Stop() {
	<-s.cron.Stop().Done()
}

// ScanAll scans every active agent.
func (s *SchemaScanner) ScanAll(ctx context.Context) {
	agents, err := s.db.ListAgents(ctx)
	if err != nil {
		s.logger.Error("schema scan: list agents", "error", err)
		return
	}
	for _, agent := range agents {
		if ctx.Err() != nil {
			return
		}
		if agent.Status != model.AgentActive {
			continue
		}
		if _, err := s.ScanAgent(ctx, agent); err != nil {
			s.logger.Error("schema scan failed", "agent", agent.AgentName, "error", err)
		}
	}
}

// ScanAgent re-discovers one agent's schema and returns the detected
// changes. Also used by the manual scan endpoint.
func (s *SchemaScanner) ScanAgent(ctx context.Context, agent model.Agent) ([]model.SchemaChange, error) {
	conn, err := agentdb.Open(ctx, agent.DBURL, s.logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler: connect agent db: %w", err)
	}
	defer conn.Close(ctx)

	fresh, err := conn.DiscoverSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: discover schema: %w", err)
	}
	stored, err := s.db.ListDiscoveredSchema(ctx, agent.AgentID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load stored schema: %w", err)
	}

	changes, newCols := diffSchemas(agent.AgentID, stored, fresh)
	if len(changes) > 0 {
		if err := s.db.InsertSchemaChanges(ctx, changes); err != nil {
			return nil, fmt.Errorf("scheduler: record changes: %w", err)
		}
		if err := s.db.ReplaceDiscoveredSchema(ctx, agent.AgentID, fresh); err != nil {
			return nil, fmt.Errorf("scheduler: persist schema: %w", err)
		}
		s.logger.Info("schema changes detected",
			"agent", agent.AgentName, "changes", len(changes))

		s.generateForChanges(ctx, agent, newCols)
	}

	if err := s.db.UpdateAgentSchemaScan(ctx, agent.AgentID, len(changes)); err != nil {
		return changes, fmt.Errorf("scheduler: update scan bookkeeping: %w", err)
	}
	return changes, nil
}

// generateForChanges tops up ground truth for new columns and marks the
// pending change rows as covered. Best-effort: a failed generation leaves
// the rows pending for the next scan.
func (s *SchemaScanner) generateForChanges(ctx context.Context, agent model.Agent, newCols []model.DiscoveredColumn) {
	count, err := s.gen.GenerateIncremental(ctx, agent, newCols)
	if err != nil {
		s.logger.Warn("incremental generation failed", "agent", agent.AgentName, "error", err)
		return
	}
	if count == 0 {
		return
	}

	recorded, err := s.db.ListSchemaChanges(ctx, agent.AgentID, 0)
	if err != nil {
		s.logger.Warn("list schema changes failed", "agent", agent.AgentName, "error", err)
		return
	}
	var pending []int64
	for _, ch := range recorded {
		if !ch.GTGenerated {
			pending = append(pending, ch.ID)
		}
	}
	if err := s.db.MarkSchemaChangesGenerated(ctx, pending, count); err != nil {
		s.logger.Warn("mark changes generated failed", "agent", agent.AgentName, "error", err)
	}
}

// diffSchemas returns additive changes between the stored snapshot and a
// fresh discovery: whole new tables and new columns on known tables.
func diffSchemas(agentID int64, stored, fresh []model.DiscoveredColumn) ([]model.SchemaChange, []model.DiscoveredColumn) {
	knownCols := map[string]bool{}
	knownTables := map[string]bool{}
	for _, c := range stored {
		knownCols[c.SchemaName+"."+c.TableName+"."+c.ColumnName] = true
		knownTables[c.SchemaName+"."+c.TableName] = true
	}

	seenNewTable := map[string]bool{}
	var changes []model.SchemaChange
	var newCols []model.DiscoveredColumn
	for _, c := range fresh {
		if knownCols[c.SchemaName+"."+c.TableName+"."+c.ColumnName] {
			continue
		}
		newCols = append(newCols, c)

		tableKey := c.SchemaName + "." + c.TableName
		if !knownTables[tableKey] {
			if !seenNewTable[tableKey] {
				seenNewTable[tableKey] = true
				changes = append(changes, model.SchemaChange{
					AgentID:    agentID,
					ChangeType: "table_added",
					SchemaName: c.SchemaName,
					TableName:  c.TableName,
				})
			}
			continue
		}

		col := c.ColumnName
		dt := c.DataType
		changes = append(changes, model.SchemaChange{
			AgentID:    agentID,
			ChangeType: "column_added",
			SchemaName: c.SchemaName,
			TableName:  c.TableName,
			ColumnName: &col,
			DataType:   &dt,
		})
	}
	return changes, newCols
}
