// Package scheduler runs the recurring background jobs: the query-log poller
// and the periodic schema scan.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/pipeline"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// Poller tails agent-side query-log tables for agents whose SDK does not
// push telemetry. Each agent advances on its own poll_interval_s; the cycle
// tick just decides who is due.
type Poller struct {
	db     *storage.DB
	pipe   *pipeline.Pipeline
	logger *slog.Logger
}

// NewPoller creates a Poller feeding the given pipeline.
func NewPoller(db *storage.DB, pipe *pipeline.Pipeline, logger *slog.Logger) *Poller {
	return &Poller{db: db, pipe: pipe, logger: logger.With("component", "poller")}
}

// Run polls on a fixed cycle until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, cycle time.Duration) {
	ticker := time.NewTicker(cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollCycle(ctx)
		}
	}
}

// pollCycle visits every due agent. A failing agent is marked error and
// skipped; the cycle continues with the rest.
func (p *Poller) pollCycle(ctx context.Context) {
	agents, err := p.db.ListAgents(ctx)
	if err != nil {
		p.logger.Error("poll cycle: list agents", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, agent := range agents {
		if ctx.Err() != nil {
			return
		}
		if agent.Status != model.AgentActive || !pollDue(agent, now) {
			continue
		}
		if err := p.pollAgent(ctx, agent); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// No query log detected for this agent; nothing to poll.
				continue
			}
			p.logger.Error("poll agent failed", "agent", agent.AgentName, "error", err)
			msg := err.Error()
			if uerr := p.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentError, &msg); uerr != nil {
				p.logger.Error("mark agent error failed", "agent", agent.AgentName, "error", uerr)
			}
		}
	}
}

// pollDue applies the per-agent poll interval.
func pollDue(agent model.Agent, now time.Time) bool {
	if agent.PollInterval <= 0 || agent.LastPolledAt == nil {
		return true
	}
	return now.Sub(*agent.LastPolledAt) >= time.Duration(agent.PollInterval)*time.Second
}

func (p *Poller) pollAgent(ctx context.Context, agent model.Agent) error {
	cfg, err := p.db.GetQueryLogConfig(ctx, agent.AgentID)
	if err != nil {
		return err
	}

	conn, err := agentdb.Open(ctx, agent.DBURL, p.logger)
	if err != nil {
		return fmt.Errorf("connect agent db: %w", err)
	}
	defer conn.Close(ctx)

	watermark := time.Time{}
	if cfg.LastSeenTimestamp != nil {
		watermark = *cfg.LastSeenTimestamp
	}
	rows, err := conn.ReadQueryLog(ctx, cfg, watermark)
	if err != nil {
		return fmt.Errorf("read query log: %w", err)
	}
	if len(rows) == 0 {
		return p.db.TouchLastPolled(ctx, agent.AgentID, time.Now().UTC())
	}

	var maxTS time.Time
	var lastID *string
	processed := 0
	for _, row := range rows {
		q := logRowToQuery(agent, row)
		if err := p.db.InsertQuery(ctx, q); err != nil {
			p.logger.Warn("poll: insert query failed", "agent", agent.AgentName, "error", err)
			continue
		}
		if !p.pipe.Enqueue(ctx, pipeline.Event{Agent: agent, Query: q}) {
			break
		}
		processed++
		if row.Timestamp.After(maxTS) {
			maxTS = row.Timestamp
		}
		if row.ID != nil {
			lastID = row.ID
		}
	}

	if !maxTS.IsZero() {
		if err := p.db.AdvanceQueryLogWatermark(ctx, agent.AgentID, maxTS, lastID); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	p.logger.Debug("poll complete", "agent", agent.AgentName, "rows", len(rows), "processed", processed)
	return p.db.TouchLastPolled(ctx, agent.AgentID, time.Now().UTC())
}

// logRowToQuery maps one agent-log row onto a telemetry event. Rows with an
// error value, or a status that reads as a failure, become error events.
func logRowToQuery(agent model.Agent, row agentdb.LogRow) model.Query {
	status := model.QuerySuccess
	var errMsg *string
	if row.Error != nil && strings.TrimSpace(*row.Error) != "" {
		status = model.QueryError
		errMsg = row.Error
	} else if row.Status != nil && statusIsFailure(*row.Status) {
		status = model.QueryError
	}

	return model.Query{
		QueryID:      model.NewQueryID(model.SourcePoll, agent.AgentName),
		QueryText:    row.QueryText,
		AgentType:    agent.NormalizedName(),
		Status:       status,
		GeneratedSQL: row.SQL,
		ErrorMessage: errMsg,
		CreatedAt:    row.Timestamp,
	}
}

func statusIsFailure(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "error", "failed", "failure", "false", "0":
		return true
	}
	return false
}
