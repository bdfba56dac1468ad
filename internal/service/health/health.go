// Package health periodically probes each agent and its telemetry freshness.
// Agents that expose a health URL are probed over HTTP; the rest get a
// database reachability check. An unreachable agent is unhealthy; a reachable
// one with stale telemetry points at the agent-side SDK instead.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/alert"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// connectTimeout bounds each DB probe so one dead host cannot stall the cycle.
const connectTimeout = 10 * time.Second

// httpProbeTimeout bounds the GET against an agent's health URL.
const httpProbeTimeout = 5 * time.Second

// probeConcurrency caps parallel agent probes per cycle. Sequential probing
// of many agents with dead hosts would overrun the check interval.
const probeConcurrency = 4

// Checker probes agents and records health transitions.
type Checker struct {
	db       *storage.DB
	notifier *alert.Notifier
	gap      time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewChecker creates a Checker. gap is the telemetry-freshness window;
// notifier may be nil.
func NewChecker(db *storage.DB, notifier *alert.Notifier, gap time.Duration, logger *slog.Logger) *Checker {
	return &Checker{
		db:       db,
		notifier: notifier,
		gap:      gap,
		client:   &http.Client{Timeout: httpProbeTimeout},
		logger:   logger.With("component", "health"),
	}
}

// Run probes all agents on a fixed interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered agent. Per-agent failures never stop the
// cycle.
func (c *Checker) CheckAll(ctx context.Context) {
	agents, err := c.db.ListAgents(ctx)
	if err != nil {
		c.logger.Error("health cycle: list agents", "error", err)
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for _, agent := range agents {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c.checkAgent(gctx, agent)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Checker) checkAgent(ctx context.Context, agent model.Agent) {
	status, detail := c.probe(ctx, agent)

	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	if err := c.db.UpdateAgentHealth(ctx, agent.AgentID, status, detailPtr); err != nil {
		c.logger.Error("update agent health", "agent", agent.AgentName, "error", err)
		return
	}

	if status != agent.HealthStatus {
		c.logger.Info("agent health transition",
			"agent", agent.AgentName, "from", agent.HealthStatus, "to", status, "detail", detail)
		c.notifier.HealthTransition(ctx, agent.AgentName, agent.HealthStatus, status, detail)
	}
}

// probe classifies one agent: an unreachable agent wins over everything,
// then telemetry staleness, then healthy. Agents with a health URL are
// probed over HTTP; the rest get a database reachability check.
func (c *Checker) probe(ctx context.Context, agent model.Agent) (model.HealthStatus, string) {
	if agent.AgentURL != nil && *agent.AgentURL != "" {
		if err := c.pingAgent(ctx, *agent.AgentURL); err != nil {
			return model.HealthUnhealthy, fmt.Sprintf("agent unreachable: %v", err)
		}
	} else if err := c.pingDatabase(ctx, agent.DBURL); err != nil {
		return model.HealthUnhealthy, err.Error()
	}

	latest, err := c.db.LatestQueryTime(ctx, agent.NormalizedName())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("latest query time lookup failed", "agent", agent.AgentName, "error", err)
		return model.HealthHealthy, ""
	}
	return classifyTelemetry(latest, err == nil, agent.CreatedAt, c.gap, time.Now())
}

// pingAgent issues GET <base>/health and accepts any 200.
func (c *Checker) pingAgent(ctx context.Context, base string) error {
	probeCtx, cancel := context.WithTimeout(ctx, httpProbeTimeout)
	defer cancel()

	url := strings.TrimRight(base, "/") + "/health"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Checker) pingDatabase(ctx context.Context, dbURL string) error {
	probeCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := agentdb.Open(probeCtx, dbURL, c.logger)
	if err != nil {
		return fmt.Errorf("database unreachable: %v", err)
	}
	defer conn.Close(ctx)
	if err := conn.Ping(probeCtx); err != nil {
		return fmt.Errorf("database ping failed: %v", err)
	}
	return nil
}

// classifyTelemetry decides between healthy and sdk_issue for a reachable
// agent. Agents that never sent telemetry get a grace window equal to the
// gap threshold, measured from registration.
func classifyTelemetry(latest time.Time, hasTelemetry bool, createdAt time.Time, gap time.Duration, now time.Time) (model.HealthStatus, string) {
	if !hasTelemetry {
		if age := now.Sub(createdAt); age > gap {
			return model.HealthSDKIssue, fmt.Sprintf("no telemetry received since registration %s ago", age.Round(time.Minute))
		}
		return model.HealthHealthy, ""
	}
	if since := now.Sub(latest); since > gap {
		return model.HealthSDKIssue, fmt.Sprintf("database reachable but no telemetry for %s", since.Round(time.Minute))
	}
	return model.HealthHealthy, ""
}
