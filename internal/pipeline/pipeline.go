// Package pipeline runs the per-event background stages over ingested
// telemetry: drift detection, evaluation, and error classification. Stages
// are failure-tolerant: a stage that errors is logged and the remaining
// stages still run, since every writer is an idempotent upsert.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/alert"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/errclass"
	"github.com/tessen-ai/kanshi/internal/service/eval"
	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/internal/telemetry"
)

// connectTimeout bounds the per-event agent DB connection attempt.
const connectTimeout = 10 * time.Second

// queueDepth buffers bursts between ingest and the worker pool.
const queueDepth = 1024

// Event is one unit of pipeline work: a persisted telemetry row plus the
// agent it belongs to.
type Event struct {
	Agent model.Agent
	Query model.Query
}

// Hook observes events after all stages have run. Hooks must not block; a
// slow hook stalls a pipeline worker.
type Hook interface {
	OnProcessed(ctx context.Context, ev Event)
}

// Pipeline owns the worker pool.
type Pipeline struct {
	db         *storage.DB
	detector   *drift.Detector
	evaluator  *eval.Evaluator
	classifier *errclass.Classifier
	notifier   *alert.Notifier
	logger     *slog.Logger

	events  chan Event
	workers int
	wg      sync.WaitGroup
	hooks   []Hook

	processed  metric.Int64Counter
	stageFails metric.Int64Counter
	highDrift  metric.Int64Counter
}

// New creates a Pipeline with the given worker count.
func New(db *storage.DB, detector *drift.Detector, evaluator *eval.Evaluator, classifier *errclass.Classifier, notifier *alert.Notifier, workers int, logger *slog.Logger) *Pipeline {
	meter := telemetry.Meter("kanshi/pipeline")
	processed, _ := meter.Int64Counter("pipeline.events.processed")
	stageFails, _ := meter.Int64Counter("pipeline.stage.failures")
	highDrift, _ := meter.Int64Counter("pipeline.drift.high")

	return &Pipeline{
		db:         db,
		detector:   detector,
		evaluator:  evaluator,
		classifier: classifier,
		notifier:   notifier,
		logger:     logger.With("component", "pipeline"),
		events:     make(chan Event, queueDepth),
		workers:    workers,
		processed:  processed,
		stageFails: stageFails,
		highDrift:  highDrift,
	}
}

// AddHook registers a post-process observer. Must be called before Start.
func (p *Pipeline) AddHook(h Hook) {
	p.hooks = append(p.hooks, h)
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled and the channel is closed by Stop.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ev := range p.events {
				p.Process(ctx, ev)
			}
		}()
	}
	p.logger.Info("pipeline started", "workers", p.workers)
}

// Enqueue hands an event to the pool, blocking when the queue is full so
// ingest applies backpressure instead of dropping work.
func (p *Pipeline) Enqueue(ctx context.Context, ev Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the queue and waits for in-flight events to finish.
func (p *Pipeline) Stop() {
	close(p.events)
	p.wg.Wait()
	p.logger.Info("pipeline drained")
}

// Process runs all stages for one event. Exported so revalidation can run
// events synchronously outside the pool.
func (p *Pipeline) Process(ctx context.Context, ev Event) {
	q := ev.Query
	agentAttr := metric.WithAttributes(attribute.String("agent", q.AgentType))
	p.processed.Add(ctx, 1, agentAttr)

	driftQuality := p.runDrift(ctx, ev)

	if q.Status == model.QuerySuccess && eval.CleanSQL(derefString(q.GeneratedSQL)) != "" {
		p.runEvaluation(ctx, ev, driftQuality)
	}

	if q.Status == model.QueryError && q.ErrorMessage != nil {
		if _, err := p.classifier.Record(ctx, q.QueryID, *q.ErrorMessage); err != nil {
			p.stageFail(ctx, "classify", q.QueryID, err)
		}
	}

	for _, h := range p.hooks {
		h.OnProcessed(ctx, ev)
	}
}

// runDrift measures drift for non-error events and returns the drift
// quality (1 - drift_score) when the measurement is comparable.
func (p *Pipeline) runDrift(ctx context.Context, ev Event) *float64 {
	q := ev.Query
	if q.Status == model.QueryError {
		return nil
	}

	rec, err := p.detector.Detect(ctx, q.QueryID, q.AgentType, q.QueryText)
	if err != nil {
		p.stageFail(ctx, "drift", q.QueryID, err)
		return nil
	}

	if rec.DriftClassification == model.DriftHigh {
		p.highDrift.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", q.AgentType)))
		p.notifier.HighDrift(ctx, ev.Agent.AgentName, q.QueryID, q.QueryText, rec.DriftScore)
	}

	switch rec.DriftClassification {
	case model.DriftNoBaseline, model.DriftDimensionMismatch:
		return nil
	}
	quality := 1 - rec.DriftScore
	return &quality
}

func (p *Pipeline) runEvaluation(ctx context.Context, ev Event, driftQuality *float64) {
	q := ev.Query

	schema, err := p.db.ListDiscoveredSchema(ctx, ev.Agent.AgentID)
	if err != nil {
		p.logger.Warn("pipeline: schema load failed", "query_id", q.QueryID, "error", err)
	}

	// Best-effort agent DB connection; the evaluator degrades without one.
	var conn *agentdb.Conn
	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, err = agentdb.Open(connCtx, ev.Agent.DBURL, p.logger)
	cancel()
	if err != nil {
		p.logger.Warn("pipeline: agent db unreachable", "query_id", q.QueryID, "error", err)
		conn = nil
	} else {
		defer conn.Close(ctx)
	}

	outcome, err := p.evaluator.Evaluate(ctx, eval.Input{
		Query:        q,
		Schema:       schema,
		Conn:         conn,
		DriftQuality: driftQuality,
	})
	if err != nil {
		p.stageFail(ctx, "evaluate", q.QueryID, err)
		return
	}

	if outcome.RequiresClassification && outcome.StructuralError != "" {
		if _, err := p.classifier.Record(ctx, q.QueryID, outcome.StructuralError); err != nil {
			p.stageFail(ctx, "classify", q.QueryID, err)
		}
	}
}

func (p *Pipeline) stageFail(ctx context.Context, stage, queryID string, err error) {
	p.stageFails.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	p.logger.Error("pipeline stage failed", "stage", stage, "query_id", queryID, "error", err)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
