package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/ctxutil"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/pipeline"
	"github.com/tessen-ai/kanshi/internal/scheduler"
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/groundtruth"
	"github.com/tessen-ai/kanshi/internal/service/quality"
	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/internal/telemetry"
)

const (
	defaultPollInterval = 30 // seconds, applied when registration omits it

	executeSQLTimeout = 30 * time.Second
	executeSQLMaxRows = 100

	// Alert synthesis thresholds over recent evaluations.
	degradedScoreThreshold = 0.90
	degradedMinSamples     = 5
	highDriftCriticalCount = 3

	// Agents-summary degradation rule.
	summaryAccuracyFloor = 0.80
	summaryMinRequests   = 5

	revalidateBatchLimit = 200
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db        *storage.DB
	pipe      *pipeline.Pipeline
	generator *groundtruth.Generator
	scanner   *scheduler.SchemaScanner
	detector  *drift.Detector
	quality   *quality.Validator
	logger    *slog.Logger

	version     string
	openAPISpec []byte

	ingested metric.Int64Counter
}

// HandlersDeps wires the Handlers. Generator, Scanner, and Quality are
// optional; their endpoints answer 503 when absent.
type HandlersDeps struct {
	DB          *storage.DB
	Pipeline    *pipeline.Pipeline
	Generator   *groundtruth.Generator
	Scanner     *scheduler.SchemaScanner
	Detector    *drift.Detector
	Quality     *quality.Validator
	Logger      *slog.Logger
	Version     string
	OpenAPISpec []byte
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	meter := telemetry.Meter("kanshi/server")
	ingested, _ := meter.Int64Counter("ingest.events")

	return &Handlers{
		db:          deps.DB,
		pipe:        deps.Pipeline,
		generator:   deps.Generator,
		scanner:     deps.Scanner,
		detector:    deps.Detector,
		quality:     deps.Quality,
		logger:      deps.Logger,
		version:     deps.Version,
		openAPISpec: deps.OpenAPISpec,
		ingested:    ingested,
	}
}

// --- Agent registration and management ---

// HandleRegisterAgent creates an agent, mints its API key, and starts
// onboarding (discovery, query-log detection, data-quality checks, ground
// truth) in the background. The raw key is returned exactly once.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if _, err := h.db.GetAgentByName(r.Context(), req.AgentName); err == nil {
		writeError(w, http.StatusConflict, "conflict", "agent with this name already exists")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal_error", "agent lookup failed")
		return
	}

	rawKey, keyHash, keyPrefix, err := auth.GenerateAPIKey(model.NormalizeAgentName(req.AgentName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "key generation failed")
		return
	}

	pollInterval := req.PollInterval
	if pollInterval == 0 {
		pollInterval = defaultPollInterval
	}

	agent, err := h.db.CreateAgent(r.Context(), model.Agent{
		AgentName:    strings.TrimSpace(req.AgentName),
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		DBURL:        req.DBURL,
		AgentURL:     req.AgentURL,
		PollInterval: pollInterval,
		Status:       model.AgentPending,
		APIKeyHash:   keyHash,
		APIKeyPrefix: keyPrefix,
		GTStatus:     model.GTPending,
		HealthStatus: model.HealthUnknown,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "conflict", "agent with this name already exists")
			return
		}
		h.logger.Error("create agent failed", "agent", req.AgentName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "agent creation failed")
		return
	}

	go h.onboard(agent)

	writeJSON(w, http.StatusCreated, model.RegisteredAgent{
		Agent:      &agent,
		APIKey:     rawKey,
		SDKSnippet: sdkSnippet(rawKey),
	})
}

// onboard runs the registration background work: schema discovery, query-log
// detection, data-quality validation, then full ground-truth generation.
func (h *Handlers) onboard(agent model.Agent) {
	ctx := context.Background()
	log := h.logger.With("agent", agent.AgentName)

	if err := h.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentDiscovering, nil); err != nil {
		log.Error("onboard: mark discovering failed", "error", err)
	}

	cols, err := h.discover(ctx, agent)
	if err != nil {
		log.Error("onboard: discovery failed", "error", err)
		msg := err.Error()
		_ = h.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentError, &msg)
		return
	}
	log.Info("onboard: discovery complete", "columns", len(cols))

	if err := h.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentActive, nil); err != nil {
		log.Error("onboard: mark active failed", "error", err)
	}

	// Ground-truth generation manages its own gt_status machine and retries.
	if h.generator != nil {
		if err := h.generator.Generate(ctx, agent); err != nil {
			log.Error("onboard: ground-truth generation failed", "error", err)
		}
	}
}

// discover opens the agent DB, persists the discovered schema, detects the
// optional query-log table, and runs data-quality validation.
func (h *Handlers) discover(ctx context.Context, agent model.Agent) ([]model.DiscoveredColumn, error) {
	conn, err := agentdb.Open(ctx, agent.DBURL, h.logger)
	if err != nil {
		return nil, fmt.Errorf("connect agent db: %w", err)
	}
	defer conn.Close(ctx)

	cols, err := conn.DiscoverSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover schema: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no tables discovered")
	}
	if err := h.db.ReplaceDiscoveredSchema(ctx, agent.AgentID, cols); err != nil {
		return nil, fmt.Errorf("persist schema: %w", err)
	}

	// Query-log detection is best-effort; without it ingestion relies on
	// the SDK endpoint.
	if cfg, err := agentdb.DetectQueryLog(cols); err == nil {
		cfg.AgentID = agent.AgentID
		if err := h.db.UpsertQueryLogConfig(ctx, cfg); err != nil {
			h.logger.Warn("persist query-log config failed", "agent", agent.AgentName, "error", err)
		}
	} else {
		h.logger.Info("no query log detected, polling disabled", "agent", agent.AgentName)
	}

	if h.quality != nil {
		rels, relErr := conn.DiscoverRelationships(ctx, cols)
		if relErr != nil {
			h.logger.Warn("relationship discovery failed", "agent", agent.AgentName, "error", relErr)
		}
		if issues, qErr := h.quality.Validate(ctx, agent, conn, cols, rels); qErr != nil {
			h.logger.Warn("data-quality validation failed", "agent", agent.AgentName, "error", qErr)
		} else if len(issues) > 0 {
			h.logger.Info("data-quality issues recorded", "agent", agent.AgentName, "issues", len(issues))
		}
	}
	return cols, nil
}

// HandleListAgents returns all registered agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing agents failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

// HandleGetAgent returns one agent by id.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// updateAgentRequest is the PATCH body; nil fields are left untouched.
type updateAgentRequest struct {
	DisplayName  *string `json:"display_name,omitempty"`
	Description  *string `json:"description,omitempty"`
	AgentURL     *string `json:"agent_url,omitempty"`
	DBURL        *string `json:"db_url,omitempty"`
	PollInterval *int    `json:"poll_interval_s,omitempty"`
}

// HandleUpdateAgent applies a partial update to agent settings.
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if req.PollInterval != nil && *req.PollInterval < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "poll_interval_s must be non-negative")
		return
	}

	updated, err := h.db.UpdateAgent(r.Context(), agent.AgentID,
		req.DisplayName, req.Description, req.AgentURL, req.DBURL, req.PollInterval)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "agent update failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteAgent removes an agent and every derived row in one
// transaction, returning per-table delete counts.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	result, err := h.db.DeleteAgentData(r.Context(), agent.AgentID, agent.NormalizedName())
	if err != nil {
		h.logger.Error("delete agent failed", "agent", agent.AgentName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "agent deletion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_name": agent.AgentName,
		"deleted":    result,
	})
}

// HandleRefreshAgent re-runs schema discovery, query-log detection, and
// data-quality validation in the background.
func (h *Handlers) HandleRefreshAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	go func() {
		ctx := context.Background()
		if _, err := h.discover(ctx, agent); err != nil {
			h.logger.Error("refresh: discovery failed", "agent", agent.AgentName, "error", err)
			msg := err.Error()
			_ = h.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentError, &msg)
			return
		}
		_ = h.db.UpdateAgentStatus(ctx, agent.AgentID, model.AgentActive, nil)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh_started"})
}

// HandleRetryGroundTruth restarts ground-truth generation for an agent.
func (h *Handlers) HandleRetryGroundTruth(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	if h.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ground-truth generation is not configured")
		return
	}
	if agent.GTStatus == model.GTInProgress {
		writeError(w, http.StatusConflict, "conflict", "ground-truth generation already in progress")
		return
	}
	go func() {
		if err := h.generator.Generate(context.Background(), agent); err != nil {
			h.logger.Error("retry ground truth failed", "agent", agent.AgentName, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "generation_started"})
}

// HandleScanSchemaChanges runs an on-demand schema scan and returns the
// detected changes.
func (h *Handlers) HandleScanSchemaChanges(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	if h.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "schema scanning is not configured")
		return
	}
	changes, err := h.scanner.ScanAgent(r.Context(), agent)
	if err != nil {
		h.logger.Error("manual schema scan failed", "agent", agent.AgentName, "error", err)
		writeError(w, http.StatusBadGateway, "agent_db_error", "schema scan failed: "+err.Error())
		return
	}
	if changes == nil {
		changes = []model.SchemaChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_name": agent.AgentName,
		"changes":    changes,
		"count":      len(changes),
	})
}

// HandleRevalidateAgent re-runs the full pipeline over the agent's recent
// queries in the background. Every stage writer is an idempotent upsert, so
// rerunning is safe.
func (h *Handlers) HandleRevalidateAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	ids, err := h.db.ListQueryIDsForRevalidation(r.Context(), agent.NormalizedName(), revalidateBatchLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing queries failed")
		return
	}

	go func() {
		ctx := context.Background()
		for _, id := range ids {
			q, err := h.db.GetQuery(ctx, id)
			if err != nil {
				h.logger.Warn("revalidate: load query failed", "query_id", id, "error", err)
				continue
			}
			h.pipe.Process(ctx, pipeline.Event{Agent: agent, Query: q})
		}
		h.logger.Info("revalidation complete", "agent", agent.AgentName, "queries", len(ids))
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "revalidation_started",
		"queries": len(ids),
	})
}

// HandleRegenerateKey rotates the agent's API key. The old key stops working
// immediately; the new raw key is returned exactly once.
func (h *Handlers) HandleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	rawKey, keyHash, keyPrefix, err := auth.GenerateAPIKey(agent.NormalizedName())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "key generation failed")
		return
	}
	if err := h.db.RotateAPIKey(r.Context(), agent.AgentID, keyHash, keyPrefix); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "key rotation failed")
		return
	}
	agent.APIKeyPrefix = keyPrefix
	writeJSON(w, http.StatusOK, model.RegisteredAgent{Agent: &agent, APIKey: rawKey})
}

// HandleSchemaChanges lists recorded schema changes for an agent.
func (h *Handlers) HandleSchemaChanges(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	changes, err := h.db.ListSchemaChanges(r.Context(), agent.AgentID, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing schema changes failed")
		return
	}
	if changes == nil {
		changes = []model.SchemaChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes, "count": len(changes)})
}

// HandleDataQualityIssues lists recorded data-quality findings for an agent.
func (h *Handlers) HandleDataQualityIssues(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.agentFromPath(w, r)
	if !ok {
		return
	}
	issues, err := h.db.ListDataQualityIssues(r.Context(), agent.AgentID, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing data-quality issues failed")
		return
	}
	if issues == nil {
		issues = []model.DataQualityIssue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues, "count": len(issues)})
}

// --- Telemetry ingest ---

// HandleIngest accepts one SDK telemetry event. The agent identity comes
// from the API key; any agent_type in the body is ignored. The raw event is
// persisted synchronously and the pipeline runs in the background.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	agent := ctxutil.AgentFromContext(r.Context())
	if agent == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no authenticated agent")
		return
	}

	var req model.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	q := model.Query{
		QueryID:         model.NewQueryID(model.SourceIngest, agent.AgentName),
		QueryText:       req.QueryText,
		AgentType:       agent.NormalizedName(),
		Status:          model.QueryStatus(req.Status),
		GeneratedSQL:    req.SQL,
		ErrorMessage:    req.Error,
		ExecutionTimeMS: req.ExecutionTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.db.InsertQuery(r.Context(), q); err != nil {
		h.logger.Error("ingest: insert query failed", "agent", agent.AgentName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "event persistence failed")
		return
	}
	h.ingested.Add(r.Context(), 1, metric.WithAttributes(attribute.String("agent", q.AgentType)))

	if !h.pipe.Enqueue(r.Context(), pipeline.Event{Agent: *agent, Query: q}) {
		// Event is persisted; revalidation picks it up later.
		h.logger.Warn("ingest: pipeline enqueue abandoned", "query_id", q.QueryID)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ingested",
		"query_id": q.QueryID,
	})
}

// --- Baseline and SQL execution ---

// HandleBaselineUpdate rebuilds an agent's drift baseline. When the body
// carries no queries, recent telemetry prompts are used instead.
func (h *Handlers) HandleBaselineUpdate(w http.ResponseWriter, r *http.Request) {
	var req model.BaselineUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AgentType) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "agent_type is required")
		return
	}
	agentType := model.NormalizeAgentName(req.AgentType)

	queries := req.Queries
	if len(queries) == 0 {
		recent, err := h.db.ListRecentQueryTexts(r.Context(), agentType, 50)
		if err != nil || len(recent) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "no queries provided and no recent telemetry to build from")
			return
		}
		queries = recent
	}

	baseline, err := h.detector.BuildBaseline(r.Context(), agentType, queries)
	if err != nil {
		h.logger.Error("baseline update failed", "agent_type", agentType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "baseline build failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_type":  agentType,
		"query_count": baseline.NumQueries,
		"version":     baseline.Version,
	})
}

// HandleExecuteSQL runs a read-only statement against an agent's database
// and returns the first rows, normalized.
func (h *Handlers) HandleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if !isReadOnlySQL(req.SQL) {
		writeError(w, http.StatusBadRequest, "invalid_request", "only SELECT and WITH statements are allowed")
		return
	}

	agent, err := h.db.GetAgentByName(r.Context(), req.AgentType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "agent lookup failed")
		return
	}

	conn, err := agentdb.Open(r.Context(), agent.DBURL, h.logger)
	if err != nil {
		writeError(w, http.StatusBadGateway, "agent_db_error", "agent database unreachable")
		return
	}
	defer conn.Close(r.Context())

	result, err := conn.ExecuteSQL(r.Context(), req.SQL, executeSQLTimeout, executeSQLMaxRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, "execution_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// isReadOnlySQL accepts plain SELECT statements and CTEs.
func isReadOnlySQL(sql string) bool {
	s := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(s, "SELECT") || strings.HasPrefix(s, "WITH")
}

// --- Read API ---

// HandleMetrics returns evaluation aggregates: overall, per agent, trend.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.db.GetMetrics(r.Context(), normalizedQueryParam(r, "agent_type"), queryInt(r, "days", 30))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "metrics aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDrift returns the drift band distribution, high-drift samples, and
// the daily drift trend.
func (h *Handlers) HandleDrift(w http.ResponseWriter, r *http.Request) {
	resp, err := h.db.GetDriftSummary(r.Context(),
		normalizedQueryParam(r, "agent_type"), queryInt(r, "days", 30), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "drift aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleErrors returns classified-error aggregates, optionally filtered to
// one category.
func (h *Handlers) HandleErrors(w http.ResponseWriter, r *http.Request) {
	resp, err := h.db.GetErrorSummary(r.Context(),
		normalizedQueryParam(r, "agent_type"), queryInt(r, "days", 30), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "error aggregation failed")
		return
	}

	if category := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("category"))); category != "" {
		filtered := model.ErrorsResponse{
			Categories:   map[string]model.ErrorCategoryStats{},
			RecentErrors: []model.RecentError{},
		}
		if stats, ok := resp.Categories[category]; ok {
			filtered.Categories[category] = stats
			filtered.TotalErrors = stats.Count
		}
		for _, e := range resp.RecentErrors {
			if e.Category == category {
				filtered.RecentErrors = append(filtered.RecentErrors, e)
			}
		}
		resp = filtered
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHistory returns recent queries joined with their derived rows.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.db.GetHistory(r.Context(), normalizedQueryParam(r, "agent_type"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "history query failed")
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// HandleGetRun returns the full record of one query.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("query_id")
	detail, err := h.db.GetRunDetail(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "run lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleAlerts synthesizes alerts from stored data: per-agent accuracy
// degradation over recent evaluations and the 24h high-drift count.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	alerts := []model.Alert{}

	windows, err := h.db.RecentScoreWindows(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "alert synthesis failed")
		return
	}
	for _, win := range windows {
		if win.Count > degradedMinSamples && win.AvgScore < degradedScoreThreshold {
			alerts = append(alerts, model.Alert{
				ID:       "accuracy-" + win.AgentType,
				Title:    "Accuracy degradation",
				Severity: "warning",
				Message: fmt.Sprintf("%s averaged %.2f over its last %d evaluations",
					win.AgentType, win.AvgScore, win.Count),
				Reason:    "avg_final_score_below_threshold",
				Timestamp: now,
			})
		}
	}

	highDrift, err := h.db.CountHighDriftSince(r.Context(), normalizedQueryParam(r, "agent_type"), now.Add(-24*time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "alert synthesis failed")
		return
	}
	if highDrift > 0 {
		severity := "info"
		if highDrift > highDriftCriticalCount {
			severity = "critical"
		}
		alerts = append(alerts, model.Alert{
			ID:        "drift-24h",
			Title:     "High drift activity",
			Severity:  severity,
			Message:   fmt.Sprintf("%d high-drift queries in the last 24 hours", highDrift),
			Reason:    "high_drift_count",
			Timestamp: now,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// HandleAgentSummaries returns the dashboard rollup. An agent with enough
// traffic and accuracy under the floor reports as degraded regardless of its
// lifecycle status.
func (h *Handlers) HandleAgentSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.db.GetAgentSummaries(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "summary aggregation failed")
		return
	}
	for i := range summaries {
		if summaries[i].Requests > summaryMinRequests && summaries[i].Accuracy < summaryAccuracyFloor {
			summaries[i].Status = "degraded"
		}
	}
	if summaries == nil {
		summaries = []model.AgentSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": summaries, "count": len(summaries)})
}

// agentHealthEntry is one row of the agents-health listing.
type agentHealthEntry struct {
	AgentName         string             `json:"agent_name"`
	HealthStatus      model.HealthStatus `json:"health_status"`
	HealthDetail      *string            `json:"health_detail,omitempty"`
	LastHealthCheckAt *time.Time         `json:"last_health_check_at,omitempty"`
}

// HandleAgentsHealth returns the latest health-check outcome per agent.
func (h *Handlers) HandleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "listing agents failed")
		return
	}
	entries := make([]agentHealthEntry, 0, len(agents))
	for _, a := range agents {
		entries = append(entries, agentHealthEntry{
			AgentName:         a.AgentName,
			HealthStatus:      a.HealthStatus,
			HealthDetail:      a.HealthDetail,
			LastHealthCheckAt: a.LastHealthCheckAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": entries, "count": len(entries)})
}

// --- Service endpoints ---

// HandleHealth reports platform liveness, including the platform DB.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "version": h.version})
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openAPISpec) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "OpenAPI spec not available")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openAPISpec)
}

// --- Helpers ---

// agentFromPath resolves the {id} path segment, writing the error response
// itself when the agent cannot be loaded.
func (h *Handlers) agentFromPath(w http.ResponseWriter, r *http.Request) (model.Agent, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid agent id")
		return model.Agent{}, false
	}
	agent, err := h.db.GetAgent(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "agent not found")
			return model.Agent{}, false
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "agent lookup failed")
		return model.Agent{}, false
	}
	return agent, true
}

// normalizedQueryParam reads an agent_type-style query parameter in
// normalized form; empty means no filter.
func normalizedQueryParam(r *http.Request, name string) string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return ""
	}
	return model.NormalizeAgentName(v)
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// sdkSnippet returns a copy-paste Go snippet for wiring the ingest SDK.
func sdkSnippet(apiKey string) string {
	return fmt.Sprintf(`client, err := kanshi.NewClient(kanshi.Config{
    BaseURL: "http://localhost:8080",
    APIKey:  %q,
})
// after each text-to-SQL request:
client.ObserveSuccess(ctx, questionText, generatedSQL, elapsed)`, apiKey)
}
