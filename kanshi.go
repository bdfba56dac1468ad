// Package kanshi is the public API for embedding the Kanshi observability
// server for text-to-SQL agents.
//
// Operators who run the binary use cmd/kanshi; platform teams that need to
// extend the server import this package instead of forking it:
//
//	app, err := kanshi.New(
//	    kanshi.WithVersion(version),
//	    kanshi.WithLogger(logger),
//	    kanshi.WithEventHook(myAuditHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kanshi (root) imports
// internal/*, but internal/* never imports kanshi (root). Public types
// (TelemetryEvent, DriftBand, etc.) are standalone structs with no internal
// imports; the adapters that cross the boundary live here because this is
// the only file that sees both sides.
package kanshi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/tessen-ai/kanshi/api"
	"github.com/tessen-ai/kanshi/internal/alert"
	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/config"
	"github.com/tessen-ai/kanshi/internal/mcp"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/pipeline"
	"github.com/tessen-ai/kanshi/internal/ratelimit"
	"github.com/tessen-ai/kanshi/internal/scheduler"
	"github.com/tessen-ai/kanshi/internal/server"
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/embedding"
	"github.com/tessen-ai/kanshi/internal/service/errclass"
	"github.com/tessen-ai/kanshi/internal/service/eval"
	"github.com/tessen-ai/kanshi/internal/service/groundtruth"
	"github.com/tessen-ai/kanshi/internal/service/health"
	"github.com/tessen-ai/kanshi/internal/service/llm"
	"github.com/tessen-ai/kanshi/internal/service/match"
	"github.com/tessen-ai/kanshi/internal/service/quality"
	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/internal/telemetry"
	"github.com/tessen-ai/kanshi/migrations"
)

const (
	// operatorTokenTTL bounds operator bearer tokens issued by the JWT
	// manager. Agents authenticate with long-lived API keys instead.
	operatorTokenTTL = 24 * time.Hour

	// baselineBootstrapQueries caps how many ground-truth NL queries feed a
	// baseline rebuilt at startup.
	baselineBootstrapQueries = 50

	shutdownHTTPTimeout = 10 * time.Second
)

// App is a fully wired Kanshi server. Construct with New, start with Run.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	pipe         *pipeline.Pipeline
	poller       *scheduler.Poller
	scanner      *scheduler.SchemaScanner
	checker      *health.Checker
	generator    *groundtruth.Generator
	detector     *drift.Detector
	embedder     embedding.Provider
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kanshi server. It connects to the platform database,
// runs migrations, and wires every subsystem, but does NOT start goroutines
// or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kanshi starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	// Verify critical tables exist after migration. If the pgvector extension
	// failed to create, the baseline migration fails and the server would
	// otherwise start with a partial schema. Catch this early.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'monitoring' AND table_name = 'queries')`,
	).Scan(&schemaOK); err != nil {
		return fail(fmt.Errorf("schema verification: %w", err))
	}
	if !schemaOK {
		return fail(fmt.Errorf("critical table 'monitoring.queries' does not exist after migration — check that the pgvector extension is installed"))
	}

	// Operator JWT verification; nil disables bearer auth entirely.
	var jwtMgr *auth.JWTManager
	if cfg.AuthEnabled {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, operatorTokenTTL)
		if err != nil {
			return fail(fmt.Errorf("auth: %w", err))
		}
	} else {
		logger.Warn("operator auth disabled (AUTH_ENABLED=false)")
	}

	// Embedding provider — external override takes priority over config.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embedderAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(context.Background(), cfg, logger)
	}

	var completer llm.Provider
	if o.llmProvider != nil {
		completer = &llmAdapter{p: o.llmProvider}
	} else {
		completer = newLLMProvider(cfg, logger)
	}

	matcher := match.New(embedder, 0) // 0 selects match.DefaultThreshold
	detector := drift.NewDetector(db, embedder, cfg.DriftHighThreshold, cfg.DriftMediumThreshold, logger)

	gtStore, err := groundtruth.NewStore(groundtruth.StoreConfig{
		Bucket:    cfg.GTBucket,
		Endpoint:  cfg.GTEndpoint,
		AccessKey: cfg.GTAccessKey,
		SecretKey: cfg.GTSecretKey,
		UseSSL:    cfg.GTUseSSL,
		LocalDir:  cfg.GTLocalDir,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("ground truth store: %w", err))
	}
	generator := groundtruth.NewGenerator(db, gtStore, completer, detector, matcher, logger)

	evaluator := eval.New(db, matcher, completer, cfg.EvalThreshold, logger)
	classifier := errclass.NewClassifier(db, logger)
	notifier := alert.New(context.Background(), alert.Config{
		SlackToken:      cfg.SlackToken,
		SlackChannel:    cfg.SlackChannel,
		EmailFrom:       cfg.AlertEmailFrom,
		EmailRecipients: cfg.AlertEmailRecipients,
		AWSRegion:       cfg.AWSRegion,
	}, logger)

	pipe := pipeline.New(db, detector, evaluator, classifier, notifier, cfg.PipelineWorkers, logger)
	for _, h := range o.eventHooks {
		pipe.AddHook(&eventHookAdapter{hook: h, logger: logger})
	}

	poller := scheduler.NewPoller(db, pipe, logger)
	scanner := scheduler.NewSchemaScanner(db, generator, logger)
	checker := health.NewChecker(db, notifier, cfg.TelemetryGap, logger)
	qualityVal := quality.NewValidator(db, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(db, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Pipeline:            pipe,
		Detector:            detector,
		Logger:              logger,
		JWTMgr:              jwtMgr,
		Generator:           generator,
		Scanner:             scanner,
		Quality:             qualityVal,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Host:                cfg.Host,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		OpenAPISpec:         api.OpenAPISpec,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		pipe:         pipe,
		poller:       poller,
		scanner:      scanner,
		checker:      checker,
		generator:    generator,
		detector:     detector,
		embedder:     embedder,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler exposes the root HTTP handler so the server can be mounted inside
// a larger mux or driven by httptest.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the pipeline workers, the schedulers, and the HTTP server, then
// blocks until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown has already been called — callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	a.pipe.Start(ctx)
	go a.poller.Run(ctx, a.cfg.PollCycle)
	a.scanner.Start(ctx, a.cfg.SchemaScanEvery)
	go a.checker.Run(ctx, a.cfg.HealthInterval)

	// Warm start is non-fatal and must not delay accepting traffic.
	go a.warmStart(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful stop: drain HTTP, stop the schedulers, drain
// the pipeline queue, then close the pool and the OTEL provider. Order
// matters — the pipeline must drain before the pool closes underneath it.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kanshi shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	a.scanner.Stop()
	a.pipe.Stop()

	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("kanshi stopped")
	return nil
}

// warmStart reloads matcher corpora from stored ground-truth artifacts and
// rebuilds any baseline that is missing, zero, or built at a different
// embedding dimension. Every step is best-effort.
func (a *App) warmStart(ctx context.Context) {
	agents, err := a.db.ListAgents(ctx)
	if err != nil {
		a.logger.Warn("warm start: list agents failed", "error", err)
		return
	}

	for _, agent := range agents {
		if ctx.Err() != nil {
			return
		}
		if agent.GTStatus != model.GTSuccess {
			continue
		}

		if n, err := a.generator.LoadCorpus(ctx, agent); err != nil {
			a.logger.Warn("warm start: corpus load failed", "agent", agent.AgentName, "error", err)
		} else if n > 0 {
			a.logger.Info("warm start: matcher corpus loaded", "agent", agent.AgentName, "queries", n)
		}

		a.ensureBaseline(ctx, agent)
	}
}

func (a *App) ensureBaseline(ctx context.Context, agent model.Agent) {
	b, err := a.db.LatestBaseline(ctx, agent.NormalizedName())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// rebuild below
	case err != nil:
		a.logger.Warn("warm start: baseline lookup failed", "agent", agent.AgentName, "error", err)
		return
	case b.EmbeddingDim == a.embedder.Dimensions() && !zeroVector(b.Centroid):
		return // baseline is usable as-is
	}

	artifact, ok, err := a.generator.Artifact(ctx, agent.AgentName)
	if err != nil || !ok {
		if err != nil {
			a.logger.Warn("warm start: artifact load failed", "agent", agent.AgentName, "error", err)
		}
		return
	}

	texts := make([]string, 0, baselineBootstrapQueries)
	for _, q := range artifact.Queries {
		if len(texts) == baselineBootstrapQueries {
			break
		}
		texts = append(texts, q.NaturalLanguage)
	}
	if len(texts) == 0 {
		return
	}

	if _, err := a.detector.BuildBaseline(ctx, agent.NormalizedName(), texts); err != nil {
		a.logger.Warn("warm start: baseline rebuild failed", "agent", agent.AgentName, "error", err)
		return
	}
	a.logger.Info("warm start: baseline rebuilt", "agent", agent.AgentName, "queries", len(texts))
}

func zeroVector(v pgvector.Vector) bool {
	for _, x := range v.Slice() {
		if x != 0 {
			return false
		}
	}
	return true
}

// ── Provider selection ────────────────────────────────────────────────────────

func newEmbeddingProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimension

	switch cfg.EmbeddingProvider {
	case "bedrock":
		p, err := embedding.NewBedrockProvider(ctx, cfg.AWSRegion, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("bedrock provider init failed, drift degrades to no_baseline", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: bedrock", "model", cfg.EmbeddingModel, "dimensions", dims)
		return p
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (drift and semantic matching disabled)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaEmbedModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbedModel, dims)
		}
		if p, err := embedding.NewBedrockProvider(ctx, cfg.AWSRegion, cfg.EmbeddingModel, dims); err == nil {
			logger.Info("embedding provider: bedrock (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return p
		}
		logger.Warn("no embedding provider available, using noop (drift and semantic matching disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

func newLLMProvider(cfg config.Config, logger *slog.Logger) llm.Provider {
	switch cfg.LLMProvider {
	case "ollama":
		logger.Info("llm provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaLLMModel)
		return llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaLLMModel)
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Warn("ANTHROPIC_API_KEY unset; LLM judging and ground-truth generation disabled")
			return llm.NoopProvider{}
		}
		logger.Info("llm provider: anthropic", "model", cfg.AnthropicModel)
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		logger.Warn("unknown LLM_PROVIDER, LLM features disabled", "provider", cfg.LLMProvider)
		return llm.NoopProvider{}
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ── Public/internal boundary adapters ────────────────────────────────────────

type embedderAdapter struct {
	p EmbeddingProvider
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	out := make([]pgvector.Vector, 0, len(texts))
	for _, t := range texts {
		vec, err := a.p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, pgvector.NewVector(vec))
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.p.Dimensions()
}

type llmAdapter struct {
	p LLMProvider
}

func (a *llmAdapter) Complete(ctx context.Context, system, user string) (string, error) {
	return a.p.Complete(ctx, system, user)
}

type eventHookAdapter struct {
	hook   EventHook
	logger *slog.Logger
}

func (a *eventHookAdapter) OnProcessed(ctx context.Context, ev pipeline.Event) {
	if err := a.hook.OnEventProcessed(ctx, toPublicEvent(ev)); err != nil {
		a.logger.Warn("event hook failed", "query_id", ev.Query.QueryID, "error", err)
	}
}

func toPublicEvent(ev pipeline.Event) TelemetryEvent {
	q := ev.Query
	return TelemetryEvent{
		QueryID:         q.QueryID,
		AgentName:       ev.Agent.AgentName,
		QueryText:       q.QueryText,
		GeneratedSQL:    q.GeneratedSQL,
		Status:          string(q.Status),
		ErrorMessage:    q.ErrorMessage,
		ExecutionTimeMS: q.ExecutionTimeMS,
		CreatedAt:       q.CreatedAt,
	}
}
