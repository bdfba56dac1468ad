package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/pipeline"
	"github.com/tessen-ai/kanshi/internal/ratelimit"
	"github.com/tessen-ai/kanshi/internal/scheduler"
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/groundtruth"
	"github.com/tessen-ai/kanshi/internal/service/quality"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// Server is the Kanshi HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): JWTMgr (auth disabled), Generator,
// Scanner, Quality, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB       *storage.DB
	Pipeline *pipeline.Pipeline
	Detector *drift.Detector
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	JWTMgr    *auth.JWTManager
	Generator *groundtruth.Generator
	Scanner   *scheduler.SchemaScanner
	Quality   *quality.Validator
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Host                string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  string

	// Optional embedded assets.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:          cfg.DB,
		Pipeline:    cfg.Pipeline,
		Generator:   cfg.Generator,
		Scanner:     cfg.Scanner,
		Detector:    cfg.Detector,
		Quality:     cfg.Quality,
		Logger:      cfg.Logger,
		Version:     cfg.Version,
		OpenAPISpec: cfg.OpenAPISpec,
	})

	operator := operatorAuth(cfg.JWTMgr)
	agentKey := apiKeyAuth(cfg.DB)
	ingestRL := ratelimit.Middleware(cfg.Limiter, apiKeyFunc)

	mux := http.NewServeMux()

	// Agent management (operator).
	mux.Handle("POST /api/v1/agents/register", operator(http.HandlerFunc(h.HandleRegisterAgent)))
	mux.Handle("GET /api/v1/agents", operator(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("GET /api/v1/agents/summary", operator(http.HandlerFunc(h.HandleAgentSummaries)))
	mux.Handle("GET /api/v1/agents/health", operator(http.HandlerFunc(h.HandleAgentsHealth)))
	mux.Handle("GET /api/v1/agents/{id}", operator(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("PATCH /api/v1/agents/{id}", operator(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /api/v1/agents/{id}", operator(http.HandlerFunc(h.HandleDeleteAgent)))

	// Background triggers (operator).
	mux.Handle("POST /api/v1/agents/{id}/refresh", operator(http.HandlerFunc(h.HandleRefreshAgent)))
	mux.Handle("POST /api/v1/agents/{id}/retry-ground-truth", operator(http.HandlerFunc(h.HandleRetryGroundTruth)))
	mux.Handle("POST /api/v1/agents/{id}/scan-schema-changes", operator(http.HandlerFunc(h.HandleScanSchemaChanges)))
	mux.Handle("POST /api/v1/agents/{id}/revalidate", operator(http.HandlerFunc(h.HandleRevalidateAgent)))
	mux.Handle("POST /api/v1/agents/{id}/regenerate-key", operator(http.HandlerFunc(h.HandleRegenerateKey)))

	// Per-agent findings (operator).
	mux.Handle("GET /api/v1/agents/{id}/schema-changes", operator(http.HandlerFunc(h.HandleSchemaChanges)))
	mux.Handle("GET /api/v1/agents/{id}/data-quality", operator(http.HandlerFunc(h.HandleDataQualityIssues)))

	// SDK ingest (API key, rate limited per key).
	mux.Handle("POST /api/v1/monitor/ingest/sdk", ingestRL(agentKey(http.HandlerFunc(h.HandleIngest))))

	// Baseline and ad-hoc SQL (operator).
	mux.Handle("POST /api/v1/baseline/update", operator(http.HandlerFunc(h.HandleBaselineUpdate)))
	mux.Handle("POST /api/v1/execute-sql", operator(http.HandlerFunc(h.HandleExecuteSQL)))

	// Read API (operator).
	mux.Handle("GET /api/v1/metrics", operator(http.HandlerFunc(h.HandleMetrics)))
	mux.Handle("GET /api/v1/drift", operator(http.HandlerFunc(h.HandleDrift)))
	mux.Handle("GET /api/v1/errors", operator(http.HandlerFunc(h.HandleErrors)))
	mux.Handle("GET /api/v1/history", operator(http.HandlerFunc(h.HandleHistory)))
	mux.Handle("GET /api/v1/monitor/runs/{query_id}", operator(http.HandlerFunc(h.HandleGetRun)))
	mux.Handle("GET /api/v1/alerts", operator(http.HandlerFunc(h.HandleAlerts)))

	// MCP StreamableHTTP transport (operator).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", operator(mcpHTTP))
	}

	// OpenAPI spec and health (no auth).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → CORS → body cap → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	if cfg.MaxRequestBodyBytes > 0 {
		handler = maxBodyMiddleware(cfg.MaxRequestBodyBytes, handler)
	}
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
