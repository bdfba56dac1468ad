// Package mcp implements the Model Context Protocol server for Kanshi.
//
// The MCP server exposes read-only monitoring tools so MCP-compatible AI
// operators can interrogate evaluation metrics, drift, classified errors,
// and individual runs without going through the HTTP read API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/storage"
)

// Server wraps the MCP server with Kanshi's storage layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(db *storage.DB, logger *slog.Logger) *Server {
	s := &Server{
		db:     db,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kanshi",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("get_metrics",
			mcplib.WithDescription("Evaluation metrics: overall accuracy, per-agent breakdown, and daily trend"),
			mcplib.WithString("agent_type", mcplib.Description("Filter to one agent")),
			mcplib.WithNumber("days", mcplib.Description("Trailing window in days, default 30")),
		),
		s.handleGetMetrics,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_drift_summary",
			mcplib.WithDescription("Drift band distribution, high-drift samples with query text, and the daily drift trend"),
			mcplib.WithString("agent_type", mcplib.Description("Filter to one agent")),
			mcplib.WithNumber("days", mcplib.Description("Trailing window in days, default 30")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum high-drift samples, default 10")),
		),
		s.handleGetDrift,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_errors",
			mcplib.WithDescription("Classified agent errors grouped by category and severity, with recent examples"),
			mcplib.WithString("agent_type", mcplib.Description("Filter to one agent")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum recent errors, default 20")),
		),
		s.handleListErrors,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("get_run",
			mcplib.WithDescription("Full record of one query: telemetry, evaluation, drift, and classified errors"),
			mcplib.WithString("query_id", mcplib.Description("Platform-assigned query id"), mcplib.Required()),
		),
		s.handleGetRun,
	)
}

func (s *Server) handleGetMetrics(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentType := model.NormalizeAgentName(request.GetString("agent_type", ""))
	days := request.GetInt("days", 30)

	resp, err := s.db.GetMetrics(ctx, agentType, days)
	if err != nil {
		return errorResult(fmt.Sprintf("metrics query failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleGetDrift(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentType := model.NormalizeAgentName(request.GetString("agent_type", ""))
	days := request.GetInt("days", 30)
	limit := request.GetInt("limit", 10)

	resp, err := s.db.GetDriftSummary(ctx, agentType, days, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("drift query failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleListErrors(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentType := model.NormalizeAgentName(request.GetString("agent_type", ""))
	limit := request.GetInt("limit", 20)

	resp, err := s.db.GetErrorSummary(ctx, agentType, 30, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("error query failed: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleGetRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	queryID := request.GetString("query_id", "")
	if queryID == "" {
		return errorResult("query_id is required"), nil
	}

	detail, err := s.db.GetRunDetail(ctx, queryID)
	if err != nil {
		return errorResult(fmt.Sprintf("run %s not found: %v", queryID, err)), nil
	}

	// Classified errors are not part of the run row; attach them here.
	errs, err := s.db.ListErrorsByQuery(ctx, queryID)
	if err != nil {
		s.logger.Warn("mcp: error listing failed", "query_id", queryID, "error", err)
	}

	return jsonResult(map[string]any{
		"run":    detail,
		"errors": errs,
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal failed: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
