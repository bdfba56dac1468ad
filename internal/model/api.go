package model

import (
	"fmt"
	"strings"
	"time"
)

// APIResponse is the uniform JSON envelope for all HTTP responses.
type APIResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterAgentRequest is the body of POST /api/v1/agents/register.
type RegisterAgentRequest struct {
	AgentName    string  `json:"agent_name"`
	DBURL        string  `json:"db_url"`
	DisplayName  *string `json:"display_name,omitempty"`
	Description  *string `json:"description,omitempty"`
	AgentURL     *string `json:"agent_url,omitempty"`
	PollInterval int     `json:"poll_interval_s,omitempty"`
}

// Validate checks required fields and bounds.
func (r *RegisterAgentRequest) Validate() error {
	if err := ValidateAgentName(r.AgentName); err != nil {
		return err
	}
	if strings.TrimSpace(r.DBURL) == "" {
		return fmt.Errorf("db_url is required")
	}
	if r.PollInterval < 0 {
		return fmt.Errorf("poll_interval_s must be non-negative")
	}
	return nil
}

// RegisteredAgent is the registration response payload. APIKey carries the
// raw key and is populated exactly once, at registration or rotation.
type RegisteredAgent struct {
	Agent      *Agent `json:"agent"`
	APIKey     string `json:"api_key,omitempty"`
	SDKSnippet string `json:"sdk_snippet,omitempty"`
}

// IngestRequest is the body of POST /api/v1/monitor/ingest/sdk.
// AgentType is ignored; the authoritative name comes from the API key.
type IngestRequest struct {
	QueryText       string  `json:"query_text"`
	AgentType       string  `json:"agent_type,omitempty"`
	Status          string  `json:"status"`
	SQL             *string `json:"sql,omitempty"`
	Error           *string `json:"error,omitempty"`
	ExecutionTimeMS float64 `json:"execution_time_ms,omitempty"`
}

// Validate checks required ingest fields.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.QueryText) == "" {
		return fmt.Errorf("query_text is required")
	}
	switch QueryStatus(r.Status) {
	case QuerySuccess, QueryError:
	default:
		return fmt.Errorf("status must be %q or %q", QuerySuccess, QueryError)
	}
	return nil
}

// BaselineUpdateRequest is the body of POST /api/v1/baseline/update.
type BaselineUpdateRequest struct {
	AgentType string   `json:"agent_type"`
	Queries   []string `json:"queries"`
}

// ExecuteSQLRequest is the body of POST /api/v1/execute-sql.
type ExecuteSQLRequest struct {
	SQL       string `json:"sql"`
	AgentType string `json:"agent_type"`
}

// MetricsOverall aggregates evaluation outcomes across agents.
type MetricsOverall struct {
	TotalEvaluations int     `json:"total_evaluations"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	Accuracy         float64 `json:"accuracy"`
	AvgScore         float64 `json:"avg_score"`
	AvgLatencyMS     float64 `json:"avg_latency"`
}

// AgentMetrics is the per-agent slice of the metrics endpoint.
type AgentMetrics struct {
	Total        int     `json:"total"`
	Passed       int     `json:"passed"`
	Accuracy     float64 `json:"accuracy"`
	AvgScore     float64 `json:"avg_score"`
	AvgLatencyMS float64 `json:"avg_latency"`
}

// TrendPoint is one day of the accuracy trend.
type TrendPoint struct {
	Date     string  `json:"date"`
	Agent    string  `json:"agent"`
	Accuracy float64 `json:"accuracy"`
}

// MetricsResponse is the payload of GET /api/v1/metrics.
type MetricsResponse struct {
	Overall  MetricsOverall          `json:"overall"`
	PerAgent map[string]AgentMetrics `json:"per_agent"`
	Trend    []TrendPoint            `json:"trend"`
}

// DriftBandStats summarizes one drift classification band.
type DriftBandStats struct {
	Count         int     `json:"count"`
	AvgDriftScore float64 `json:"avg_drift_score"`
}

// DriftSample is one high-drift query with joined telemetry.
type DriftSample struct {
	QueryID        string  `json:"query_id"`
	DriftScore     float64 `json:"drift_score"`
	Classification string  `json:"classification"`
	QueryText      string  `json:"query_text"`
	SQL            string  `json:"sql"`
	AgentType      string  `json:"agent_type"`
}

// DriftTrendPoint is one day of the average drift-score trend.
type DriftTrendPoint struct {
	Date     string  `json:"date"`
	AvgScore float64 `json:"avg_score"`
}

// DriftResponse is the payload of GET /api/v1/drift.
type DriftResponse struct {
	Distribution     map[string]DriftBandStats `json:"distribution"`
	TotalAnomalies   int                       `json:"total_anomalies"`
	HighDriftSamples []DriftSample             `json:"high_drift_samples"`
	Trend            []DriftTrendPoint         `json:"trend"`
}

// ErrorCategoryStats summarizes one error category.
type ErrorCategoryStats struct {
	Count      int            `json:"count"`
	Severities map[string]int `json:"severities"`
}

// RecentError is one row of the recent-errors listing.
type RecentError struct {
	QueryID   string `json:"query_id"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	QueryText string `json:"query_text"`
}

// ErrorsResponse is the payload of GET /api/v1/errors.
type ErrorsResponse struct {
	TotalErrors  int                           `json:"total_errors"`
	Categories   map[string]ErrorCategoryStats `json:"categories"`
	RecentErrors []RecentError                 `json:"recent_errors"`
}

// HistoryEntry is one row of GET /api/v1/history.
type HistoryEntry struct {
	QueryID             string    `json:"query_id"`
	Prompt              string    `json:"prompt"`
	CorrectnessVerdict  string    `json:"correctness_verdict"`
	EvaluationConfidence float64  `json:"evaluation_confidence"`
	ErrorBucket         string    `json:"error_bucket"`
	AgentType           string    `json:"agent_type"`
	Timestamp           time.Time `json:"timestamp"`
	DriftScore          float64   `json:"drift_score"`
	DriftLevel          string    `json:"drift_level"`
}

// RunDetail is the payload of GET /api/v1/monitor/runs/{query_id}.
type RunDetail struct {
	QueryID      string         `json:"query_id"`
	UserPrompt   string         `json:"user_prompt"`
	AgentType    string         `json:"agent_type"`
	Status       string         `json:"status"`
	GeneratedSQL string         `json:"generated_sql,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	Evaluation   RunEvaluation  `json:"evaluation"`
	Drift        RunDrift       `json:"drift"`
}

// RunEvaluation is the evaluation slice of RunDetail.
type RunEvaluation struct {
	Verdict    string         `json:"verdict"`
	Confidence float64        `json:"confidence"`
	Score      float64        `json:"score"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Scores     map[string]any `json:"scores,omitempty"`
}

// RunDrift is the drift slice of RunDetail.
type RunDrift struct {
	Score  float64 `json:"score"`
	Status string  `json:"status"`
}

// Alert is one synthesized alert from GET /api/v1/alerts.
type Alert struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentSummary is one row of GET /api/v1/agents/summary.
type AgentSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Accuracy  float64 `json:"accuracy"`
	Requests  int     `json:"requests"`
	LatencyS  float64 `json:"latency_s"`
}
