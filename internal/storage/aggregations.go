package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tessen-ai/kanshi/internal/model"
)

// GetMetrics aggregates evaluation outcomes overall, per agent, and as a
// daily accuracy trend over the trailing windowDays.
func (db *DB) GetMetrics(ctx context.Context, agentType string, windowDays int) (model.MetricsResponse, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	resp := model.MetricsResponse{
		PerAgent: map[string]model.AgentMetrics{},
		Trend:    []model.TrendPoint{},
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	err := db.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE e.result = 'PASS'),
		       count(*) FILTER (WHERE e.result = 'FAIL'),
		       COALESCE(avg(e.final_score), 0),
		       COALESCE(avg(q.execution_time_ms), 0)
		FROM monitoring.evaluations e
		JOIN monitoring.queries q ON q.query_id = e.query_id
		WHERE e.created_at > $1 AND ($2 = '' OR e.agent_type = $2)`,
		since, agentType,
	).Scan(&resp.Overall.TotalEvaluations, &resp.Overall.Passed, &resp.Overall.Failed,
		&resp.Overall.AvgScore, &resp.Overall.AvgLatencyMS)
	if err != nil {
		return resp, fmt.Errorf("storage: metrics overall: %w", err)
	}
	if resp.Overall.TotalEvaluations > 0 {
		resp.Overall.Accuracy = float64(resp.Overall.Passed) / float64(resp.Overall.TotalEvaluations)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT e.agent_type, count(*),
		       count(*) FILTER (WHERE e.result = 'PASS'),
		       COALESCE(avg(e.final_score), 0),
		       COALESCE(avg(q.execution_time_ms), 0)
		FROM monitoring.evaluations e
		JOIN monitoring.queries q ON q.query_id = e.query_id
		WHERE e.created_at > $1 AND ($2 = '' OR e.agent_type = $2)
		GROUP BY e.agent_type`,
		since, agentType,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: metrics per agent: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var m model.AgentMetrics
		if err := rows.Scan(&name, &m.Total, &m.Passed, &m.AvgScore, &m.AvgLatencyMS); err != nil {
			return resp, fmt.Errorf("storage: scan agent metrics: %w", err)
		}
		if m.Total > 0 {
			m.Accuracy = float64(m.Passed) / float64(m.Total)
		}
		resp.PerAgent[name] = m
	}
	if err := rows.Err(); err != nil {
		return resp, err
	}

	trendRows, err := db.pool.Query(ctx, `
		SELECT to_char(date_trunc('day', e.created_at), 'YYYY-MM-DD'), e.agent_type,
		       count(*) FILTER (WHERE e.result = 'PASS')::float / count(*)
		FROM monitoring.evaluations e
		WHERE e.created_at > $1 AND ($2 = '' OR e.agent_type = $2)
		GROUP BY 1, 2
		ORDER BY 1 ASC`,
		since, agentType,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: metrics trend: %w", err)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var p model.TrendPoint
		if err := trendRows.Scan(&p.Date, &p.Agent, &p.Accuracy); err != nil {
			return resp, fmt.Errorf("storage: scan trend point: %w", err)
		}
		resp.Trend = append(resp.Trend, p)
	}
	return resp, trendRows.Err()
}

// GetDriftSummary aggregates the drift band distribution, recent high-drift
// samples with joined telemetry, and the daily drift-score trend.
func (db *DB) GetDriftSummary(ctx context.Context, agentType string, windowDays, sampleLimit int) (model.DriftResponse, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	if sampleLimit <= 0 {
		sampleLimit = 10
	}
	resp := model.DriftResponse{
		Distribution:     map[string]model.DriftBandStats{},
		HighDriftSamples: []model.DriftSample{},
		Trend:            []model.DriftTrendPoint{},
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := db.pool.Query(ctx, `
		SELECT d.drift_classification, count(*), COALESCE(avg(d.drift_score), 0),
		       count(*) FILTER (WHERE d.is_anomaly)
		FROM monitoring.drift_monitoring d
		JOIN monitoring.queries q ON q.query_id = d.query_id
		WHERE d.created_at > $1 AND ($2 = '' OR q.agent_type = $2)
		GROUP BY d.drift_classification`,
		since, agentType,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: drift distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var stats model.DriftBandStats
		var anomalies int
		if err := rows.Scan(&class, &stats.Count, &stats.AvgDriftScore, &anomalies); err != nil {
			return resp, fmt.Errorf("storage: scan drift band: %w", err)
		}
		resp.Distribution[class] = stats
		resp.TotalAnomalies += anomalies
	}
	if err := rows.Err(); err != nil {
		return resp, err
	}

	sampleRows, err := db.pool.Query(ctx, `
		SELECT d.query_id, d.drift_score, d.drift_classification,
		       q.query_text, COALESCE(q.generated_sql, ''), q.agent_type
		FROM monitoring.drift_monitoring d
		JOIN monitoring.queries q ON q.query_id = d.query_id
		WHERE d.drift_classification = 'high' AND d.created_at > $1
		  AND ($2 = '' OR q.agent_type = $2)
		ORDER BY d.drift_score DESC LIMIT $3`,
		since, agentType, sampleLimit,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: drift samples: %w", err)
	}
	defer sampleRows.Close()
	for sampleRows.Next() {
		var s model.DriftSample
		if err := sampleRows.Scan(&s.QueryID, &s.DriftScore, &s.Classification, &s.QueryText, &s.SQL, &s.AgentType); err != nil {
			return resp, fmt.Errorf("storage: scan drift sample: %w", err)
		}
		resp.HighDriftSamples = append(resp.HighDriftSamples, s)
	}
	if err := sampleRows.Err(); err != nil {
		return resp, err
	}

	trendRows, err := db.pool.Query(ctx, `
		SELECT to_char(date_trunc('day', d.created_at), 'YYYY-MM-DD'), COALESCE(avg(d.drift_score), 0)
		FROM monitoring.drift_monitoring d
		JOIN monitoring.queries q ON q.query_id = d.query_id
		WHERE d.created_at > $1 AND ($2 = '' OR q.agent_type = $2)
		GROUP BY 1 ORDER BY 1 ASC`,
		since, agentType,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: drift trend: %w", err)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var p model.DriftTrendPoint
		if err := trendRows.Scan(&p.Date, &p.AvgScore); err != nil {
			return resp, fmt.Errorf("storage: scan drift trend: %w", err)
		}
		resp.Trend = append(resp.Trend, p)
	}
	return resp, trendRows.Err()
}

// GetErrorSummary aggregates error categories with severity breakdowns and
// lists recent classified errors with joined telemetry.
func (db *DB) GetErrorSummary(ctx context.Context, agentType string, windowDays, recentLimit int) (model.ErrorsResponse, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	if recentLimit <= 0 {
		recentLimit = 20
	}
	resp := model.ErrorsResponse{
		Categories:   map[string]model.ErrorCategoryStats{},
		RecentErrors: []model.RecentError{},
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := db.pool.Query(ctx, `
		SELECT e.error_category, e.severity, count(*)
		FROM monitoring.errors e
		JOIN monitoring.queries q ON q.query_id = e.query_id
		WHERE e.last_seen > $1 AND ($2 = '' OR q.agent_type = $2)
		GROUP BY e.error_category, e.severity`,
		since, agentType,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: error categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category, severity string
		var count int
		if err := rows.Scan(&category, &severity, &count); err != nil {
			return resp, fmt.Errorf("storage: scan error category: %w", err)
		}
		stats := resp.Categories[category]
		if stats.Severities == nil {
			stats.Severities = map[string]int{}
		}
		stats.Count += count
		stats.Severities[severity] += count
		resp.Categories[category] = stats
		resp.TotalErrors += count
	}
	if err := rows.Err(); err != nil {
		return resp, err
	}

	recentRows, err := db.pool.Query(ctx, `
		SELECT e.query_id, e.error_category, e.error_message, e.severity, q.query_text
		FROM monitoring.errors e
		JOIN monitoring.queries q ON q.query_id = e.query_id
		WHERE e.last_seen > $1 AND ($2 = '' OR q.agent_type = $2)
		ORDER BY e.last_seen DESC LIMIT $3`,
		since, agentType, recentLimit,
	)
	if err != nil {
		return resp, fmt.Errorf("storage: recent errors: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var e model.RecentError
		if err := recentRows.Scan(&e.QueryID, &e.Category, &e.Message, &e.Severity, &e.QueryText); err != nil {
			return resp, fmt.Errorf("storage: scan recent error: %w", err)
		}
		resp.RecentErrors = append(resp.RecentErrors, e)
	}
	return resp, recentRows.Err()
}

// GetHistory returns recent queries joined with their evaluation and drift
// rows, newest first. Queries still in the pipeline appear with pending
// placeholders rather than being hidden.
func (db *DB) GetHistory(ctx context.Context, agentType string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT q.query_id, q.query_text, q.agent_type, q.created_at,
		       e.result, e.confidence,
		       d.drift_score, d.drift_classification,
		       (SELECT er.error_category FROM monitoring.errors er
		        WHERE er.query_id = q.query_id ORDER BY er.id ASC LIMIT 1)
		FROM monitoring.queries q
		LEFT JOIN monitoring.evaluations e ON e.query_id = q.query_id
		LEFT JOIN monitoring.drift_monitoring d ON d.query_id = q.query_id
		WHERE ($1 = '' OR q.agent_type = $1)
		ORDER BY q.created_at DESC LIMIT $2`,
		agentType, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		var result, driftClass, errCategory *string
		var confidence, driftScore *float64
		if err := rows.Scan(&h.QueryID, &h.Prompt, &h.AgentType, &h.Timestamp,
			&result, &confidence, &driftScore, &driftClass, &errCategory); err != nil {
			return nil, fmt.Errorf("storage: scan history entry: %w", err)
		}
		h.CorrectnessVerdict = "pending"
		if result != nil {
			h.CorrectnessVerdict = *result
		}
		if confidence != nil {
			h.EvaluationConfidence = *confidence
		}
		if driftScore != nil {
			h.DriftScore = *driftScore
		}
		h.DriftLevel = "unknown"
		if driftClass != nil {
			h.DriftLevel = *driftClass
		}
		h.ErrorBucket = "none"
		if errCategory != nil {
			h.ErrorBucket = *errCategory
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// GetRunDetail assembles the full view of one run: telemetry plus the
// evaluation and drift rows when the pipeline has produced them.
func (db *DB) GetRunDetail(ctx context.Context, queryID string) (model.RunDetail, error) {
	q, err := db.GetQuery(ctx, queryID)
	if err != nil {
		return model.RunDetail{}, err
	}

	detail := model.RunDetail{
		QueryID:    q.QueryID,
		UserPrompt: q.QueryText,
		AgentType:  q.AgentType,
		Status:     string(q.Status),
		Timestamp:  &q.CreatedAt,
		Evaluation: model.RunEvaluation{Verdict: "pending"},
		Drift:      model.RunDrift{Status: "unknown"},
	}
	if q.GeneratedSQL != nil {
		detail.GeneratedSQL = *q.GeneratedSQL
	}

	if e, err := db.GetEvaluation(ctx, queryID); err == nil {
		detail.Evaluation.Verdict = string(e.Result)
		detail.Evaluation.Confidence = e.Confidence
		detail.Evaluation.Score = e.FinalScore
		if e.Reasoning != nil {
			detail.Evaluation.Reasoning = *e.Reasoning
		}
		detail.Evaluation.Scores = map[string]any{
			"structural": e.StructuralScore,
			"semantic":   e.SemanticScore,
			"llm":        e.LLMScore,
		}
	}
	if d, err := db.GetDrift(ctx, queryID); err == nil {
		detail.Drift.Score = d.DriftScore
		detail.Drift.Status = string(d.DriftClassification)
	}
	return detail, nil
}

// AgentScoreWindow holds recent scoring stats for one agent, used to
// synthesize degraded-accuracy alerts.
type AgentScoreWindow struct {
	AgentType string
	Count     int
	AvgScore  float64
}

// RecentScoreWindows returns the average final score over each agent's last
// lastN evaluations.
func (db *DB) RecentScoreWindows(ctx context.Context, lastN int) ([]AgentScoreWindow, error) {
	if lastN <= 0 {
		lastN = 50
	}
	rows, err := db.pool.Query(ctx, `
		SELECT agent_type, count(*), COALESCE(avg(final_score), 0)
		FROM (
			SELECT agent_type, final_score,
			       row_number() OVER (PARTITION BY agent_type ORDER BY created_at DESC) AS rn
			FROM monitoring.evaluations
		) t
		WHERE rn <= $1
		GROUP BY agent_type`,
		lastN,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent score windows: %w", err)
	}
	defer rows.Close()

	var out []AgentScoreWindow
	for rows.Next() {
		var w AgentScoreWindow
		if err := rows.Scan(&w.AgentType, &w.Count, &w.AvgScore); err != nil {
			return nil, fmt.Errorf("storage: scan score window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetAgentSummaries returns the dashboard view of all agents with their
// trailing accuracy, request volume, and latency.
func (db *DB) GetAgentSummaries(ctx context.Context, windowDays int) ([]model.AgentSummary, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := db.pool.Query(ctx, `
		SELECT a.agent_id, a.agent_name, a.status,
		       COALESCE(count(e.query_id), 0),
		       COALESCE(count(e.query_id) FILTER (WHERE e.result = 'PASS'), 0),
		       COALESCE(avg(q.execution_time_ms), 0)
		FROM platform.agents a
		LEFT JOIN monitoring.queries q
		       ON lower(q.agent_type) = lower(a.agent_name) AND q.created_at > $1
		LEFT JOIN monitoring.evaluations e ON e.query_id = q.query_id
		GROUP BY a.agent_id, a.agent_name, a.status
		ORDER BY a.agent_id ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: agent summaries: %w", err)
	}
	defer rows.Close()

	var out []model.AgentSummary
	for rows.Next() {
		var s model.AgentSummary
		var id int64
		var total, passed int
		var latencyMS float64
		if err := rows.Scan(&id, &s.Name, &s.Status, &total, &passed, &latencyMS); err != nil {
			return nil, fmt.Errorf("storage: scan agent summary: %w", err)
		}
		s.ID = fmt.Sprintf("%d", id)
		s.Requests = total
		if total > 0 {
			s.Accuracy = float64(passed) / float64(total)
		}
		s.LatencyS = latencyMS / 1000.0
		out = append(out, s)
	}
	return out, rows.Err()
}
