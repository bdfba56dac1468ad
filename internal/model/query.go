package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the agent-reported outcome of one text-to-SQL request.
type QueryStatus string

const (
	QuerySuccess QueryStatus = "success"
	QueryError   QueryStatus = "error"
)

// Query is one raw telemetry event. Immutable after insert; derived rows
// (evaluation, drift, errors) reference it by query_id.
type Query struct {
	QueryID         string      `json:"query_id"`
	QueryText       string      `json:"query_text"`
	AgentType       string      `json:"agent_type"`
	Status          QueryStatus `json:"status"`
	GeneratedSQL    *string     `json:"generated_sql,omitempty"`
	ErrorMessage    *string     `json:"error_message,omitempty"`
	ExecutionTimeMS float64     `json:"execution_time_ms"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Query-id sources: synchronous ingest vs query-log polling.
const (
	SourceIngest = "INGEST"
	SourcePoll   = "POLL"
)

// NewQueryID builds a platform-assigned id like INGEST-SALES_AGENT-1a2b3c4d.
func NewQueryID(source, agentName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", source, strings.ToUpper(NormalizeAgentName(agentName)), suffix)
}
