package model

import "time"

// ErrorCategory is the fixed error taxonomy.
type ErrorCategory string

const (
	ErrSQLGeneration    ErrorCategory = "SQL_GENERATION"
	ErrContextRetrieval ErrorCategory = "CONTEXT_RETRIEVAL"
	ErrIntegration      ErrorCategory = "INTEGRATION"
	ErrDataError        ErrorCategory = "DATA_ERROR"
	ErrAgentLogic       ErrorCategory = "AGENT_LOGIC"
	ErrUnknown          ErrorCategory = "UNKNOWN"
)

// Severity grades a classified error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorRecord is one classified error. Rows are unique per
// (query_id, category, subcategory); repeats bump frequency_count.
type ErrorRecord struct {
	ID           int64         `json:"id"`
	QueryID      string        `json:"query_id"`
	Category     ErrorCategory `json:"error_category"`
	Subcategory  string        `json:"error_subcategory"`
	ErrorMessage string        `json:"error_message"`
	Severity     Severity      `json:"severity"`
	SuggestedFix *string       `json:"suggested_fix,omitempty"`
	Frequency    int           `json:"frequency_count"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastSeen     time.Time     `json:"last_seen"`
}
