package kanshi

import "fmt"

// Status values accepted by the ingest endpoint.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is one telemetry report: the natural-language query an agent
// received, what it did with it, and how it went. The server ignores any
// agent identity in the body; identity comes from the API key.
type Event struct {
	QueryText       string  `json:"query_text"`
	Status          string  `json:"status"`
	SQL             *string `json:"sql,omitempty"`
	Error           *string `json:"error,omitempty"`
	ExecutionTimeMS float64 `json:"execution_time_ms,omitempty"`
}

func (e Event) validate() error {
	if e.QueryText == "" {
		return fmt.Errorf("kanshi: QueryText is required")
	}
	if e.Status != StatusSuccess && e.Status != StatusError {
		return fmt.Errorf("kanshi: Status must be %q or %q", StatusSuccess, StatusError)
	}
	return nil
}

// IngestResult is the server's acknowledgement of a persisted event.
type IngestResult struct {
	Status  string `json:"status"` // always "ingested" on success
	QueryID string `json:"query_id"`
}
