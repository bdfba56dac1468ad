package kanshi

import "time"

// TelemetryEvent is the public view of one processed telemetry event,
// delivered to EventHook implementations. It mirrors the persisted query row
// without exposing internal model types.
type TelemetryEvent struct {
	QueryID         string    `json:"query_id"`
	AgentName       string    `json:"agent_name"`
	QueryText       string    `json:"query_text"`
	GeneratedSQL    *string   `json:"generated_sql,omitempty"`
	Status          string    `json:"status"` // "success" or "error"
	ErrorMessage    *string   `json:"error_message,omitempty"`
	ExecutionTimeMS float64   `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// DriftBand names the classification bands drift detection assigns. The
// sentinel bands mark measurements that could not be compared to a baseline.
type DriftBand string

const (
	DriftBandNormal            DriftBand = "normal"
	DriftBandMedium            DriftBand = "medium"
	DriftBandHigh              DriftBand = "high"
	DriftBandNoBaseline        DriftBand = "no_baseline"
	DriftBandDimensionMismatch DriftBand = "dimension_mismatch"
)

// EvalVerdict is the tri-state outcome of an evaluation.
type EvalVerdict string

const (
	VerdictPass  EvalVerdict = "PASS"
	VerdictFail  EvalVerdict = "FAIL"
	VerdictError EvalVerdict = "ERROR"
)
