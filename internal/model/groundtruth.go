package model

import "time"

// ExpectedOutput is the captured result of executing a ground-truth SQL
// against the agent DB at generation time.
type ExpectedOutput struct {
	Columns         []string `json:"columns"`
	RowCount        int      `json:"row_count"`
	SampleRows      [][]any  `json:"sample_rows"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
}

// GroundTruthQuery is one generated (NL, SQL, expected output) tuple.
type GroundTruthQuery struct {
	ID              int             `json:"id"`
	NaturalLanguage string          `json:"natural_language"`
	SQL             string          `json:"sql"`
	Complexity      string          `json:"complexity,omitempty"`
	ExpectedOutput  *ExpectedOutput `json:"expected_output"`
	GenerationError *string         `json:"generation_error,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
	Incremental     bool            `json:"incremental,omitempty"`
}

// GroundTruthArtifact is the per-agent ground-truth document stored in the
// object store as <normalized_agent_name>_queries.json.
type GroundTruthArtifact struct {
	AgentID      int64              `json:"agent_id"`
	AgentName    string             `json:"agent_name"`
	TotalQueries int                `json:"total_queries"`
	Queries      []GroundTruthQuery `json:"queries"`
	Metadata     ArtifactMetadata   `json:"metadata"`
}

// ArtifactMetadata records generation provenance.
type ArtifactMetadata struct {
	GeneratedAt        time.Time           `json:"generated_at"`
	SuccessCount       int                 `json:"success_count"`
	FailCount          int                 `json:"fail_count"`
	IncrementalUpdates []IncrementalUpdate `json:"incremental_updates,omitempty"`
}

// IncrementalUpdate records one append run against the artifact.
type IncrementalUpdate struct {
	Timestamp    time.Time `json:"timestamp"`
	QueryCount   int       `json:"query_count"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
}
