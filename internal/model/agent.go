package model

import (
	"fmt"
	"strings"
	"time"
)

// AgentStatus tracks the registration lifecycle of an agent.
type AgentStatus string

const (
	AgentPending     AgentStatus = "pending"
	AgentDiscovering AgentStatus = "discovering"
	AgentActive      AgentStatus = "active"
	AgentError       AgentStatus = "error"
)

// GTStatus tracks the ground-truth generation state machine.
type GTStatus string

const (
	GTPending    GTStatus = "pending"
	GTInProgress GTStatus = "in_progress"
	GTSuccess    GTStatus = "success"
	GTFailed     GTStatus = "failed"
)

// HealthStatus is the result of the periodic agent health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthSDKIssue  HealthStatus = "sdk_issue"
	HealthUnknown   HealthStatus = "unknown"
)

// Agent is a registered text-to-SQL agent observed by the platform.
type Agent struct {
	AgentID      int64       `json:"agent_id"`
	AgentName    string      `json:"agent_name"`
	DisplayName  *string     `json:"display_name,omitempty"`
	Description  *string     `json:"description,omitempty"`
	DBURL        string      `json:"-"`
	AgentURL     *string     `json:"agent_url,omitempty"`
	PollInterval int         `json:"poll_interval_s"`
	Status       AgentStatus `json:"status"`
	LastError    *string     `json:"last_error,omitempty"`

	// Never serialized; the raw key is returned exactly once at registration.
	APIKeyHash   string `json:"-"`
	APIKeyPrefix string `json:"api_key_prefix"`

	GTStatus      GTStatus   `json:"gt_status"`
	GTError       *string    `json:"gt_error,omitempty"`
	GTQueryCount  int        `json:"gt_query_count"`
	GTRetryCount  int        `json:"gt_retry_count"`
	GTLastRetryAt *time.Time `json:"gt_last_retry_at,omitempty"`

	SchemaVersion     int        `json:"schema_version"`
	LastSchemaScanAt  *time.Time `json:"last_schema_scan_at,omitempty"`
	SchemaChangeCount int        `json:"schema_change_count"`

	HealthStatus      HealthStatus `json:"health_status"`
	HealthDetail      *string      `json:"health_detail,omitempty"`
	LastHealthCheckAt *time.Time   `json:"last_health_check_at,omitempty"`
	LastPolledAt      *time.Time   `json:"last_polled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizedName returns the agent name in artifact-key form:
// lowercase with spaces replaced by underscores.
func (a *Agent) NormalizedName() string {
	return NormalizeAgentName(a.AgentName)
}

// NormalizeAgentName maps an agent name to its object-store artifact key stem.
func NormalizeAgentName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ValidateAgentName checks the registration name: non-empty, length-bounded,
// and restricted to characters safe for ids and artifact keys.
func ValidateAgentName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("agent_name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("agent_name exceeds maximum length of 64 characters")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == ' ':
		default:
			return fmt.Errorf("agent_name contains invalid character %q", r)
		}
	}
	return nil
}

// DiscoveredColumn is one column found in an agent's database.
type DiscoveredColumn struct {
	AgentID      int64     `json:"agent_id"`
	SchemaName   string    `json:"schema_name"`
	TableName    string    `json:"table_name"`
	ColumnName   string    `json:"column_name"`
	DataType     string    `json:"data_type"`
	IsNullable   bool      `json:"is_nullable"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// QueryLogConfig locates the optional query-log table inside an agent's own DB
// and carries the poller watermark.
type QueryLogConfig struct {
	AgentID           int64      `json:"agent_id"`
	SchemaName        string     `json:"schema_name"`
	TableName         string     `json:"table_name"`
	QueryTextColumn   string     `json:"query_text_column"`
	SQLColumn         *string    `json:"sql_column,omitempty"`
	TimestampColumn   string     `json:"timestamp_column"`
	StatusColumn      *string    `json:"status_column,omitempty"`
	ErrorColumn       *string    `json:"error_column,omitempty"`
	IDColumn          *string    `json:"id_column,omitempty"`
	LastSeenTimestamp *time.Time `json:"last_seen_timestamp,omitempty"`
	LastSeenID        *string    `json:"last_seen_id,omitempty"`
	DetectedAt        time.Time  `json:"detected_at"`
}

// SchemaChange is one append-only record of a detected agent-DB schema change.
type SchemaChange struct {
	ID           int64     `json:"id"`
	AgentID      int64     `json:"agent_id"`
	ChangeType   string    `json:"change_type"` // table_added | column_added
	SchemaName   string    `json:"schema_name"`
	TableName    string    `json:"table_name"`
	ColumnName   *string   `json:"column_name,omitempty"`
	DataType     *string   `json:"data_type,omitempty"`
	GTGenerated  bool      `json:"gt_generated"`
	GTQueryCount int       `json:"gt_query_count"`
	DetectedAt   time.Time `json:"detected_at"`
}

// DataQualityIssue is an informational finding from agent-DB validation.
type DataQualityIssue struct {
	ID         int64     `json:"id"`
	AgentID    int64     `json:"agent_id"`
	SchemaName string    `json:"schema_name"`
	TableName  string    `json:"table_name"`
	ColumnName *string   `json:"column_name,omitempty"`
	IssueType  string    `json:"issue_type"`
	Detail     string    `json:"detail"`
	Severity   string    `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}
