package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tessen-ai/kanshi/internal/model"
)

const agentColumns = `agent_id, agent_name, display_name, description, db_url, agent_url,
	poll_interval_s, status, last_error, api_key_hash, api_key_prefix,
	gt_status, gt_error, gt_query_count, gt_retry_count, gt_last_retry_at,
	schema_version, last_schema_scan_at, schema_change_count,
	health_status, health_detail, last_health_check_at, last_polled_at,
	created_at, updated_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.AgentID, &a.AgentName, &a.DisplayName, &a.Description, &a.DBURL, &a.AgentURL,
		&a.PollInterval, &a.Status, &a.LastError, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.GTStatus, &a.GTError, &a.GTQueryCount, &a.GTRetryCount, &a.GTLastRetryAt,
		&a.SchemaVersion, &a.LastSchemaScanAt, &a.SchemaChangeCount,
		&a.HealthStatus, &a.HealthDetail, &a.LastHealthCheckAt, &a.LastPolledAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}

// CreateAgent inserts a new agent. Names are unique case-insensitively;
// violating that returns ErrDuplicate.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`INSERT INTO platform.agents
		 (agent_name, display_name, description, db_url, agent_url, poll_interval_s,
		  status, api_key_hash, api_key_prefix, gt_status, health_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+agentColumns,
		agent.AgentName, agent.DisplayName, agent.Description, agent.DBURL, agent.AgentURL,
		agent.PollInterval, string(model.AgentPending), agent.APIKeyHash, agent.APIKeyPrefix,
		string(model.GTPending), string(model.HealthUnknown),
	)
	created, err := scanAgent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Agent{}, fmt.Errorf("storage: agent %q: %w", agent.AgentName, ErrDuplicate)
		}
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return created, nil
}

// GetAgent retrieves an agent by its numeric id.
func (db *DB) GetAgent(ctx context.Context, agentID int64) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM platform.agents WHERE agent_id = $1`, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// GetAgentByName retrieves an agent by name, case-insensitively.
func (db *DB) GetAgentByName(ctx context.Context, name string) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM platform.agents WHERE lower(agent_name) = lower($1)`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %q: %w", name, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent by name: %w", err)
	}
	return a, nil
}

// GetAgentByKeyHash retrieves an agent by its API key hash. This is the hot
// path of SDK authentication; the hash column carries a unique index.
func (db *DB) GetAgentByKeyHash(ctx context.Context, keyHash string) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM platform.agents WHERE api_key_hash = $1`, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: api key: %w", ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent by key hash: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents ordered by creation time.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM platform.agents ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent performs a partial update of mutable registration fields.
// Only non-nil arguments are applied.
func (db *DB) UpdateAgent(ctx context.Context, agentID int64, displayName, description, agentURL, dbURL *string, pollInterval *int) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`UPDATE platform.agents
		 SET display_name = COALESCE($1, display_name),
		     description = COALESCE($2, description),
		     agent_url = COALESCE($3, agent_url),
		     db_url = COALESCE($4, db_url),
		     poll_interval_s = COALESCE($5, poll_interval_s),
		     updated_at = now()
		 WHERE agent_id = $6
		 RETURNING `+agentColumns,
		displayName, description, agentURL, dbURL, pollInterval, agentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: update agent: %w", err)
	}
	return a, nil
}

// UpdateAgentStatus sets the lifecycle status and optional error detail.
func (db *DB) UpdateAgentStatus(ctx context.Context, agentID int64, status model.AgentStatus, lastError *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET status = $1, last_error = $2, updated_at = now() WHERE agent_id = $3`,
		string(status), lastError, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
	}
	return nil
}

// UpdateAgentGTStatus advances the ground-truth state machine.
func (db *DB) UpdateAgentGTStatus(ctx context.Context, agentID int64, status model.GTStatus, gtError *string, queryCount int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE platform.agents
		 SET gt_status = $1, gt_error = $2, gt_query_count = $3, updated_at = now()
		 WHERE agent_id = $4`,
		string(status), gtError, queryCount, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: update gt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
	}
	return nil
}

// IncrementGTRetry records one retry attempt against the agent.
func (db *DB) IncrementGTRetry(ctx context.Context, agentID int64) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`UPDATE platform.agents
		 SET gt_retry_count = gt_retry_count + 1, gt_last_retry_at = now(), updated_at = now()
		 WHERE agent_id = $1
		 RETURNING gt_retry_count`, agentID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
		}
		return 0, fmt.Errorf("storage: increment gt retry: %w", err)
	}
	return count, nil
}

// ResetGTRetry clears the retry counter after a successful generation.
func (db *DB) ResetGTRetry(ctx context.Context, agentID int64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET gt_retry_count = 0, updated_at = now() WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("storage: reset gt retry: %w", err)
	}
	return nil
}

// UpdateAgentSchemaScan bumps schema bookkeeping after a scan.
func (db *DB) UpdateAgentSchemaScan(ctx context.Context, agentID int64, newChanges int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents
		 SET schema_version = schema_version + CASE WHEN $1 > 0 THEN 1 ELSE 0 END,
		     schema_change_count = schema_change_count + $1,
		     last_schema_scan_at = now(),
		     updated_at = now()
		 WHERE agent_id = $2`,
		newChanges, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: update schema scan: %w", err)
	}
	return nil
}

// UpdateAgentHealth records the outcome of one health check.
func (db *DB) UpdateAgentHealth(ctx context.Context, agentID int64, status model.HealthStatus, detail *string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents
		 SET health_status = $1, health_detail = $2, last_health_check_at = now(), updated_at = now()
		 WHERE agent_id = $3`,
		string(status), detail, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: update agent health: %w", err)
	}
	return nil
}

// TouchLastPolled updates last_polled_at after a poll cycle.
func (db *DB) TouchLastPolled(ctx context.Context, agentID int64, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET last_polled_at = $1 WHERE agent_id = $2`, at, agentID)
	if err != nil {
		return fmt.Errorf("storage: touch last_polled: %w", err)
	}
	return nil
}

// RotateAPIKey replaces the stored key hash and prefix, invalidating the old key.
func (db *DB) RotateAPIKey(ctx context.Context, agentID int64, keyHash, keyPrefix string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE platform.agents SET api_key_hash = $1, api_key_prefix = $2, updated_at = now() WHERE agent_id = $3`,
		keyHash, keyPrefix, agentID,
	)
	if err != nil {
		return fmt.Errorf("storage: rotate api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %d: %w", agentID, ErrNotFound)
	}
	return nil
}
