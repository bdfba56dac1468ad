package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

func dcol(schema, table, column, dt string) model.DiscoveredColumn {
	return model.DiscoveredColumn{SchemaName: schema, TableName: table, ColumnName: column, DataType: dt}
}

func TestDiffSchemasNewTableAndColumn(t *testing.T) {
	stored := []model.DiscoveredColumn{
		dcol("public", "orders", "id", "integer"),
		dcol("public", "orders", "total", "numeric"),
	}
	fresh := []model.DiscoveredColumn{
		dcol("public", "orders", "id", "integer"),
		dcol("public", "orders", "total", "numeric"),
		dcol("public", "orders", "discount", "numeric"),
		dcol("public", "refunds", "id", "integer"),
		dcol("public", "refunds", "amount", "numeric"),
	}

	changes, newCols := diffSchemas(1, stored, fresh)
	require.Len(t, newCols, 3)

	byType := map[string]int{}
	for _, ch := range changes {
		byType[ch.ChangeType]++
	}
	// One new table (recorded once despite two columns) and one new column.
	assert.Equal(t, 1, byType["table_added"], "%+v", changes)
	assert.Equal(t, 1, byType["column_added"])

	for _, ch := range changes {
		if ch.ChangeType == "column_added" {
			require.NotNil(t, ch.ColumnName)
			assert.Equal(t, "discount", *ch.ColumnName)
		}
	}
}

func TestDiffSchemasNoChanges(t *testing.T) {
	cols := []model.DiscoveredColumn{dcol("public", "orders", "id", "integer")}
	changes, newCols := diffSchemas(1, cols, cols)
	assert.Empty(t, changes)
	assert.Empty(t, newCols)
}

func TestDiffSchemasEmptyStored(t *testing.T) {
	fresh := []model.DiscoveredColumn{
		dcol("public", "orders", "id", "integer"),
		dcol("public", "orders", "total", "numeric"),
	}
	changes, newCols := diffSchemas(1, nil, fresh)
	require.Len(t, changes, 1)
	assert.Equal(t, "table_added", changes[0].ChangeType)
	assert.Len(t, newCols, 2)
}

func TestPollDue(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Second)
	stale := now.Add(-20 * time.Second)

	assert.True(t, pollDue(model.Agent{PollInterval: 5}, now), "never polled")
	assert.False(t, pollDue(model.Agent{PollInterval: 5, LastPolledAt: &recent}, now))
	assert.True(t, pollDue(model.Agent{PollInterval: 5, LastPolledAt: &stale}, now))
	assert.True(t, pollDue(model.Agent{PollInterval: 0, LastPolledAt: &recent}, now), "zero interval polls every cycle")
}

func TestLogRowToQuery(t *testing.T) {
	agent := model.Agent{AgentName: "Sales Agent"}
	ts := time.Now().UTC()
	sql := "SELECT 1"
	errMsg := "relation missing"
	failed := "failed"

	q := logRowToQuery(agent, agentdb.LogRow{QueryText: "count orders", SQL: &sql, Timestamp: ts})
	assert.Equal(t, model.QuerySuccess, q.Status)
	assert.Equal(t, "sales_agent", q.AgentType)
	assert.Contains(t, q.QueryID, "POLL-SALES_AGENT-")
	assert.Equal(t, ts, q.CreatedAt)

	q = logRowToQuery(agent, agentdb.LogRow{QueryText: "q", Error: &errMsg, Timestamp: ts})
	assert.Equal(t, model.QueryError, q.Status)
	require.NotNil(t, q.ErrorMessage)

	q = logRowToQuery(agent, agentdb.LogRow{QueryText: "q", Status: &failed, Timestamp: ts})
	assert.Equal(t, model.QueryError, q.Status)
	assert.Nil(t, q.ErrorMessage)
}

func TestStatusIsFailure(t *testing.T) {
	assert.True(t, statusIsFailure("Error"))
	assert.True(t, statusIsFailure(" failed "))
	assert.True(t, statusIsFailure("0"))
	assert.False(t, statusIsFailure("success"))
	assert.False(t, statusIsFailure("ok"))
}
