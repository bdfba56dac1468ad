package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/model"
	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/internal/testutil"
)

// testDB holds a shared test database for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_DB_TESTS") != "" {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func newAgent(t *testing.T, name string) model.Agent {
	t.Helper()
	raw, hash, prefix, err := auth.GenerateAPIKey(model.NormalizeAgentName(name))
	require.NoError(t, err)
	_ = raw

	agent, err := testDB.CreateAgent(context.Background(), model.Agent{
		AgentName:    name,
		DBURL:        "postgres://user@agent-db/app",
		PollInterval: 30,
		APIKeyHash:   hash,
		APIKeyPrefix: prefix,
	})
	require.NoError(t, err)
	return agent
}

func insertQuery(t *testing.T, agent model.Agent, queryID string, at time.Time) model.Query {
	t.Helper()
	sql := "SELECT COUNT(*) FROM orders"
	q := model.Query{
		QueryID:      queryID,
		QueryText:    "how many orders?",
		AgentType:    agent.NormalizedName(),
		Status:       model.QuerySuccess,
		GeneratedSQL: &sql,
		CreatedAt:    at,
	}
	require.NoError(t, testDB.InsertQuery(context.Background(), q))
	return q
}

func TestCreateAgentDuplicateName(t *testing.T) {
	ctx := context.Background()
	newAgent(t, "dup_agent")

	_, _, _, err := auth.GenerateAPIKey("dup_agent")
	require.NoError(t, err)
	_, err = testDB.CreateAgent(ctx, model.Agent{
		AgentName:  "dup_agent",
		DBURL:      "postgres://user@agent-db/app",
		APIKeyHash: "otherhash", APIKeyPrefix: "ak_dup_agent_",
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestAPIKeyRotation(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "rotating_agent")
	oldHash := agent.APIKeyHash

	found, err := testDB.GetAgentByKeyHash(ctx, oldHash)
	require.NoError(t, err)
	assert.Equal(t, agent.AgentID, found.AgentID)

	_, newHash, newPrefix, err := auth.GenerateAPIKey("rotating_agent")
	require.NoError(t, err)
	require.NoError(t, testDB.RotateAPIKey(ctx, agent.AgentID, newHash, newPrefix))

	// Old hash is unusable immediately; only the new one resolves.
	_, err = testDB.GetAgentByKeyHash(ctx, oldHash)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	found, err = testDB.GetAgentByKeyHash(ctx, newHash)
	require.NoError(t, err)
	assert.Equal(t, agent.AgentID, found.AgentID)
}

func TestQueryInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "idem_agent")
	q := insertQuery(t, agent, "INGEST-IDEM_AGENT-00000001", time.Now().UTC())

	// Re-inserting the same query_id is a no-op, not an error.
	altered := q
	altered.QueryText = "changed text"
	require.NoError(t, testDB.InsertQuery(ctx, altered))

	got, err := testDB.GetQuery(ctx, q.QueryID)
	require.NoError(t, err)
	assert.Equal(t, "how many orders?", got.QueryText)
}

func TestEvaluationUpsert(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "eval_agent")
	q := insertQuery(t, agent, "INGEST-EVAL_AGENT-00000001", time.Now().UTC())

	ev := model.Evaluation{
		QueryID:         q.QueryID,
		AgentType:       agent.NormalizedName(),
		StructuralScore: 1.0,
		FinalScore:      0.62,
		Result:          model.EvalFail,
		EvaluationData:  map[string]any{"path": "heuristic"},
	}
	require.NoError(t, testDB.UpsertEvaluation(ctx, ev))

	ev.FinalScore = 0.91
	ev.Result = model.EvalPass
	require.NoError(t, testDB.UpsertEvaluation(ctx, ev))

	got, err := testDB.GetEvaluation(ctx, q.QueryID)
	require.NoError(t, err)
	assert.Equal(t, model.EvalPass, got.Result)
	assert.InDelta(t, 0.91, got.FinalScore, 1e-9)
}

func TestBaselineVersioning(t *testing.T) {
	ctx := context.Background()
	agentType := "baseline_agent"

	centroid := pgvector.NewVector(make([]float32, 1024))
	first, err := testDB.InsertBaseline(ctx, model.Baseline{
		AgentType: agentType, Centroid: centroid, EmbeddingDim: 1024, NumQueries: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := testDB.InsertBaseline(ctx, model.Baseline{
		AgentType: agentType, Centroid: centroid, EmbeddingDim: 1024, NumQueries: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := testDB.LatestBaseline(ctx, agentType)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 25, latest.NumQueries)
}

func TestErrorRecordFrequency(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "err_agent")
	q := insertQuery(t, agent, "INGEST-ERR_AGENT-00000001", time.Now().UTC())

	rec := model.ErrorRecord{
		QueryID:      q.QueryID,
		Category:     model.ErrContextRetrieval,
		Subcategory:  "undefined_table",
		ErrorMessage: `relation "nonexistent" does not exist`,
		Severity:     model.SeverityHigh,
	}
	require.NoError(t, testDB.UpsertErrorRecord(ctx, rec))
	require.NoError(t, testDB.UpsertErrorRecord(ctx, rec))

	rows, err := testDB.ListErrorsByQuery(ctx, q.QueryID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Frequency)
	assert.False(t, rows[0].LastSeen.Before(rows[0].FirstSeen))
}

func TestWatermarkNeverRewinds(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "poll_agent")

	require.NoError(t, testDB.UpsertQueryLogConfig(ctx, model.QueryLogConfig{
		AgentID:         agent.AgentID,
		SchemaName:      "public",
		TableName:       "query_log",
		QueryTextColumn: "question",
		TimestampColumn: "asked_at",
	}))

	t2 := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)

	require.NoError(t, testDB.AdvanceQueryLogWatermark(ctx, agent.AgentID, t2, nil))
	require.NoError(t, testDB.AdvanceQueryLogWatermark(ctx, agent.AgentID, t1, nil))

	cfg, err := testDB.GetQueryLogConfig(ctx, agent.AgentID)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSeenTimestamp)
	assert.True(t, cfg.LastSeenTimestamp.Equal(t2), "stale caller must not rewind the watermark")
}

func TestDeleteAgentDataCascade(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "doomed_agent")
	q := insertQuery(t, agent, "INGEST-DOOMED_AGENT-00000001", time.Now().UTC())

	require.NoError(t, testDB.UpsertEvaluation(ctx, model.Evaluation{
		QueryID: q.QueryID, AgentType: agent.NormalizedName(), Result: model.EvalPass,
	}))
	require.NoError(t, testDB.UpsertDrift(ctx, model.DriftRecord{
		QueryID: q.QueryID, DriftClassification: model.DriftNoBaseline,
	}))
	require.NoError(t, testDB.UpsertErrorRecord(ctx, model.ErrorRecord{
		QueryID: q.QueryID, Category: model.ErrUnknown, ErrorMessage: "x", Severity: model.SeverityLow,
	}))
	_, err := testDB.InsertBaseline(ctx, model.Baseline{
		AgentType: agent.NormalizedName(), Centroid: pgvector.NewVector(make([]float32, 1024)),
		EmbeddingDim: 1024, NumQueries: 1,
	})
	require.NoError(t, err)

	result, err := testDB.DeleteAgentData(ctx, agent.AgentID, agent.NormalizedName())
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Queries)
	assert.EqualValues(t, 1, result.Evaluations)
	assert.EqualValues(t, 1, result.Drift)
	assert.EqualValues(t, 1, result.Errors)
	assert.EqualValues(t, 1, result.Baselines)
	assert.EqualValues(t, 1, result.Agents)

	_, err = testDB.GetAgent(ctx, agent.AgentID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = testDB.GetQuery(ctx, q.QueryID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
