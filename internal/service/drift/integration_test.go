package drift_test

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
	"github.com/tessen-ai/kanshi/internal/service/drift"
	"github.com/tessen-ai/kanshi/internal/service/embedding"
	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/internal/testutil"
)

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
	_, hash, prefix, err := auth.GenerateAPIKey(model.NormalizeAgentName(name))
	require.NoError(t, err)

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

func insertQuery(t *testing.T, agent model.Agent, queryID string) model.Query {
	t.Helper()
	q := model.Query{
		QueryID:   queryID,
		QueryText: "total revenue last quarter?",
		AgentType: agent.NormalizedName(),
		Status:    model.QuerySuccess,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.InsertQuery(context.Background(), q))
	return q
}

// driftRow reads the persisted drift row directly so the test can see the
// raw query_embedding column, which GetDrift does not select.
func driftRow(t *testing.T, queryID string) (classification string, embeddingIsNull bool, score float64) {
	t.Helper()
	err := testDB.Pool().QueryRow(context.Background(),
		`SELECT drift_classification, query_embedding IS NULL, drift_score
		 FROM monitoring.drift_monitoring WHERE query_id = $1`, queryID,
	).Scan(&classification, &embeddingIsNull, &score)
	require.NoError(t, err)
	return classification, embeddingIsNull, score
}

// A provider whose vector width disagrees with the stored baseline must
// still produce a persisted sentinel row. The embedding cannot be stored
// (the column is fixed-width), so it lands as NULL.
func TestDetectDimensionMismatchPersists(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "dim_mismatch_agent")
	q := insertQuery(t, agent, "INGEST-DIM_MISMATCH_AGENT-00000001")

	centroid := make([]float32, 1024)
	centroid[0] = 1
	_, err := testDB.InsertBaseline(ctx, model.Baseline{
		AgentType:    agent.NormalizedName(),
		Centroid:     pgvector.NewVector(centroid),
		EmbeddingDim: 1024,
		NumQueries:   5,
	})
	require.NoError(t, err)

	d := drift.NewDetector(testDB, embedding.NewNoopProvider(256), 0.5, 0.3, testutil.TestLogger())
	rec, err := d.Detect(ctx, q.QueryID, agent.NormalizedName(), q.QueryText)
	require.NoError(t, err)
	assert.Equal(t, model.DriftDimensionMismatch, rec.DriftClassification)

	classification, embeddingIsNull, score := driftRow(t, q.QueryID)
	assert.Equal(t, string(model.DriftDimensionMismatch), classification)
	assert.True(t, embeddingIsNull)
	assert.Zero(t, score)
}

func TestDetectNoBaselinePersists(t *testing.T) {
	ctx := context.Background()
	agent := newAgent(t, "no_baseline_agent")
	q := insertQuery(t, agent, "INGEST-NO_BASELINE_AGENT-00000001")

	d := drift.NewDetector(testDB, embedding.NewNoopProvider(1024), 0.5, 0.3, testutil.TestLogger())
	rec, err := d.Detect(ctx, q.QueryID, agent.NormalizedName(), q.QueryText)
	require.NoError(t, err)
	assert.Equal(t, model.DriftNoBaseline, rec.DriftClassification)

	classification, embeddingIsNull, _ := driftRow(t, q.QueryID)
	assert.Equal(t, string(model.DriftNoBaseline), classification)
	assert.True(t, embeddingIsNull)
}
