package groundtruth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

func TestParseGeneratedQueries(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{
			name: "plain array",
			raw:  `[{"natural_language": "count orders", "sql": "SELECT COUNT(*) FROM orders"}]`,
			want: 1,
		},
		{
			name: "fenced with language tag",
			raw: "```json\n[{\"natural_language\": \"q\", \"sql\": \"SELECT 1\"}]\n```",
			want: 1,
		},
		{
			name: "prose around the array",
			raw:  `Here are your queries: [{"natural_language": "q", "sql": "SELECT 1"}] Hope that helps!`,
			want: 1,
		},
		{
			name: "blank entries dropped",
			raw:  `[{"natural_language": "q", "sql": "SELECT 1"}, {"natural_language": "", "sql": "SELECT 2"}, {"natural_language": "x", "sql": ""}]`,
			want: 1,
		},
		{
			name:    "no array",
			raw:     "I cannot generate queries for this schema.",
			wantErr: true,
		},
		{
			name:    "all entries blank",
			raw:     `[{"natural_language": "", "sql": ""}]`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `[{"natural_language": "q", "sql": `,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := parseGeneratedQueries(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, qs, tt.want)
		})
	}
}

func TestGenerationPromptContent(t *testing.T) {
	cols := []model.DiscoveredColumn{
		{SchemaName: "public", TableName: "orders", ColumnName: "id", DataType: "integer"},
		{SchemaName: "public", TableName: "orders", ColumnName: "customer_id", DataType: "integer"},
		{SchemaName: "public", TableName: "customers", ColumnName: "id", DataType: "integer"},
	}
	rels := []agentdb.Relationship{
		{SchemaName: "public", TableName: "orders", ColumnName: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
	}
	samples := []TableSample{
		{Schema: "public", Table: "orders", Columns: []string{"id", "status"},
			Rows: [][]any{{1, "shipped"}, {2, "pending"}, {3, "shipped"}, {4, "pending"}}},
	}

	p := buildGenerationPrompt("Sales Agent", agentdb.DialectPostgres, cols, rels, samples, 25)

	assert.Contains(t, p, "Generate 25 realistic")
	assert.Contains(t, p, "### Table: orders")
	assert.Contains(t, p, "customer_id: integer")
	assert.Contains(t, p, "public.orders.customer_id -> customers.id")
	assert.Contains(t, p, "- 10 simple SELECT")
	assert.Contains(t, p, "- 7 aggregation")
	assert.Contains(t, p, "- 5 JOIN")
	assert.Contains(t, p, "- 2 date/time")
	// status has two distinct sampled values, usable as filter literals.
	assert.Contains(t, p, `status: "shipped", "pending"`)
	assert.Contains(t, p, "INTERVAL '30 days'")
}

func TestIncrementalPromptContent(t *testing.T) {
	cols := []model.DiscoveredColumn{
		{SchemaName: "public", TableName: "refunds", ColumnName: "amount", DataType: "numeric"},
	}
	p := buildIncrementalPrompt("sales", agentdb.DialectMySQL, cols, nil, 10)
	assert.Contains(t, p, "Generate 10 SQL queries")
	assert.Contains(t, p, "### Table: refunds")
	assert.Contains(t, p, "mysql")
	assert.Contains(t, p, "ONLY a valid JSON array")
}

func TestCategoricalValues(t *testing.T) {
	s := TableSample{
		Columns: []string{"id", "region", "note"},
		Rows: [][]any{
			{1, "east", "a"},
			{2, "west", "b"},
			{3, "east", "c"},
			{4, nil, "d"},
		},
	}
	vals := categoricalValues(s)
	require.Len(t, vals, 1)
	assert.Equal(t, "region", vals[0].column)
	assert.Equal(t, []string{`"east"`, `"west"`}, vals[0].values)
}

func TestArtifactFilename(t *testing.T) {
	assert.Equal(t, "sales_agent_queries.json", ArtifactFilename("Sales Agent"))
	assert.Equal(t, "bot_queries.json", ArtifactFilename("  bot "))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "missing_queries.json")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.Exists(ctx, "missing_queries.json"))

	artifact := &model.GroundTruthArtifact{
		AgentID:      7,
		AgentName:    "sales",
		TotalQueries: 1,
		Queries: []model.GroundTruthQuery{
			{ID: 1, NaturalLanguage: "count orders", SQL: "SELECT COUNT(*) FROM orders",
				GeneratedAt: time.Now().UTC()},
		},
		Metadata: model.ArtifactMetadata{GeneratedAt: time.Now().UTC(), SuccessCount: 1},
	}
	require.NoError(t, store.Save(ctx, "sales_queries.json", artifact))
	assert.True(t, store.Exists(ctx, "sales_queries.json"))

	got, ok, err := store.Load(ctx, "sales_queries.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.AgentID)
	require.Len(t, got.Queries, 1)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", got.Queries[0].SQL)
	assert.Equal(t, 1, got.Metadata.SuccessCount)
}
