package quality

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tessen-ai/kanshi/internal/agentdb"
)

// seedDB creates a small SQLite database with known quality defects:
// a mostly-NULL column, duplicate rows, and an orphaned foreign key.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO customers VALUES (1, 'alice'), (2, 'bob')`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, note TEXT)`,
		`INSERT INTO orders VALUES (1, 1, NULL), (2, 2, NULL), (3, 9, NULL), (4, 1, 'rush')`,
		`CREATE TABLE dupes (a TEXT, b TEXT)`,
		`INSERT INTO dupes VALUES ('x', 'y'), ('x', 'y'), ('z', 'w')`,
		`CREATE TABLE empty_t (id INTEGER)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return path
}

func openConn(t *testing.T, path string) *agentdb.Conn {
	t.Helper()
	conn, err := agentdb.Open(context.Background(), path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(context.Background()) })
	return conn
}

func TestRowCount(t *testing.T) {
	conn := openConn(t, seedDB(t))
	v := NewValidator(nil, slog.Default())

	n, err := v.rowCount(context.Background(), conn, agentdb.QualifyTable(conn.Dialect(), "main", "orders"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = v.rowCount(context.Background(), conn, agentdb.QualifyTable(conn.Dialect(), "main", "empty_t"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNullCounts(t *testing.T) {
	conn := openConn(t, seedDB(t))
	v := NewValidator(nil, slog.Default())

	counts := v.nullCounts(context.Background(), conn,
		agentdb.QualifyTable(conn.Dialect(), "main", "orders"),
		[]string{"id", "customer_id", "note"})
	require.NotNil(t, counts)
	assert.Equal(t, int64(0), counts["id"])
	assert.Equal(t, int64(3), counts["note"])
}

func TestDuplicateGroups(t *testing.T) {
	conn := openConn(t, seedDB(t))
	v := NewValidator(nil, slog.Default())

	dups, err := v.duplicateGroups(context.Background(), conn,
		agentdb.QualifyTable(conn.Dialect(), "main", "dupes"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), dups)

	dups, err = v.duplicateGroups(context.Background(), conn,
		agentdb.QualifyTable(conn.Dialect(), "main", "customers"), []string{"id", "name"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), dups)
}

func TestOrphanCount(t *testing.T) {
	conn := openConn(t, seedDB(t))
	v := NewValidator(nil, slog.Default())

	// Order 3 references customer 9, which does not exist.
	orphans, err := v.orphanCount(context.Background(), conn, agentdb.Relationship{
		SchemaName:       "main",
		TableName:        "orders",
		ColumnName:       "customer_id",
		ReferencedTable:  "customers",
		ReferencedColumn: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), orphans)
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{3, 3, true},
		{2.0, 2, true},
		{"15", 15, true},
		{"abc", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := asInt64(tt.in)
		assert.Equal(t, tt.ok, ok)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
