// Package testutil provides shared test infrastructure for integration tests
// that require a Postgres container with pgvector.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    testDB, _ = tc.NewTestDB(context.Background(), logger)
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tessen-ai/kanshi/internal/storage"
	"github.com/tessen-ai/kanshi/migrations"
)

// pgImage ships Postgres 17 with the pgvector extension compiled in, which
// the baseline and drift tables need.
const pgImage = "pgvector/pgvector:pg17"

// TestContainer wraps a running Postgres container and its DSN.
type TestContainer struct {
	Container testcontainers.Container
	DSN       string
}

// MustStartPostgres starts a pgvector-enabled Postgres container and creates
// the vector extension. Exits the process on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "kanshi",
				"POSTGRES_PASSWORD": "kanshi",
				"POSTGRES_DB":       "kanshi",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	must("start container", err)

	host, err := container.Host(ctx)
	must("resolve container host", err)
	port, err := container.MappedPort(ctx, "5432")
	must("resolve container port", err)

	dsn := fmt.Sprintf("postgres://kanshi:kanshi@%s:%s/kanshi?sslmode=disable", host, port.Port())

	// The extension must exist before any pool opens, so pgvector types get
	// registered on the pool's AfterConnect hook.
	conn, err := pgx.Connect(ctx, dsn)
	must("connect for bootstrap", err)
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	must("create vector extension", err)
	_ = conn.Close(ctx)

	return &TestContainer{Container: container, DSN: dsn}
}

func must(step string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: %s: %v\n", step, err)
		os.Exit(1)
	}
}

// NewTestDB opens a storage.DB against the container and applies all
// migrations.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	db, err := storage.New(ctx, tc.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create DB: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger that only surfaces warnings, keeping test
// output readable.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
