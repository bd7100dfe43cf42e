package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container for testing and applies the
// sales schema. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	applySchema(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// applySchema creates the sales table. Mirrors the embedded migration; kept
// inline so the test package does not import the migrations package.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sales (
			sale_id     TEXT PRIMARY KEY,
			item        TEXT NOT NULL,
			listing     TEXT NOT NULL,
			domain      TEXT NOT NULL,
			seller      TEXT NOT NULL,
			buyer       TEXT NOT NULL,
			currency    TEXT NOT NULL,
			price       BIGINT NOT NULL,
			fee         BIGINT NOT NULL,
			occurred_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sales_item ON sales (item, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_sales_domain ON sales (domain, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_sales_occurred_at ON sales (occurred_at);
	`)
	require.NoError(t, err, "failed to apply sales schema")
}
