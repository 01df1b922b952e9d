package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupSQLiteDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, Config{Type: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(ctx, ""))

	t.Cleanup(func() { db.Close() })
	return db
}

// setupPostgresDB starts a throwaway Postgres container. It needs Docker, so it
// only runs when SITEWATCH_PG_TESTS is set.
func setupPostgresDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("SITEWATCH_PG_TESTS") == "" {
		t.Skip("set SITEWATCH_PG_TESTS=1 to run postgres tests")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sitewatch_test"),
		postgres.WithUsername("sitewatch_test"),
		postgres.WithPassword("sitewatch_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := NewDB(ctx, Config{
		Type:     "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "sitewatch_test",
		Password: "sitewatch_test_password",
		Name:     "sitewatch_test",
	})
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(ctx, ""))

	t.Cleanup(func() { db.Close() })
	return db
}
