// Package pgtest starts the PostgreSQL databases used by integration tests.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewPostgresContainer starts a new Postgres container through
// testcontainers and returns its connection DSN.
func NewPostgresContainer(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	withContext := func(msg string, err error) error {
		return fmt.Errorf("pgtest.NewPostgresContainer: %s, %w", msg, err)
	}

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("notasecret"),
		testcontainers.WithWaitStrategy(
			//nolint:mnd // It's ok to use a magic number here.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, "", withContext("failed to run new container", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", withContext("failed to get connection dsn", err)
	}

	return container, dsn, nil
}

// Database returns the DSN of the test database: DATABASE_URL when set,
// a fresh testcontainers instance otherwise. Tests are skipped in short mode.
func Database(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.SkipNow()
	}

	if dsn, ok := os.LookupEnv("DATABASE_URL"); ok {
		return dsn
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, dsn, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	return dsn
}

// Pool returns a connection pool on the DSN, closed at the end of the test.
func Pool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect to %s: %v", dsn, err)
	}

	t.Cleanup(pool.Close)

	return pool
}
