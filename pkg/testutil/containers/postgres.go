//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer is a running Postgres server with an open pool. DSN is
// suitable for DATABASE_URL.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, image("PHIGATE_TEST_POSTGRES_IMAGE", "postgres:16-alpine"),
		tcpostgres.WithDatabase("phigate"),
		tcpostgres.WithUsername("phigate"),
		tcpostgres.WithPassword("phigate"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres connection string")

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "open postgres")
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx), "ping postgres")

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}
