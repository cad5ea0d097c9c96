// Package testutil opens throwaway databases carrying the reference schema.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Ramsey-B/fern/pkg/database"
)

// PostgresEnv enables the container backed tests.
const PostgresEnv = "FERN_POSTGRES_TESTS"

func Logger(t testing.TB) ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)), nil)
}

// NewSQLite opens a file backed SQLite database in a temp dir with the
// reference schema applied.
func NewSQLite(t testing.TB) database.DB {
	t.Helper()

	logger := Logger(t)
	db, err := database.Open(context.Background(), database.ConnectionConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "fern.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrationService(logger, nil).Bootstrap(db))
	return db
}

// NewPostgres starts a disposable PostgreSQL container. It skips unless
// FERN_POSTGRES_TESTS is set, since it needs a docker daemon.
func NewPostgres(t testing.TB) database.DB {
	t.Helper()

	if testing.Short() || os.Getenv(PostgresEnv) == "" {
		t.Skipf("set %s=1 to run PostgreSQL tests", PostgresEnv)
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "user",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "fern",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	logger := Logger(t)
	db, err := database.Open(ctx, database.ConnectionConfig{
		Driver:   database.DriverPgx,
		Host:     host,
		Port:     port.Port(),
		User:     "user",
		Password: "password",
		Name:     "fern",
		SSLMode:  "disable",
	}, logger)
	require.NoError(t, err, fmt.Sprintf("connect to %s:%s", host, port.Port()))
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrationService(logger, nil).Bootstrap(db))
	return db
}

// Exec runs DDL or fixture statements, failing the test on error.
func Exec(t testing.TB, db database.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// Count returns SELECT COUNT(*) for the given FROM/WHERE tail.
func Count(t testing.TB, db database.Querier, tail string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, db.Rebind("SELECT COUNT(*) FROM "+tail), args...))
	return n
}
