package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAndMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	database, err := Open(ctx, DriverSQLite, ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, Migrate(database, DriverSQLite))
	// Re-running is a no-op.
	require.NoError(t, Migrate(database, DriverSQLite))

	for _, table := range []string{"users", "otp_requests", "refresh_tokens"} {
		var name string
		err := database.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s must exist", table)
		assert.Equal(t, table, name)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "root@/db", zap.NewNop())
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN(":memory:"))
	assert.Equal(t, "app.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("app.db?mode=rwc"))
	assert.Equal(t, "app.db?_pragma=journal_mode(WAL)", sqliteDSN("app.db?_pragma=journal_mode(WAL)"))
}
