package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)

	// single connection, so the table is visible on the next query
	var n int
	require.NoError(t, database.Get(&n, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 0, n)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "mirror.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestNewSqliteDB_PoolSettings(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mirror.db")

	database, err := NewSqliteDB(
		WithPath(dbPath),
		WithMaxOpenConns(3),
		WithMaxIdleConns(5),
		WithBusyTimeout(1500*time.Millisecond),
		WithConnMaxLifetime(time.Minute),
	)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, 3, database.Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, database.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	// the DSN parameter reaches pooled connections, not only the first one
	var timeout int
	require.NoError(t, database.Get(&timeout, "PRAGMA busy_timeout"))
	assert.Equal(t, 1500, timeout)
}

func TestNewSqliteDB_MemoryIsSingleConnection(t *testing.T) {
	database, err := NewSqliteDB(WithPath(":memory:"), WithMaxOpenConns(8))
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestOpen_MigratesBaseSchema(t *testing.T) {
	database, err := Open(context.Background())
	require.NoError(t, err)
	defer database.Close()

	for _, table := range []string{
		"agents", "users", "customers", "invoices", "line_items",
		"registrations", "templates", "payments", "submitted_payments",
	} {
		var name string
		err := database.Get(&name, "SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// idempotent
	require.NoError(t, Migrate(context.Background(), database))
}

func TestMigrate_WrapsError(t *testing.T) {
	orig := gooseUp
	t.Cleanup(func() { gooseUp = orig })
	gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
		return errors.New("boom")
	}

	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	err = Migrate(context.Background(), database)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate: boom")
}
