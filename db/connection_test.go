package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/datapump/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database successfully", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, 5000, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		if err == nil && db != nil {
			err = db.Ping()
			db.Close()
		}
		assert.Error(t, err)
	})

	t.Run("creates database file if it doesn't exist", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "new.db")

		_, err := os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err))

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})
}

func TestStats(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "stats.db"), nil)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO suites (id, name) VALUES ('s1', 'nightly')`)
	require.NoError(t, err)

	stats, err := Stats(db)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["suites"])
	assert.Equal(t, 0, stats["jobs"])
	assert.Equal(t, 4, stats["schema_migrations"])

	db.Close()
	_, err = Stats(db)
	require.Error(t, err)
	assert.True(t, IsDatabaseClosed(err))
	assert.True(t, errors.Is(err, ErrDatabaseClosed))
}
