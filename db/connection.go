// Package db opens the local SQLite status store and applies its embedded
// schema migrations.
package db

import (
	"database/sql"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
)

// busyTimeoutMS is how long a statement waits on a lock held by another
// connection (the daemon and the CLI share the file).
const busyTimeoutMS = 5000

var pragmas = []struct {
	stmt, what string
}{
	{"PRAGMA journal_mode = WAL", "enable WAL mode"},
	{"PRAGMA foreign_keys = ON", "enable foreign keys"},
	{"PRAGMA busy_timeout = " + strconv.Itoa(busyTimeoutMS), "set busy timeout"},
}

// Open opens the status store at path with WAL, foreign keys and a busy
// timeout. log may be nil.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	log = logger.AddDBSymbol(logger.OrNop(log))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "%s on %s", p.what, path)
		}
	}

	log.Debugw("Database opened", logger.FieldFile, path)
	return db, nil
}

// OpenWithMigrations opens the store and applies pending migrations.
func OpenWithMigrations(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "migrate %s", path)
	}
	return db, nil
}

// statsTables are the tables counted by Stats, in display order.
var statsTables = []string{"suites", "jobs", "suite_runs", "schema_migrations"}

// Stats returns row counts for the status store tables.
func Stats(db *sql.DB) (map[string]int, error) {
	stats := make(map[string]int, len(statsTables))
	for _, table := range statsTables {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			if IsDatabaseClosed(err) {
				return nil, errors.Mark(err, ErrDatabaseClosed)
			}
			return nil, errors.Wrapf(err, "count %s", table)
		}
		stats[table] = n
	}
	return stats, nil
}
