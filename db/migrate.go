package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationDir = "sqlite/migrations"

// Migration is one embedded schema change. Version is the numeric file
// prefix; 000 creates schema_migrations itself.
type Migration struct {
	Version string
	File    string
}

// Migrations lists the embedded migrations in apply order.
func Migrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		out = append(out, Migration{Version: strings.SplitN(name, "_", 2)[0], File: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// Pending returns the migrations not yet recorded in schema_migrations.
// On a fresh database every migration is pending.
func Pending(db *sql.DB) ([]Migration, error) {
	all, err := Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists)
	if err != nil {
		if IsDatabaseClosed(err) {
			return nil, errors.Mark(err, ErrDatabaseClosed)
		}
		return nil, errors.Wrap(err, "look up schema_migrations")
	}
	applied := map[string]bool{}
	if exists == 0 {
		return applied, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "iterate schema_migrations")
}

// Migrate applies pending migrations, each in its own transaction.
// log may be nil.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)

	pending, err := Pending(db)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := apply(db, m); err != nil {
			return err
		}
		log.Infow("Applied migration", logger.FieldFile, m.File)
	}
	if len(pending) > 0 {
		logger.AddDBSymbol(log).Infow("Migrations complete", logger.FieldCount, len(pending))
	}
	return nil
}

func apply(db *sql.DB, m Migration) error {
	ddl, err := migrations.ReadFile(path.Join(migrationDir, m.File))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.File)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.File)
	}
	if _, err := tx.Exec(string(ddl)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.File)
}
