package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/datapump/errors"
)

// ErrDatabaseClosed marks statements attempted after the store was closed,
// usually by a worker still finishing during daemon shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or the
// database/sql error for a closed handle, which has no exported sentinel.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is SQLite giving up on a lock held by another
// connection after the busy timeout.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
