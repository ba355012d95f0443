package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/phrazzld/assay-api/internal/store"
)

// database/sql does not export the error returned once the pool is closed.
const dbClosedMessage = "sql: database is closed"

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrTokenNotFound
	case IsConnectionError(err):
		return store.Unavailable(op, err)
	default:
		return store.NewStoreError("token", op, "query failed", err)
	}
}

// IsConnectionError reports whether err means the database could not be
// used at all: the pool is closed, the connection is gone, or SQLite gave up
// waiting for a lock or could not open or read the file.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if strings.Contains(err.Error(), dbClosedMessage) {
		return true
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended result codes keep the primary code in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
			return true
		}
	}
	return false
}
