package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // driver registration
)

const sqliteDriverName = "sqlite3"

// OpenSQLite opens (or creates) a SQLite database file and returns a Store that owns the connection.
// Call Close when done and Migrate before first use.
//
// SQLite allows a single writer, so the pool is limited to one connection and
// concurrent commits queue on it. Transactions begin immediately, which takes the write lock
// up front and serializes commits of several processes sharing the file.
func OpenSQLite(path string, options ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path)

	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	store, err := NewFromSQLDB(db, append([]Option{WithDialect(DialectSQLite)}, options...)...)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	store.closer = db

	return store, nil
}
