package sqlstore

import "errors"

var (
	// ErrNilDatabaseConnection is returned when a nil database connection is passed to a constructor.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTablePrefix is returned by WithTablePrefix for an empty prefix.
	ErrEmptyTablePrefix = errors.New("table prefix must not be empty")

	// ErrUnknownDialect is returned by WithDialect for a dialect that is not supported.
	ErrUnknownDialect = errors.New("unknown sql dialect")

	// ErrBuildingQueryFailed is joined to errors from goqu while building a statement.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrQueryingFailed is joined to errors from the database while running a statement.
	ErrQueryingFailed = errors.New("querying failed")

	// ErrScanningDBRowFailed is joined to errors while scanning a result row.
	ErrScanningDBRowFailed = errors.New("scanning db row failed")

	// ErrMigrationFailed is joined to errors from Migrate.
	ErrMigrationFailed = errors.New("migration failed")
)
