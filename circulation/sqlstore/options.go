package sqlstore

import (
	"github.com/AntonStoeckl/library-circulation-go/circulation"
)

// Dialect selects the SQL flavor goqu renders.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

const defaultTablePrefix = "circulation_"

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing
// Info level: commits, loads and version conflicts
// Error level: failures that abort a commit or a load.
func WithLogger(logger circulation.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
func WithMetrics(collector circulation.MetricsCollector) Option {
	return func(s *Store) error {
		s.metrics = collector
		return nil
	}
}

// WithTablePrefix sets the prefix of all table names, the default is "circulation_".
func WithTablePrefix(prefix string) Option {
	return func(s *Store) error {
		if prefix == "" {
			return ErrEmptyTablePrefix
		}

		s.tables = newTableNames(prefix)

		return nil
	}
}

// WithDialect overrides the SQL dialect. It is only needed for a sql.DB or sqlx.DB that is not Postgres.
func WithDialect(dialect Dialect) Option {
	return func(s *Store) error {
		switch dialect {
		case DialectPostgres, DialectSQLite:
			s.dialect = dialect
			return nil
		default:
			return ErrUnknownDialect
		}
	}
}
