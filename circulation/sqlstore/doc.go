// Package sqlstore provides a durable circulation.Store on top of a SQL database.
//
// Postgres is supported through a pgxpool.Pool, a sql.DB (lib/pq) or a sqlx.DB,
// SQLite through mattn/go-sqlite3 (see OpenSQLite). All SQL is built with goqu.
//
// Every circulation.Commit is written in one transaction. Book rows carry a version column
// which is updated with compare-and-set, a lost race surfaces as circulation.ErrContention.
package sqlstore
