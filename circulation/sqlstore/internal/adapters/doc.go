// Package adapters provides the database adapters of the SQL circulation store.
//
// pgxpool.Pool, sql.DB and sqlx.DB are supported through the common DBAdapter interface,
// which adds transactions on top of plain query execution so that a commit of the store
// is written in one unit.
package adapters
