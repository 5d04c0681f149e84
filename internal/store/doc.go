// Package store provides SQL-backed lock ownership for the locking service.
//
// Each held lock is one row in the locks table, keyed by (datastore, module).
// The primary key is the exclusion mechanism: a second INSERT for a held key
// fails with a constraint violation, which Acquire reports as CONFLICT.
// Release deletes only rows owned by the caller; zero affected rows is NOT_HELD.
//
// # Dialects
//
//   - SQLite (mattn/go-sqlite3): WAL mode, NORMAL synchronous, 5-second busy
//     timeout, a single open connection, PRAGMA user_version migrations.
//   - Postgres (jackc/pgx stdlib driver "pgx"): placeholders are rebound to $n
//     and unique violations are recognized by SQLSTATE 23505.
//
// Store implements locksvc.Table.
package store
