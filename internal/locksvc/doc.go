// Package locksvc defines the datastore locking service the harness drives.
//
// The service is addressed the same way regardless of backend:
//
//	conn, err := svc.Open(ctx, "First", locksvc.ConnDefault)
//	sess, err := conn.OpenSession(ctx, locksvc.DatastoreStartup)
//	err = sess.LockDatastore(ctx)   // CONFLICT if another session holds it
//	err = sess.UnlockDatastore(ctx) // NOT_HELD if the caller does not hold it
//
// # Lock Domains
//
// Locks are scoped to a datastore kind. Within a datastore the whole-datastore
// lock and every module lock are independent keys: holding one never implies
// or blocks another. A lock request for a key that is already held fails with
// CONFLICT even when the caller is the holder.
//
// Commit fails with CONFLICT while any lock in the session's datastore is held
// by a different session.
//
// # Backends
//
// NewService builds the session layer over a Table. The memory, store (SQLite
// and Postgres) and redislock packages provide tables; the remote package talks
// to a lockd daemon over HTTP and implements Service directly.
package locksvc
