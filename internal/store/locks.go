package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/lockharness/internal/locksvc"
)

// pgUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Acquire inserts the ownership row; a primary key violation means the key is held.
func (s *Store) Acquire(ctx context.Context, key locksvc.Key, owner string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO locks (datastore, module, owner) VALUES (?, ?, ?)`),
		string(key.Datastore), key.Module, owner,
	)
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return locksvc.Errorf(locksvc.CodeConflict, "%s is already locked", key)
	}
	return locksvc.Internal("insert lock row", err)
}

// Release deletes the row only when owner holds it.
func (s *Store) Release(ctx context.Context, key locksvc.Key, owner string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM locks WHERE datastore = ? AND module = ? AND owner = ?`),
		string(key.Datastore), key.Module, owner,
	)
	if err != nil {
		return locksvc.Internal("delete lock row", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return locksvc.Internal("rows affected", err)
	}
	if n == 0 {
		return locksvc.Errorf(locksvc.CodeNotHeld, "%s is not locked by this session", key)
	}
	return nil
}

// ReleaseAll deletes every row owned by owner.
func (s *Store) ReleaseAll(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM locks WHERE owner = ?`), owner); err != nil {
		return locksvc.Internal("delete owner rows", err)
	}
	return nil
}

// HeldByOthers counts rows in ds owned by anyone but owner.
func (s *Store) HeldByOthers(ctx context.Context, ds locksvc.Datastore, owner string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM locks WHERE datastore = ? AND owner <> ?`),
		string(ds), owner,
	).Scan(&n)
	if err != nil {
		return false, locksvc.Internal("count foreign locks", err)
	}
	return n > 0, nil
}

// Holder returns the owner of key, if any.
func (s *Store) Holder(ctx context.Context, key locksvc.Key) (string, bool, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT owner FROM locks WHERE datastore = ? AND module = ?`),
		string(key.Datastore), key.Module,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, locksvc.Internal("select holder", err)
	}
	return owner, true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
