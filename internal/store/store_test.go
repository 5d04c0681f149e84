package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ReopenKeepsLocks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Acquire(ctx, dsKey, "a"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	owner, held, err := s.Holder(ctx, dsKey)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "a", owner)
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/locks.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		assert.NoError(t, s.verifyPragma(name, want))
	}
}

func TestSchema_LocksPrimaryKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO locks (datastore, module, owner) VALUES ('startup', '', 'a')`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO locks (datastore, module, owner) VALUES ('startup', '', 'b')`)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)

	_, err = s.db.Exec(`INSERT INTO locks (datastore, module, owner) VALUES ('startup', 'example-module', 'b')`)
	assert.NoError(t, err)
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.db")

	// A bare schema at user_version 0 lacks the owner index.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var index string
	err = s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_locks_owner'`).Scan(&index)
	assert.NoError(t, err)
}

func TestRebind(t *testing.T) {
	q := "DELETE FROM locks WHERE datastore = ? AND module = ? AND owner = ?"

	assert.Equal(t, q, (&Store{dialect: DialectSQLite}).rebind(q))
	assert.Equal(t,
		"DELETE FROM locks WHERE datastore = $1 AND module = $2 AND owner = $3",
		(&Store{dialect: DialectPostgres}).rebind(q))
}
