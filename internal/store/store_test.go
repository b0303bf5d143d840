package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "veil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesSchema(t *testing.T) {
	st := openTestStore(t)

	for _, table := range []string{"run_results", "budget_scopes", "budget_reservations", "budget_entries"} {
		var n int
		err := st.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s must exist", table)
	}

	var version int
	require.NoError(t, st.DB().QueryRow(`PRAGMA user_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.db")

	st1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st1.Close())

	// Reopening an already-migrated database must not fail or remigrate.
	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	var version int
	require.NoError(t, st2.DB().QueryRow(`PRAGMA user_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "deep", "veil.db"))
	require.Error(t, err)
}

func TestWrapErrClassification(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// Reservation rows reference budget_scopes; inserting without a scope
	// violates the foreign key.
	_, err := st.DB().ExecContext(ctx, `
		INSERT INTO budget_reservations (token, scope_key, epsilon, created_at)
		VALUES ('tok', 'ghost', 0.5, '2024-01-01T00:00:00Z')
	`)
	require.Error(t, err)
	assert.True(t, IsStoreError(wrapErr("insert reservation", err)))

	var se *Error
	require.ErrorAs(t, wrapErr("insert reservation", err), &se)
	assert.Equal(t, ReasonConstraintViolation, se.Reason)
}
