package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunResult is the persisted outcome of one run.
//
// Payload is the serialized result JSON produced by the orchestrator.
// Mechanism records which execution mechanism produced the payload; it is
// stored so a rerun with different parameters is distinguishable from the
// record it overwrote.
type RunResult struct {
	RunID     int64
	CommandID int64
	Mechanism string
	Payload   string
	CreatedAt time.Time
}

// UpsertResult replaces any existing record for the run and inserts the
// new one as a single transaction.
//
// After UpsertResult returns, exactly one record exists for the run_id. A
// concurrent reader sees either the old record or the new one, never a
// transient gap - SQLite serializes the delete and insert inside the tx.
func (s *Store) UpsertResult(ctx context.Context, r RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("upsert result: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_results WHERE run_id = ?`, r.RunID); err != nil {
		return wrapErr("upsert result: delete prior record", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_results (run_id, command_id, mechanism, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.CommandID,
		r.Mechanism,
		r.Payload,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return wrapErr("upsert result: insert", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("upsert result: commit", err)
	}
	return nil
}

// GetResult reads the record for a run. Returns (nil, nil) when no record
// exists.
func (s *Store) GetResult(ctx context.Context, runID int64) (*RunResult, error) {
	var r RunResult
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, command_id, mechanism, payload, created_at
		FROM run_results WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.CommandID, &r.Mechanism, &r.Payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get result", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, &Error{Reason: ReasonConstraintViolation,
			Message: fmt.Sprintf("get result: malformed created_at %q", createdAt), Err: err}
	}
	r.CreatedAt = ts
	return &r, nil
}

// DeleteResult removes the record for a run. This is the explicit
// maintenance path for discarding a run's result; it is distinct from the
// overwrite that happens on rerun. Returns whether a record was deleted.
func (s *Store) DeleteResult(ctx context.Context, runID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM run_results WHERE run_id = ?`, runID)
	if err != nil {
		return false, wrapErr("delete result", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete result: rows affected", err)
	}
	return n > 0, nil
}

// CountResults returns the number of stored results for a run.
// Used by tests to assert the at-most-one invariant.
func (s *Store) CountResults(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM run_results WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, wrapErr("count results", err)
	}
	return n, nil
}
