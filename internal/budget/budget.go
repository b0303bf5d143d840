// Package budget is the privacy budget accountant.
//
// It tracks cumulative epsilon spent per scope in the store database and
// enforces the per-scope cap. The single correctness-critical invariant of
// the whole system lives here: no interleaving of concurrent requests may
// drive a scope's committed epsilon past its cap.
//
// Reserve / Commit / Release protocol:
//
//	Reserve - conditional check-and-increment inside one transaction. The
//	          spent total is raised provisionally and a reservation row
//	          records the provisional charge.
//	Commit  - finalizes the spend after successful execution: deletes the
//	          reservation and appends an immutable ledger entry.
//	Release - rolls the provisional charge back when execution fails.
//	          Epsilon is never charged for a query that did not run.
//
// The conditional increment is a single UPDATE guarded by the cap, never a
// read-then-write, so two concurrent reservations against the same scope
// serialize in SQLite and the second sees the first's increment.
package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tolliver/veil/internal/store"
)

// epsTolerance absorbs float64 rounding when comparing spent totals
// against the cap. Well below any meaningful epsilon increment.
const epsTolerance = 1e-9

// Error is a budget admission failure. Policy fault; never retried, and
// by construction it has not consumed any budget.
type Error struct {
	ScopeKey  string
	Requested float64
	Available float64
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("budget_exceeded: scope %s has %g epsilon available, %g requested",
		e.ScopeKey, e.Available, e.Requested)
}

// IsBudgetError returns true if err is a budget.Error.
// Uses errors.As to handle wrapped errors.
func IsBudgetError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

// TokenGenerator produces reservation tokens.
// Implemented by UUIDv7Generator (production) and a fixed generator in
// testutil for deterministic tests.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUID tokens.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string, falling back to UUIDv4 if the
// system clock source fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Reservation is a provisional budget charge awaiting Commit or Release.
type Reservation struct {
	Token    string
	ScopeKey string
	Epsilon  float64
}

// Accountant owns the budget ledger tables exclusively.
type Accountant struct {
	st         *store.Store
	maxEpsilon float64 // cap applied when a scope is first seen
	tokens     TokenGenerator
	now        func() time.Time
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithTokenGenerator overrides the reservation token source.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(a *Accountant) { a.tokens = g }
}

// WithClock overrides the timestamp source for ledger entries.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) { a.now = now }
}

// New creates an Accountant over the store with the given default
// per-scope cap.
func New(st *store.Store, maxEpsilon float64, opts ...Option) *Accountant {
	a := &Accountant{
		st:         st,
		maxEpsilon: maxEpsilon,
		tokens:     UUIDv7Generator{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reserve provisionally charges epsilon against the scope.
//
// Admissible only if spent + epsilon <= max_epsilon for the scope. The
// check and the increment are one conditional UPDATE: zero rows affected
// means the cap would be exceeded and nothing changed.
func (a *Accountant) Reserve(ctx context.Context, scopeKey string, epsilon float64) (*Reservation, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("reserve: epsilon must be positive, got %g", epsilon)
	}

	tx, err := a.st.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// First request against a scope creates its row at the default cap.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_scopes (scope_key, max_epsilon, spent)
		VALUES (?, ?, 0)
		ON CONFLICT(scope_key) DO NOTHING
	`, scopeKey, a.maxEpsilon); err != nil {
		return nil, fmt.Errorf("reserve: ensure scope: %w", err)
	}

	// Conditional check-and-increment. The guard and the increment must
	// be the same statement so concurrent reservations cannot jointly
	// overspend.
	res, err := tx.ExecContext(ctx, `
		UPDATE budget_scopes
		SET spent = spent + ?
		WHERE scope_key = ? AND spent + ? <= max_epsilon + ?
	`, epsilon, scopeKey, epsilon, epsTolerance)
	if err != nil {
		return nil, fmt.Errorf("reserve: conditional increment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reserve: rows affected: %w", err)
	}
	if affected == 0 {
		var maxEps, spent float64
		if err := tx.QueryRowContext(ctx, `
			SELECT max_epsilon, spent FROM budget_scopes WHERE scope_key = ?
		`, scopeKey).Scan(&maxEps, &spent); err != nil {
			return nil, fmt.Errorf("reserve: read scope after rejection: %w", err)
		}
		available := maxEps - spent
		if available < 0 {
			available = 0
		}
		return nil, &Error{ScopeKey: scopeKey, Requested: epsilon, Available: available}
	}

	token := a.tokens.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_reservations (token, scope_key, epsilon, created_at)
		VALUES (?, ?, ?, ?)
	`, token, scopeKey, epsilon, a.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("reserve: record reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("reserve: commit: %w", err)
	}

	return &Reservation{Token: token, ScopeKey: scopeKey, Epsilon: epsilon}, nil
}

// Commit finalizes a reservation after successful execution: the
// reservation row is replaced by an immutable ledger entry. The spent
// total was already raised at Reserve time and does not change here.
func (a *Accountant) Commit(ctx context.Context, r *Reservation, runID int64) error {
	tx, err := a.st.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	defer tx.Rollback()

	deleted, err := deleteReservation(ctx, tx, r.Token)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if !deleted {
		return fmt.Errorf("commit reservation: token %s not found (already committed or released)", r.Token)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO budget_entries (scope_key, run_id, epsilon, created_at)
		VALUES (?, ?, ?, ?)
	`, r.ScopeKey, runID, r.Epsilon, a.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("commit reservation: append ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: commit tx: %w", err)
	}
	return nil
}

// Release rolls back a provisional reservation: the spent total returns
// to its pre-reservation value and the reservation row is removed.
//
// Releasing a token that was already committed or released is an error -
// the orchestrator guarantees exactly one terminal call per reservation.
func (a *Accountant) Release(ctx context.Context, r *Reservation) error {
	tx, err := a.st.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	defer tx.Rollback()

	deleted, err := deleteReservation(ctx, tx, r.Token)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if !deleted {
		return fmt.Errorf("release reservation: token %s not found (already committed or released)", r.Token)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE budget_scopes SET spent = spent - ? WHERE scope_key = ?
	`, r.Epsilon, r.ScopeKey); err != nil {
		return fmt.Errorf("release reservation: decrement spent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("release reservation: commit tx: %w", err)
	}
	return nil
}

func deleteReservation(ctx context.Context, tx *sql.Tx, token string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM budget_reservations WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reservation: rows affected: %w", err)
	}
	return n > 0, nil
}

// ScopeStatus reports a scope's cap and totals for inspection.
type ScopeStatus struct {
	ScopeKey  string
	Max       float64
	Spent     float64
	Remaining float64
}

// Status reads the current totals for a scope. Returns (nil, nil) for a
// scope with no recorded activity.
func (a *Accountant) Status(ctx context.Context, scopeKey string) (*ScopeStatus, error) {
	var s ScopeStatus
	err := a.st.DB().QueryRowContext(ctx, `
		SELECT scope_key, max_epsilon, spent FROM budget_scopes WHERE scope_key = ?
	`, scopeKey).Scan(&s.ScopeKey, &s.Max, &s.Spent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scope status: %w", err)
	}
	s.Remaining = s.Max - s.Spent
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	return &s, nil
}

// Statuses lists all scopes ordered by scope key.
func (a *Accountant) Statuses(ctx context.Context) ([]ScopeStatus, error) {
	rows, err := a.st.DB().QueryContext(ctx, `
		SELECT scope_key, max_epsilon, spent FROM budget_scopes ORDER BY scope_key
	`)
	if err != nil {
		return nil, fmt.Errorf("scope statuses: %w", err)
	}
	defer rows.Close()

	var out []ScopeStatus
	for rows.Next() {
		var s ScopeStatus
		if err := rows.Scan(&s.ScopeKey, &s.Max, &s.Spent); err != nil {
			return nil, fmt.Errorf("scope statuses: scan: %w", err)
		}
		s.Remaining = s.Max - s.Spent
		if s.Remaining < 0 {
			s.Remaining = 0
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scope statuses: %w", err)
	}
	return out, nil
}
