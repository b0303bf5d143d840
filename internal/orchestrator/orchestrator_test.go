package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/budget"
	"github.com/tolliver/veil/internal/engine"
	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/request"
	"github.com/tolliver/veil/internal/store"
	"github.com/tolliver/veil/internal/testutil"
)

type fixture struct {
	orch       *Orchestrator
	st         *store.Store
	accountant *budget.Accountant
}

func newFixture(t *testing.T, pol policy.Policy) *fixture {
	t.Helper()

	st := testutil.OpenStore(t)
	ds := testutil.SeedDataset(t)
	sch := testutil.ApprovedSchema(t)
	clock := testutil.NewDeterministicClock()

	accountant := budget.New(st, pol.MaxEpsilon,
		budget.WithTokenGenerator(&testutil.SequenceTokenGenerator{}),
		budget.WithClock(clock.Now))
	eng := engine.New(ds, testutil.ZeroNoise{HalfWidth: 1}, pol)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		orch:       New(sch, accountant, eng, st, "puf", logger, WithClock(clock.Now)),
		st:         st,
		accountant: accountant,
	}
}

func payload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}

func basePayload(overrides map[string]any) map[string]any {
	fields := map[string]any{
		"command_id":         int64(7),
		"run_id":             int64(42),
		"confidential_query": false,
		"epsilon":            1.0,
		"analysis_query":     "SELECT COUNT(*) FROM puf.puf",
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return fields
}

func TestHandleSuccessPersistsAndCommits(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(nil)))
	require.True(t, resp.OK(), "unexpected error: %s %s", resp.ErrorReason, resp.Message)

	assert.Equal(t, int64(42), resp.RunID)
	assert.Equal(t, engine.MechanismNoised, resp.MechanismUsed)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1.0, resp.Result.EpsilonSpent)

	// Result persisted.
	r, err := f.st.GetResult(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "noised", r.Mechanism)
	assert.True(t, r.CreatedAt.Equal(testutil.Epoch))

	// Budget committed: spent stands, no dangling reservation.
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 1.0, status.Spent)
	assertNoReservations(t, f.st)
}

func TestHandleDebugSkipsPersistence(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(map[string]any{"debug": true})))
	require.True(t, resp.OK())
	require.NotNil(t, resp.Result)

	r, err := f.st.GetResult(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, r, "debug requests must not persist")

	// Budget is still charged; the data was still read.
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 1.0, status.Spent)
}

func TestHandleValidationErrorChargesNothing(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(map[string]any{
		"analysis_query": "SELECT COUNT(secret) FROM puf.puf",
	})))
	require.False(t, resp.OK())
	assert.Equal(t, "unknown_column", resp.ErrorReason)

	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	assert.Nil(t, status, "no scope row may exist before reservation")
}

func TestHandleMalformedPayload(t *testing.T) {
	f := newFixture(t, policy.Default())

	resp := f.orch.Handle(context.Background(), []byte(`{"run_id": `))
	require.False(t, resp.OK())
	assert.Equal(t, "invalid_request", resp.ErrorReason)
	assert.Equal(t, int64(0), resp.RunID)
}

func TestHandleBudgetExceeded(t *testing.T) {
	pol := policy.Default()
	pol.MaxEpsilon = 1.5
	f := newFixture(t, pol)
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(nil)))
	require.True(t, resp.OK())

	resp = f.orch.Handle(ctx, payload(t, basePayload(map[string]any{"run_id": int64(43)})))
	require.False(t, resp.OK())
	assert.Equal(t, "budget_exceeded", resp.ErrorReason)

	// The rejected request left no result and no charge.
	r, err := f.st.GetResult(ctx, 43)
	require.NoError(t, err)
	assert.Nil(t, r)
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	assert.Equal(t, 1.0, status.Spent)
}

func TestHandleExecutionFailureReleasesBudget(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	// The approved schema contains the table, but dropping it from the
	// dataset makes execution fail after the reservation.
	_, err := f.orch.eng.Dataset().DB().Exec(`DROP TABLE "puf.puf"`)
	require.NoError(t, err)

	resp := f.orch.Handle(ctx, payload(t, basePayload(nil)))
	require.False(t, resp.OK())
	assert.Equal(t, "data_error", resp.ErrorReason)

	// The provisional charge was rolled back.
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 0.0, status.Spent)
	assertNoReservations(t, f.st)
}

func TestHandlePersistenceFailureKeepsCharge(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	// Break the result store only; execution and the budget ledger are
	// untouched, so the failure lands between commit and persist.
	_, err := f.st.DB().Exec(`DROP TABLE run_results`)
	require.NoError(t, err)

	resp := f.orch.Handle(ctx, payload(t, basePayload(nil)))
	require.False(t, resp.OK())
	assert.Equal(t, "result_unpersisted", resp.ErrorReason)
	assert.Equal(t, int64(42), resp.RunID)

	// The data was read, so the committed spend stands.
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 1.0, status.Spent)
	assertNoReservations(t, f.st)
}

func TestProcessRejectsNonPositiveEpsilon(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	resp := f.orch.Process(ctx, &request.AnalysisRequest{
		CommandID:     7,
		RunID:         42,
		Epsilon:       0,
		AnalysisQuery: "SELECT COUNT(*) FROM puf.puf",
	})
	require.False(t, resp.OK())
	assert.Equal(t, "invalid_request", resp.ErrorReason)

	// Rejected before the accountant ever saw the scope.
	status, err := f.accountant.Status(ctx, "puf")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestHandleResearcherScoping(t *testing.T) {
	pol := policy.Default()
	pol.MaxEpsilon = 1.0
	f := newFixture(t, pol)
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(map[string]any{
		"researcher_id": int64(1),
	})))
	require.True(t, resp.OK())

	// A different researcher has an independent budget.
	resp = f.orch.Handle(ctx, payload(t, basePayload(map[string]any{
		"researcher_id": int64(2),
		"run_id":        int64(43),
	})))
	require.True(t, resp.OK())

	status, err := f.accountant.Status(ctx, "puf/researcher/1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 1.0, status.Spent)
}

func TestHandleRerunOverwritesResult(t *testing.T) {
	f := newFixture(t, policy.Default())
	ctx := context.Background()

	resp := f.orch.Handle(ctx, payload(t, basePayload(nil)))
	require.True(t, resp.OK())

	resp = f.orch.Handle(ctx, payload(t, basePayload(map[string]any{
		"confidential_query": true,
	})))
	require.True(t, resp.OK())
	assert.Equal(t, engine.MechanismSynthetic, resp.MechanismUsed)

	n, err := f.st.CountResults(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rerun must leave exactly one record")

	r, err := f.st.GetResult(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", r.Mechanism)
}

func assertNoReservations(t *testing.T, st *store.Store) {
	t.Helper()
	var n int
	err := st.DB().QueryRow(`SELECT COUNT(*) FROM budget_reservations`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
