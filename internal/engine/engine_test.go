package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/testutil"
	"github.com/tolliver/veil/internal/validate"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ds := testutil.SeedDataset(t)
	return New(ds, testutil.ZeroNoise{HalfWidth: 2}, policy.Default())
}

func validated(t *testing.T, analysis, transform string) *validate.ValidatedQuery {
	t.Helper()
	vq, err := validate.Validate(analysis, transform, testutil.ApprovedSchema(t))
	require.NoError(t, err)
	return vq
}

func TestExecuteNoised(t *testing.T) {
	eng := newTestEngine(t)
	vq := validated(t, "SELECT state, COUNT(*), AVG(wages) FROM puf.puf GROUP BY state", "")

	res, err := eng.Execute(context.Background(), vq, false, 1.0)
	require.NoError(t, err)

	assert.Equal(t, MechanismNoised, res.Mechanism)
	assert.Equal(t, 1.0, res.EpsilonSpent)
	assert.Equal(t, []string{"state", "count", "avg_wages"}, res.Columns)
	require.Len(t, res.Rows, 3) // CA, NY, TX

	// ZeroNoise leaves values intact; the raw-table NY group has 3 rows.
	assert.Equal(t, "NY", res.Rows[1]["state"])
	assert.Equal(t, 3.0, res.Rows[1]["count"])

	require.Contains(t, res.Accuracy, "count")
	require.Contains(t, res.Accuracy, "avg_wages")
	acc := res.Accuracy["count"]
	assert.Equal(t, 0.05, acc.Alpha)
	assert.Equal(t, 2.0, acc.P50, "half-width from the stub noise source")
}

func TestExecuteSyntheticForConfidential(t *testing.T) {
	eng := newTestEngine(t)
	vq := validated(t, "SELECT COUNT(*) FROM puf.puf", "")

	res, err := eng.Execute(context.Background(), vq, true, 1.0)
	require.NoError(t, err)

	assert.Equal(t, MechanismSynthetic, res.Mechanism)
	// The synthetic fixture has 6 rows, the raw table 8. Hitting 6 proves
	// the raw table was never read.
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(6), res.Rows[0]["count"])
	assert.Empty(t, res.Accuracy, "synthetic results carry no noise accuracy")
}

func TestExecuteSyntheticForLowEpsilon(t *testing.T) {
	eng := newTestEngine(t)
	vq := validated(t, "SELECT COUNT(*) FROM puf.puf", "")

	res, err := eng.Execute(context.Background(), vq, false, 0.1)
	require.NoError(t, err)
	assert.Equal(t, MechanismSynthetic, res.Mechanism)
}

func TestExecuteExact(t *testing.T) {
	ds := testutil.SeedDataset(t)
	pol := policy.Default()
	pol.ExactAllowed = true
	eng := New(ds, testutil.ZeroNoise{}, pol)

	vq := validated(t, "SELECT COUNT(*) FROM puf.puf", "")
	res, err := eng.Execute(context.Background(), vq, false, 10.0)
	require.NoError(t, err)

	assert.Equal(t, MechanismExact, res.Mechanism)
	assert.Equal(t, int64(8), res.Rows[0]["count"])
	assert.Empty(t, res.Accuracy)
}

func TestExecuteWithTransform(t *testing.T) {
	eng := newTestEngine(t)
	vq := validated(t,
		"SELECT COUNT(*), SUM(wages) FROM puf.puf_rich",
		"CREATE TABLE puf.puf_rich AS SELECT state, wages FROM puf.puf WHERE agi > 50000")

	res, err := eng.Execute(context.Background(), vq, false, 1.0)
	require.NoError(t, err)

	assert.Equal(t, MechanismNoised, res.Mechanism)
	require.Len(t, res.Rows, 1)
	// Raw rows with agi > 50000: recids 1, 2, 4, 7.
	assert.Equal(t, 4.0, res.Rows[0]["count"])
	assert.Equal(t, 48000.0+55000.0+80000.0+76000.0, res.Rows[0]["sum_wages"])
	assert.Contains(t, res.Accuracy, "sum_wages")
}

func TestExecuteTransformSyntheticStaysSynthetic(t *testing.T) {
	eng := newTestEngine(t)
	vq := validated(t,
		"SELECT COUNT(*) FROM puf.puf_rich",
		"CREATE TABLE puf.puf_rich AS SELECT state FROM puf.puf WHERE agi > 50000")

	res, err := eng.Execute(context.Background(), vq, true, 1.0)
	require.NoError(t, err)

	assert.Equal(t, MechanismSynthetic, res.Mechanism)
	// Synthetic rows with agi > 50000: 102, 104. The raw-derived count
	// would be 4.
	assert.Equal(t, int64(2), res.Rows[0]["count"])

	// The transformation wrote only the synthetic variant of the target.
	var n int
	err = eng.Dataset().DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'puf.puf_rich'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExecuteQueryFailure(t *testing.T) {
	eng := newTestEngine(t)

	// Validated against a schema table that does not exist in the dataset.
	sch := testutil.ApprovedSchema(t)
	vq, err := validate.Validate("SELECT COUNT(*) FROM puf.puf", "", sch)
	require.NoError(t, err)
	vq.Query.Table = "puf.missing"

	_, err = eng.Execute(context.Background(), vq, false, 1.0)
	require.Error(t, err)
	require.True(t, IsExecutionError(err))

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ReasonDataError, ee.Reason)
}

func TestClassifySeparatesCancelFromTimeout(t *testing.T) {
	ee := classify("query failed", context.DeadlineExceeded)
	assert.Equal(t, ReasonTimeout, ee.Reason)

	ee = classify("query failed", context.Canceled)
	assert.Equal(t, ReasonDataError, ee.Reason)
	assert.ErrorIs(t, ee, context.Canceled)
}

func TestExecuteTimeout(t *testing.T) {
	ds := testutil.SeedDataset(t)
	pol := policy.Default()
	pol.QueryTimeout = 1 // one nanosecond
	eng := New(ds, testutil.ZeroNoise{}, pol)

	vq := validated(t, "SELECT COUNT(*) FROM puf.puf", "")
	_, err := eng.Execute(context.Background(), vq, false, 1.0)
	require.Error(t, err)

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ReasonTimeout, ee.Reason)
}
