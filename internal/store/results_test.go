package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestUpsertAndGetResult(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertResult(ctx, RunResult{
		RunID:     42,
		CommandID: 7,
		Mechanism: "noised",
		Payload:   `{"rows":[]}`,
		CreatedAt: testTime,
	}))

	r, err := st.GetResult(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int64(42), r.RunID)
	assert.Equal(t, int64(7), r.CommandID)
	assert.Equal(t, "noised", r.Mechanism)
	assert.Equal(t, `{"rows":[]}`, r.Payload)
	assert.True(t, r.CreatedAt.Equal(testTime))
}

func TestGetResultMissing(t *testing.T) {
	st := openTestStore(t)

	r, err := st.GetResult(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestUpsertReplacesPriorRecord(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertResult(ctx, RunResult{
		RunID: 1, CommandID: 1, Mechanism: "noised", Payload: "first", CreatedAt: testTime,
	}))
	require.NoError(t, st.UpsertResult(ctx, RunResult{
		RunID: 1, CommandID: 2, Mechanism: "synthetic", Payload: "second", CreatedAt: testTime.Add(time.Hour),
	}))

	n, err := st.CountResults(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rerun must leave exactly one record")

	r, err := st.GetResult(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "second", r.Payload)
	assert.Equal(t, "synthetic", r.Mechanism)
}

func TestDeleteResult(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertResult(ctx, RunResult{
		RunID: 5, Mechanism: "exact", Payload: "x", CreatedAt: testTime,
	}))

	deleted, err := st.DeleteResult(ctx, 5)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = st.DeleteResult(ctx, 5)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")

	r, err := st.GetResult(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, r)
}
