package harness

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/budget"
	"github.com/tolliver/veil/internal/engine"
	"github.com/tolliver/veil/internal/orchestrator"
	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/testutil"
)

// Result holds the responses of every step of a scenario run, in step
// order.
type Result struct {
	Responses []*orchestrator.Response
}

// Run executes a scenario against a freshly seeded pipeline.
//
// Determinism: the clock is frozen, reservation tokens are sequential
// and the noise source adds nothing, so two runs of the same scenario
// produce byte-identical responses.
func Run(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	pol := policy.Default()
	if scenario.MaxEpsilon > 0 {
		pol.MaxEpsilon = scenario.MaxEpsilon
	}
	if scenario.SyntheticBelow != nil {
		pol.SyntheticBelow = *scenario.SyntheticBelow
		if pol.SyntheticBelow < 0 {
			pol.SyntheticBelow = 0
		}
	}

	st := testutil.OpenStore(t)
	ds := testutil.SeedDataset(t)
	sch := testutil.ApprovedSchema(t)
	clock := testutil.NewDeterministicClock()

	accountant := budget.New(st, pol.MaxEpsilon,
		budget.WithTokenGenerator(&testutil.SequenceTokenGenerator{}),
		budget.WithClock(clock.Now))
	eng := engine.New(ds, testutil.ZeroNoise{HalfWidth: 1}, pol)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(sch, accountant, eng, st, "puf", logger,
		orchestrator.WithClock(clock.Now))

	result := &Result{}
	for i, step := range scenario.Steps {
		payload, err := json.Marshal(step.Payload)
		require.NoError(t, err, "step %d: encode payload", i)

		resp := orch.Handle(context.Background(), payload)
		result.Responses = append(result.Responses, resp)

		if step.Expect == nil {
			require.True(t, resp.OK(), "step %d: expected success, got %s: %s",
				i, resp.ErrorReason, resp.Message)
			continue
		}
		checkExpect(t, i, step.Expect, resp)
	}
	return result
}

func checkExpect(t *testing.T, i int, expect *Expect, resp *orchestrator.Response) {
	t.Helper()

	if expect.ErrorReason != "" {
		require.False(t, resp.OK(), "step %d: expected rejection %s, got success", i, expect.ErrorReason)
		require.Equal(t, expect.ErrorReason, resp.ErrorReason, "step %d: error reason", i)
		return
	}

	require.True(t, resp.OK(), "step %d: expected success, got %s: %s",
		i, resp.ErrorReason, resp.Message)
	if expect.Mechanism != "" {
		require.Equal(t, expect.Mechanism, string(resp.MechanismUsed), "step %d: mechanism", i)
	}
	if expect.Rows != nil {
		require.Len(t, resp.Result.Rows, *expect.Rows, "step %d: row count", i)
	}
}
