package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/tolliver/veil/internal/orchestrator"
)

// Snapshot is the serialized form of a scenario run, compared against
// golden fixtures.
type Snapshot struct {
	ScenarioName string                   `json:"scenario_name"`
	Responses    []*orchestrator.Response `json:"responses"`
}

// RunWithGolden executes a scenario and compares every response against
// the golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result := Run(t, scenario)

	snapshot := Snapshot{
		ScenarioName: scenario.Name,
		Responses:    result.Responses,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
