// Package harness runs end-to-end request scenarios against a fully
// wired pipeline with deterministic substitutes for the clock, the
// reservation tokens and the noise source.
//
// Scenarios are YAML files: a sequence of request payloads with expected
// outcomes. The golden variant additionally snapshots every response and
// compares it against a checked-in fixture.
package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden fixtures are keyed
	// by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// MaxEpsilon overrides the per-scope budget cap. Zero keeps the
	// policy default.
	MaxEpsilon float64 `yaml:"max_epsilon,omitempty"`

	// SyntheticBelow overrides the synthetic mechanism threshold.
	// Negative disables the threshold; zero keeps the policy default.
	SyntheticBelow *float64 `yaml:"synthetic_below,omitempty"`

	// Steps are processed in order against the same store and dataset,
	// so budget spent by one step is visible to the next.
	Steps []Step `yaml:"steps"`
}

// Step is one request in a scenario.
type Step struct {
	// Payload is the request body, in the invocation payload shape.
	Payload map[string]any `yaml:"payload"`

	// Expect validates the response. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected response for a step.
type Expect struct {
	// ErrorReason is the expected rejection reason. Empty expects
	// success.
	ErrorReason string `yaml:"error_reason,omitempty"`

	// Mechanism is the expected mechanism on success.
	Mechanism string `yaml:"mechanism,omitempty"`

	// Rows is the expected row count on success. Nil skips the check.
	Rows *int `yaml:"rows,omitempty"`
}

// LoadScenario reads one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	return &s, nil
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by
// file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	var scenarios []*Scenario
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}
