// Package engine executes validated queries under a planned privacy
// mechanism.
//
// The engine never sees raw query text. It receives the validated query
// form, decides the mechanism from the request parameters and the
// policy, runs the optional transformation and the analysis query
// against the dataset, and perturbs the results when the mechanism
// demands it. Mechanism selection happens once, before any data is
// touched, and is recorded in the result.
package engine

import (
	"context"

	"github.com/google/differential-privacy/go/v2/noise"

	"github.com/tolliver/veil/internal/dataset"
	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/queryir"
	"github.com/tolliver/veil/internal/validate"
)

// Engine runs validated queries against one dataset.
type Engine struct {
	ds     *dataset.Dataset
	noiser noise.Noise
	pol    policy.Policy
}

// New creates an Engine over the dataset with the given noise source and
// policy.
func New(ds *dataset.Dataset, noiser noise.Noise, pol policy.Policy) *Engine {
	return &Engine{ds: ds, noiser: noiser, pol: pol}
}

// Result is the outcome of one executed query.
type Result struct {
	// Mechanism that actually produced the rows.
	Mechanism Mechanism `json:"mechanism"`

	// Columns in select order; Rows are keyed by these names.
	Columns []string      `json:"columns"`
	Rows    []dataset.Row `json:"rows"`

	// Accuracy per aggregate output column. Present only for noised
	// results with at least one row.
	Accuracy map[string]Accuracy `json:"accuracy,omitempty"`

	// EpsilonSpent is the privacy budget consumed by this result.
	EpsilonSpent float64 `json:"privacy_budget_used"`
}

// Plan returns the mechanism the engine would use for a request without
// executing anything.
func (e *Engine) Plan(confidential bool, epsilon float64) Mechanism {
	return PlanMechanism(confidential, epsilon, e.pol)
}

// Execute runs a validated query and returns the protected result.
//
// The mechanism is planned first. Synthetic execution redirects both the
// transformation and the analysis to the synthetic table variants, so the
// raw rows are never read on that path. When a transformation is present
// its result table's metadata is re-derived from the data before noise
// calibration, because the validator could not know the bounds of a table
// that did not exist yet.
func (e *Engine) Execute(ctx context.Context, vq *validate.ValidatedQuery, confidential bool, epsilon float64) (*Result, error) {
	mech := PlanMechanism(confidential, epsilon, e.pol)

	ctx, cancel := context.WithTimeout(ctx, e.pol.QueryTimeout)
	defer cancel()

	q := vq.Query
	table := vq.Table

	if vq.Transform != nil {
		t := *vq.Transform
		if mech == MechanismSynthetic {
			t = syntheticTransform(t)
			q.Table = t.Target
		}
		if err := e.ds.RunTransform(ctx, t); err != nil {
			return nil, classify("transformation failed", err)
		}
		if mech == MechanismNoised {
			meta, err := e.ds.TableMetadata(ctx, t.Target)
			if err != nil {
				return nil, classify("transformation metadata failed", err)
			}
			table = meta
		}
	} else if mech == MechanismSynthetic {
		q.Table = dataset.SyntheticName(q.Table)
	}

	cols, rows, err := e.ds.Query(ctx, q)
	if err != nil {
		return nil, classify("analysis query failed", err)
	}

	res := &Result{
		Mechanism:    mech,
		Columns:      cols,
		Rows:         rows,
		EpsilonSpent: epsilon,
	}

	if mech == MechanismNoised {
		acc, err := e.noiseRows(vq.Query, table, rows, epsilon)
		if err != nil {
			return nil, err
		}
		res.Accuracy = acc
	}

	return res, nil
}

// syntheticTransform redirects a transformation to the synthetic domain:
// it reads from the source's synthetic variant and writes a synthetic
// variant of the target, leaving the raw-derived table untouched.
func syntheticTransform(t queryir.TransformQuery) queryir.TransformQuery {
	t.Select.Table = dataset.SyntheticName(t.Select.Table)
	t.Target = dataset.SyntheticName(t.Target)
	return t
}

// Dataset exposes the underlying dataset handle for metadata inspection
// by the CLI.
func (e *Engine) Dataset() *dataset.Dataset {
	return e.ds
}

// Policy returns the engine's active policy.
func (e *Engine) Policy() policy.Policy {
	return e.pol
}
