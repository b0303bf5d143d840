package engine

import (
	"fmt"
	"sort"

	"github.com/google/differential-privacy/go/v2/noise"
	"gonum.org/v1/gonum/stat"

	"github.com/tolliver/veil/internal/dataset"
	"github.com/tolliver/veil/internal/policy"
	"github.com/tolliver/veil/internal/queryir"
	"github.com/tolliver/veil/internal/schema"
)

// l0Sensitivity is the number of aggregate cells a single record can
// influence within one output column. Each record belongs to exactly one
// group, so one.
const l0Sensitivity = 1

// Accuracy summarizes the noise magnitude for one aggregate output
// column: quantiles of the per-cell confidence interval half-widths at
// the policy's significance level.
type Accuracy struct {
	Alpha float64 `json:"alpha"`
	P10   float64 `json:"p10"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
}

// lInfSensitivity returns the worst-case change a single record can cause
// to one aggregate cell, derived from the column's bounds.
func lInfSensitivity(agg queryir.Aggregate, table schema.Table) (float64, error) {
	if agg.Func == queryir.AggCount {
		return 1, nil
	}

	col, ok := table.Column(agg.Column)
	if !ok {
		return 0, fmt.Errorf("column %q not present in table metadata for %q", agg.Column, table.Name)
	}
	if !col.HasBounds {
		return 0, fmt.Errorf("column %q has no value bounds; cannot calibrate %s", agg.Column, agg.Func)
	}

	switch agg.Func {
	case queryir.AggSum:
		lo, hi := col.Lower, col.Upper
		if lo < 0 {
			lo = -lo
		}
		if hi < 0 {
			hi = -hi
		}
		if lo > hi {
			return lo, nil
		}
		return hi, nil
	case queryir.AggAvg:
		return col.Upper - col.Lower, nil
	default:
		return 0, fmt.Errorf("no sensitivity rule for aggregate %s", agg.Func)
	}
}

// noiseRows perturbs every aggregate cell in place and returns per-column
// accuracy summaries.
//
// The request epsilon is divided evenly across the aggregate columns, so
// the query as a whole satisfies the requested guarantee under basic
// composition. Group-by columns pass through untouched.
func (e *Engine) noiseRows(q queryir.AnalysisQuery, table schema.Table, rows []dataset.Row, epsilon float64) (map[string]Accuracy, error) {
	aggs := q.Aggregates()
	if len(aggs) == 0 {
		return nil, fmt.Errorf("noise rows: query has no aggregate cells")
	}
	perCell := epsilon / float64(len(aggs))

	accuracy := make(map[string]Accuracy, len(aggs))
	for _, agg := range aggs {
		lInf, err := lInfSensitivity(agg, table)
		if err != nil {
			return nil, newError(ReasonDataError, "sensitivity calibration failed", err)
		}

		name := agg.OutputName()
		var halfWidths []float64
		for _, row := range rows {
			x, ok := cellValue(row[name])
			if !ok {
				continue // NULL aggregate over an empty group
			}

			noised, err := e.noiser.AddNoiseFloat64(x, l0Sensitivity, lInf, perCell, e.pol.Delta)
			if err != nil {
				return nil, newError(ReasonDataError, fmt.Sprintf("noising %s", name), err)
			}
			row[name] = noised

			ci, err := e.noiser.ComputeConfidenceIntervalFloat64(
				noised, l0Sensitivity, lInf, perCell, e.pol.Delta, e.pol.Alpha)
			if err != nil {
				return nil, newError(ReasonDataError, fmt.Sprintf("confidence interval for %s", name), err)
			}
			halfWidths = append(halfWidths, (ci.UpperBound-ci.LowerBound)/2)
		}

		if len(halfWidths) > 0 {
			sort.Float64s(halfWidths)
			accuracy[name] = Accuracy{
				Alpha: e.pol.Alpha,
				P10:   stat.Quantile(0.10, stat.Empirical, halfWidths, nil),
				P50:   stat.Quantile(0.50, stat.Empirical, halfWidths, nil),
				P90:   stat.Quantile(0.90, stat.Empirical, halfWidths, nil),
			}
		}
	}

	return accuracy, nil
}

// cellValue coerces a driver value to float64. NULL and non-numeric
// values report ok = false.
func cellValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// NewNoiser returns the noise source for a policy's distribution choice.
func NewNoiser(kind policy.NoiseKind) (noise.Noise, error) {
	switch kind {
	case policy.NoiseLaplace:
		return noise.Laplace(), nil
	case policy.NoiseGaussian:
		return noise.Gaussian(), nil
	default:
		return nil, fmt.Errorf("unknown noise kind %q", kind)
	}
}
