package engine

import "github.com/tolliver/veil/internal/policy"

// Mechanism identifies how a query's results are protected.
type Mechanism string

const (
	// MechanismExact returns unperturbed results. Only available when
	// the policy explicitly allows it and epsilon clears the exact
	// threshold.
	MechanismExact Mechanism = "exact"

	// MechanismNoised returns differentially private results with
	// calibrated noise added to every aggregate cell.
	MechanismNoised Mechanism = "noised"

	// MechanismSynthetic runs the query against the pre-generated
	// synthetic variant of the dataset. The raw rows are never read.
	MechanismSynthetic Mechanism = "synthetic"
)

// PlanMechanism selects the mechanism for a request. The decision is
// fully determined before execution and never revised afterwards.
//
// Confidential requests and requests below the synthetic threshold run
// against synthetic data. Exact results require both the policy switch
// and an epsilon at or above the exact threshold. Everything else is
// noised.
func PlanMechanism(confidential bool, epsilon float64, pol policy.Policy) Mechanism {
	if confidential || epsilon < pol.SyntheticBelow {
		return MechanismSynthetic
	}
	if pol.ExactAllowed && epsilon >= pol.ExactAbove {
		return MechanismExact
	}
	return MechanismNoised
}
