// Package policy holds the privacy policy configuration: mechanism
// thresholds, noise parameters and the default per-scope budget cap.
//
// The thresholds separating exact, noised and synthetic execution are
// policy, not inference - they are read from a YAML file and documented
// here rather than derived from the request.
package policy

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NoiseKind selects the noise distribution.
type NoiseKind string

const (
	NoiseLaplace  NoiseKind = "laplace"
	NoiseGaussian NoiseKind = "gaussian"
)

// DefaultDelta is the delta used by the Gaussian mechanism when the policy
// file does not set one: 1/(1000*sqrt(1000)), carried over from the
// original deployment against a ~1M-row dataset.
var DefaultDelta = 1.0 / (1000 * math.Sqrt(1000))

// Policy is the privacy policy for one engine deployment.
type Policy struct {
	// MaxEpsilon is the cumulative epsilon cap applied to a scope the
	// first time it is seen.
	MaxEpsilon float64 `yaml:"max_epsilon"`

	// SyntheticBelow forces the synthetic mechanism for requests whose
	// epsilon is below this threshold, independent of the confidential
	// flag.
	SyntheticBelow float64 `yaml:"synthetic_below"`

	// ExactAllowed permits unperturbed results for public-safe
	// aggregates when epsilon is at least ExactAbove. Off by default.
	ExactAllowed bool    `yaml:"exact_allowed"`
	ExactAbove   float64 `yaml:"exact_above"`

	// Noise selects the distribution for the noised mechanism.
	// Laplace uses delta 0; Gaussian requires a positive delta.
	Noise NoiseKind `yaml:"noise"`
	Delta float64   `yaml:"delta"`

	// Alpha is the significance level for accuracy confidence intervals.
	Alpha float64 `yaml:"alpha"`

	// QueryTimeout bounds each dataset query and each store write.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Default returns the documented default policy.
func Default() Policy {
	return Policy{
		MaxEpsilon:     10.0,
		SyntheticBelow: 0.5,
		ExactAllowed:   false,
		ExactAbove:     10.0,
		Noise:          NoiseLaplace,
		Delta:          0,
		Alpha:          0.05,
		QueryTimeout:   30 * time.Second,
	}
}

// Load reads a policy file, filling unset fields from Default.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if p.Noise == NoiseGaussian && p.Delta == 0 {
		p.Delta = DefaultDelta
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks internal consistency of the policy.
func (p Policy) Validate() error {
	if p.MaxEpsilon <= 0 {
		return fmt.Errorf("max_epsilon must be positive, got %g", p.MaxEpsilon)
	}
	if p.SyntheticBelow < 0 {
		return fmt.Errorf("synthetic_below must not be negative, got %g", p.SyntheticBelow)
	}
	if p.ExactAllowed && p.ExactAbove <= 0 {
		return fmt.Errorf("exact_above must be positive when exact_allowed is set, got %g", p.ExactAbove)
	}
	switch p.Noise {
	case NoiseLaplace:
		if p.Delta != 0 {
			return fmt.Errorf("laplace noise requires delta 0, got %g", p.Delta)
		}
	case NoiseGaussian:
		if p.Delta <= 0 {
			return fmt.Errorf("gaussian noise requires positive delta, got %g", p.Delta)
		}
	default:
		return fmt.Errorf("unknown noise kind %q", p.Noise)
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0, 1), got %g", p.Alpha)
	}
	if p.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %v", p.QueryTimeout)
	}
	return nil
}
