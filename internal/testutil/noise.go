package testutil

import "github.com/google/differential-privacy/go/v2/noise"

// ZeroNoise is a noise.Noise that adds nothing and reports a fixed-width
// confidence interval. It exists so tests can assert on exact noised-path
// output while still exercising the full perturbation code path.
type ZeroNoise struct {
	// HalfWidth is the half-width of every reported confidence interval.
	HalfWidth float64
}

var _ noise.Noise = ZeroNoise{}

// AddNoiseInt64 returns x unchanged.
func (ZeroNoise) AddNoiseInt64(x, l0sensitivity, lInfSensitivity int64, epsilon, delta float64) (int64, error) {
	return x, nil
}

// AddNoiseFloat64 returns x unchanged.
func (ZeroNoise) AddNoiseFloat64(x float64, l0sensitivity int64, lInfSensitivity, epsilon, delta float64) (float64, error) {
	return x, nil
}

// Threshold returns zero.
func (ZeroNoise) Threshold(l0Sensitivity int64, lInfSensitivity, epsilon, noiseDelta, thresholdDelta float64) (float64, error) {
	return 0, nil
}

// ComputeConfidenceIntervalInt64 returns an interval of HalfWidth around x.
func (z ZeroNoise) ComputeConfidenceIntervalInt64(noisedX, l0Sensitivity, lInfSensitivity int64, epsilon, delta, alpha float64) (noise.ConfidenceInterval, error) {
	return noise.ConfidenceInterval{
		LowerBound: float64(noisedX) - z.HalfWidth,
		UpperBound: float64(noisedX) + z.HalfWidth,
	}, nil
}

// ComputeConfidenceIntervalFloat64 returns an interval of HalfWidth around x.
func (z ZeroNoise) ComputeConfidenceIntervalFloat64(noisedX float64, l0Sensitivity int64, lInfSensitivity, epsilon, delta, alpha float64) (noise.ConfidenceInterval, error) {
	return noise.ConfidenceInterval{
		LowerBound: noisedX - z.HalfWidth,
		UpperBound: noisedX + z.HalfWidth,
	}, nil
}
