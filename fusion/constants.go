package fusion

// Filter constants.
const (
	// StateDim is the filter state size: x, y, theta.
	StateDim = 3
	// MeasDim is the absolute measurement size: x, y.
	MeasDim  = 2

	// StraightLineOmega is the turn rate below which predict uses the
	// straight-line model.
	StraightLineOmega = 1e-6

	MinMeasConfidence = 0.1
	MaxMeasConfidence = 1.0

	// MaxPositionVariance triggers a reset when exceeded (sigma 100 m).
	MaxPositionVariance = 10000.0

	// MinInnovationDet marks the innovation covariance as singular.
	MinInnovationDet = 1e-12

	// ConfidenceScale maps accuracy to output confidence: 1 - acc/scale.
	ConfidenceScale  = 10.0
	MinOutConfidence = 0.1
	MaxOutConfidence = 1.0

	// MinFingerprintAccuracy floors the accuracy of a fingerprint fix fed
	// to the filter.
	MinFingerprintAccuracy = 1.0

	// Gravity is subtracted from the accelerometer norm for step length.
	Gravity = 9.80665
)

// clamp returns x within [min, max].
func clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

// Pow2 returns squared value.
func Pow2(x float64) float64 { return x * x }
