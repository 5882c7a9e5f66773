package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Source tags where a position came from.
type Source int

const (
	SourceNone Source = iota
	SourceWifi
	SourceBLE
	SourcePDR
	SourceVisual
	SourceFused
)

var sourceNames = [...]string{"none", "wifi", "ble", "pdr", "visual", "fused"}

func (s Source) String() string {
	if s < 0 || int(s) >= len(sourceNames) {
		return "unknown"
	}
	return sourceNames[s]
}

// MarshalText encodes the source by name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a source name.
func (s *Source) UnmarshalText(b []byte) error {
	for i, n := range sourceNames {
		if n == string(b) {
			*s = Source(i)
			return nil
		}
	}
	return fmt.Errorf("unknown source %q", b)
}

// MotionEstimate is a unicycle motion input for one cycle.
type MotionEstimate struct {
	Velocity        float64 // m/s along the heading
	AngularVelocity float64 // rad/s, counter-clockwise
}

// AbsoluteMeasurement is a position fix from a radio estimator. When
// Covariance is nil it is derived from Accuracy and Confidence.
type AbsoluteMeasurement struct {
	X, Y       float64
	Covariance *mat.SymDense // 2×2
	Accuracy   float64       // meters
	Confidence float64       // [0,1]
	Source     Source
}

// HeadingMeasurement is an external heading estimate in the filter frame.
type HeadingMeasurement struct {
	Theta    float64 // rad, counter-clockwise from +x
	Variance float64 // rad²
}

// FusionState is a snapshot of the filter state. Covariance is a copy.
type FusionState struct {
	X, Y       float64
	Theta      float64
	Covariance *mat.SymDense // 3×3 over (x, y, theta)
}

// FusedPosition is the per-cycle output.
type FusedPosition struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Accuracy    float64 `json:"accuracy"`
	SigmaX      float64 `json:"sigma_x"`
	SigmaY      float64 `json:"sigma_y"`
	SigmaTheta  float64 `json:"sigma_theta"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	TimestampMs int64   `json:"ts_ms"`
	Valid       bool    `json:"valid"`
}
