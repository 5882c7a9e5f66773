package fusion

import (
	"math"
	"time"

	"fusion-engine-go/monitoring"
)

// DriftCorrector periodically pulls the filter toward the last accepted
// absolute fix. Better fixes are trusted more often.
type DriftCorrector struct {
	cfg DriftConfig

	hasFix    bool
	fix       AbsoluteMeasurement
	lastCheck int64 // ms
}

// NewDriftCorrector creates a DriftCorrector.
func NewDriftCorrector(cfg DriftConfig) *DriftCorrector {
	return &DriftCorrector{cfg: cfg}
}

// Reset forgets the last fix.
func (d *DriftCorrector) Reset() {
	d.hasFix = false
	d.fix = AbsoluteMeasurement{}
	d.lastCheck = 0
}

// Accept records a fix the filter accepted at tsMs.
func (d *DriftCorrector) Accept(m AbsoluteMeasurement, tsMs int64) {
	if !d.hasFix {
		d.lastCheck = tsMs
	}
	d.hasFix = true
	d.fix = m
}

// Period returns the correction period for a fix of the given confidence:
// MinPeriod at confidence 1, MaxPeriod at confidence 0.
func (d *DriftCorrector) Period(confidence float64) time.Duration {
	q := clamp(confidence, 0, 1)
	span := float64(d.cfg.MaxPeriod - d.cfg.MinPeriod)
	return d.cfg.MinPeriod + time.Duration((1-q)*span)
}

// Apply runs a correction when a period has elapsed and the filter has
// drifted beyond the fix accuracy threshold. It reports whether the state
// was moved.
func (d *DriftCorrector) Apply(k *EKF, tsMs int64) bool {
	if !d.hasFix || !k.Initialized() {
		return false
	}
	if time.Duration(tsMs-d.lastCheck)*time.Millisecond < d.Period(d.fix.Confidence) {
		return false
	}
	d.lastCheck = tsMs

	st, _ := k.State()
	div := math.Hypot(st.X-d.fix.X, st.Y-d.fix.Y)
	if div <= d.cfg.ThresholdMultiplier*d.fix.Accuracy {
		return false
	}
	factor := d.cfg.MaxFactor * clamp(d.fix.Confidence, 0, 1)
	if factor <= 0 {
		return false
	}
	k.nudge(d.fix.X, d.fix.Y, factor, d.cfg.Inflation)
	monitoring.Logf("drift: corrected %.2fm divergence toward %s fix (factor %.2f)", div, d.fix.Source, factor)
	return true
}
