package pdr

import "time"

// ThresholdDetector counts a step on every upward crossing of a fixed
// threshold by the smoothed magnitude. It ignores the gyroscope. Interval
// rules match StepDetector.
type ThresholdDetector struct {
	cfg DetectorConfig

	initialized bool
	filtered    float64
	hasStep     bool
	lastStepTs  int64
	stepCount   int
}

// NewThresholdDetector creates a fixed-threshold detector using
// cfg.PeakThreshold as the crossing level.
func NewThresholdDetector(cfg DetectorConfig) *ThresholdDetector {
	return &ThresholdDetector{cfg: cfg}
}

// Process consumes one accelerometer sample.
func (d *ThresholdDetector) Process(s AccelSample) StepResult {
	m := s.Magnitude()
	if !d.initialized {
		d.initialized = true
		d.filtered = m
		return StepResult{StepCount: d.stepCount, FilteredMagnitude: m, TimestampNanos: s.TimestampNanos}
	}
	prev := d.filtered
	a := d.cfg.SmoothingAlpha
	d.filtered = a*m + (1-a)*d.filtered

	detected := false
	if prev < d.cfg.PeakThreshold && d.filtered >= d.cfg.PeakThreshold {
		elapsed := time.Duration(s.TimestampNanos - d.lastStepTs)
		switch {
		case !d.hasStep || (elapsed >= d.cfg.MinStepInterval && elapsed <= d.cfg.MaxStepInterval):
			detected = true
			d.hasStep = true
			d.lastStepTs = s.TimestampNanos
			d.stepCount++
		case elapsed > d.cfg.MaxStepInterval:
			d.lastStepTs = s.TimestampNanos
		}
	}
	res := StepResult{
		StepDetected:      detected,
		StepCount:         d.stepCount,
		FilteredMagnitude: d.filtered,
		TimestampNanos:    s.TimestampNanos,
	}
	if detected {
		res.Confidence = 0.5
	}
	return res
}

// UpdateGyro is a no-op for the threshold detector.
func (d *ThresholdDetector) UpdateGyro(GyroSample) {}

// StepCount returns the number of accepted steps since the last reset.
func (d *ThresholdDetector) StepCount() int { return d.stepCount }

// Reset clears all state.
func (d *ThresholdDetector) Reset() {
	*d = ThresholdDetector{cfg: d.cfg}
}
