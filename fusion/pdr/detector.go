package pdr

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// AccelSample is one accelerometer reading in m/s².
type AccelSample struct {
	X, Y, Z        float64
	TimestampNanos int64
}

// Magnitude returns the Euclidean norm of the sample.
func (s AccelSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// GyroSample is one gyroscope reading in rad/s.
type GyroSample struct {
	X, Y, Z        float64
	TimestampNanos int64
}

// Magnitude returns the Euclidean norm of the sample.
func (s GyroSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// StepResult is returned for every processed accelerometer sample.
type StepResult struct {
	StepDetected      bool
	StepCount         int
	FilteredMagnitude float64
	Confidence        float64 // set when StepDetected
	TimestampNanos    int64
}

// Detector turns accelerometer samples into step events.
type Detector interface {
	Process(s AccelSample) StepResult
	UpdateGyro(g GyroSample)
	StepCount() int
	Reset()
}

// NewDetector returns the detector selected by cfg.Method.
func NewDetector(cfg DetectorConfig) Detector {
	switch cfg.Method {
	case MethodThreshold:
		return NewThresholdDetector(cfg)
	default:
		return NewStepDetector(cfg)
	}
}

type detectorState int

const (
	stateIdle detectorState = iota
	stateRising
	statePeak
	stateFalling
	stateValley
)

// minAdaptiveSamples is the window fill required before thresholds adapt.
const minAdaptiveSamples = 10

// StepDetector is the adaptive peak/valley step detector.
// It is not safe for concurrent use.
type StepDetector struct {
	cfg DetectorConfig

	state       detectorState
	initialized bool
	filtered    float64
	prev        float64
	prevTs      int64

	peakValue float64
	peakTs    int64

	hasStep    bool
	lastStepTs int64
	stepCount  int

	window    []float64
	windowPos int

	peakThr   float64
	valleyThr float64

	gyroSeen bool
	gyroMag  float64
}

// NewStepDetector creates an adaptive step detector.
func NewStepDetector(cfg DetectorConfig) *StepDetector {
	if cfg.AdaptiveWindow < 1 {
		cfg.AdaptiveWindow = 1
	}
	d := &StepDetector{cfg: cfg}
	d.Reset()
	return d
}

// Reset clears all state including the adaptive window.
func (d *StepDetector) Reset() {
	d.state = stateIdle
	d.initialized = false
	d.filtered = 0
	d.prev = 0
	d.prevTs = 0
	d.peakValue = 0
	d.peakTs = 0
	d.hasStep = false
	d.lastStepTs = 0
	d.stepCount = 0
	d.window = make([]float64, 0, d.cfg.AdaptiveWindow)
	d.windowPos = 0
	d.peakThr = d.cfg.PeakThreshold
	d.valleyThr = d.cfg.ValleyThreshold
	d.gyroSeen = false
	d.gyroMag = 0
}

// UpdateGyro records the latest gyroscope magnitude for step gating.
func (d *StepDetector) UpdateGyro(g GyroSample) {
	d.gyroSeen = true
	d.gyroMag = g.Magnitude()
}

// StepCount returns the number of accepted steps since the last reset.
func (d *StepDetector) StepCount() int { return d.stepCount }

// Thresholds returns the current peak and valley thresholds.
func (d *StepDetector) Thresholds() (peak, valley float64) {
	return d.peakThr, d.valleyThr
}

// Process consumes one accelerometer sample.
func (d *StepDetector) Process(s AccelSample) StepResult {
	m := s.Magnitude()
	if !d.initialized {
		d.initialized = true
		d.filtered = m
		d.prev = m
		d.prevTs = s.TimestampNanos
		d.pushWindow(m)
		return d.result(false, 0, s.TimestampNanos)
	}

	a := d.cfg.SmoothingAlpha
	d.filtered = a*m + (1-a)*d.filtered
	d.pushWindow(d.filtered)
	d.adaptThresholds()

	cur := d.filtered
	detected := false
	conf := 0.0

	switch d.state {
	case stateIdle:
		if cur > d.prev {
			d.state = stateRising
		}
	case stateRising:
		if cur <= d.prev {
			if d.prev >= d.peakThr {
				d.state = statePeak
				d.peakValue = d.prev
				d.peakTs = d.prevTs
			} else {
				d.state = stateIdle
			}
		}
	case statePeak:
		if d.peakExpired(s.TimestampNanos) {
			d.state = stateIdle
			break
		}
		if cur > d.peakValue {
			d.peakValue = cur
			d.peakTs = s.TimestampNanos
		}
		if cur < d.valleyThr {
			d.state = stateFalling
		}
	case stateFalling:
		if d.peakExpired(s.TimestampNanos) {
			d.state = stateIdle
			break
		}
		if cur >= d.prev {
			d.state = stateValley
			detected, conf = d.evaluate(d.peakValue-d.prev, s.TimestampNanos)
		}
	case stateValley:
		d.state = stateIdle
		if cur > d.prev {
			d.state = stateRising
		}
	}

	d.prev = cur
	d.prevTs = s.TimestampNanos
	return d.result(detected, conf, s.TimestampNanos)
}

func (d *StepDetector) peakExpired(ts int64) bool {
	return time.Duration(ts-d.peakTs) > d.cfg.MaxStepInterval
}

// evaluate applies the step acceptance rules at a valley.
func (d *StepDetector) evaluate(height float64, ts int64) (bool, float64) {
	if height < d.cfg.MinPeakValleyHeight {
		return false, 0
	}
	if d.cfg.GyroGating && d.gyroSeen && d.gyroMag < d.cfg.MinGyroMagnitude {
		return false, 0
	}
	if d.hasStep {
		elapsed := time.Duration(ts - d.lastStepTs)
		if elapsed < d.cfg.MinStepInterval {
			return false, 0
		}
		if elapsed > d.cfg.MaxStepInterval {
			// Re-arm so the next step of a new bout is accepted.
			d.lastStepTs = ts
			return false, 0
		}
	}
	d.hasStep = true
	d.lastStepTs = ts
	d.stepCount++
	return true, stepConfidence(height, d.cfg.MinPeakValleyHeight)
}

// stepConfidence grows with the peak-to-valley swing, from 0.5 at the
// minimum height to 1 at twice the minimum.
func stepConfidence(height, minHeight float64) float64 {
	if minHeight <= 0 {
		return 1
	}
	c := height / (2 * minHeight)
	return math.Min(1, math.Max(0.5, c))
}

func (d *StepDetector) pushWindow(v float64) {
	if len(d.window) < cap(d.window) {
		d.window = append(d.window, v)
		return
	}
	d.window[d.windowPos] = v
	d.windowPos = (d.windowPos + 1) % len(d.window)
}

func (d *StepDetector) adaptThresholds() {
	if len(d.window) < minAdaptiveSamples || len(d.window) < 2 {
		return
	}
	mean, sd := stat.MeanStdDev(d.window, nil)
	c := d.cfg.ThresholdClamp
	d.peakThr = clampRel(mean+d.cfg.PeakSigmaGain*sd, d.cfg.PeakThreshold, c)
	d.valleyThr = clampRel(mean-d.cfg.ValleySigmaGain*sd, d.cfg.ValleyThreshold, c)
}

// clampRel bounds v to base·(1±frac).
func clampRel(v, base, frac float64) float64 {
	lo, hi := base*(1-frac), base*(1+frac)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (d *StepDetector) result(detected bool, conf float64, ts int64) StepResult {
	return StepResult{
		StepDetected:      detected,
		StepCount:         d.stepCount,
		FilteredMagnitude: d.filtered,
		Confidence:        conf,
		TimestampNanos:    ts,
	}
}
