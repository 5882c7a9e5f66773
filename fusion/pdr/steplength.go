package pdr

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// WalkingPattern is the gait class used to scale step length.
type WalkingPattern int

const (
	PatternNormal WalkingPattern = iota
	PatternFast
	PatternSlow
	PatternRunning
	PatternIrregular
)

func (p WalkingPattern) String() string {
	switch p {
	case PatternNormal:
		return "normal"
	case PatternFast:
		return "fast"
	case PatternSlow:
		return "slow"
	case PatternRunning:
		return "running"
	case PatternIrregular:
		return "irregular"
	default:
		return "unknown"
	}
}

// multiplier is the raw step length factor for the pattern.
func (p WalkingPattern) multiplier() float64 {
	switch p {
	case PatternRunning:
		return 1.4
	case PatternFast:
		return 1.2
	case PatternSlow:
		return 0.8
	case PatternIrregular:
		return 0.9
	default:
		return 1.0
	}
}

// bounds returns the step length limits as fractions of user height.
func (p WalkingPattern) bounds() (lo, hi float64) {
	switch p {
	case PatternFast:
		return 0.35, 0.6
	case PatternSlow:
		return 0.2, 0.4
	case PatternRunning:
		return 0.45, 0.9
	case PatternIrregular:
		return 0.2, 0.5
	default:
		return 0.3, 0.5
	}
}

// PatternState is the classifier output with hysteresis.
type PatternState struct {
	Pattern     WalkingPattern
	Confidence  float64
	Consecutive int
}

// SensorSnapshot is the motion summary for one detected step.
type SensorSnapshot struct {
	LinearAccelMagnitude float64 // gravity-removed acceleration, m/s²
	GyroMagnitude        float64 // rad/s
	TimestampNanos       int64
}

const (
	baseLengthRatio     = 0.4
	minFactor           = 0.7
	maxFactor           = 1.3
	initialPatternConf  = 0.3
	patternConfStep     = 0.1
	irregularIntervalCV = 0.35
	irregularGyroSigma  = 1.5
)

// StepLengthEstimator derives a step length from the step cadence, the
// acceleration at the step and the classified walking pattern.
// It is not safe for concurrent use.
type StepLengthEstimator struct {
	cfg StepLengthConfig

	pattern PatternState

	accel     []float64
	gyro      []float64
	intervals []float64
	lengths   []float64

	hasLast bool
	lastTs  int64
}

// NewStepLengthEstimator creates an estimator.
func NewStepLengthEstimator(cfg StepLengthConfig) *StepLengthEstimator {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	if cfg.PatternWindow < 2 {
		cfg.PatternWindow = 2
	}
	e := &StepLengthEstimator{cfg: cfg}
	e.Reset()
	return e
}

// Reset clears history and returns the classifier to its initial state.
func (e *StepLengthEstimator) Reset() {
	e.pattern = PatternState{Pattern: PatternNormal, Confidence: initialPatternConf, Consecutive: 1}
	e.accel = e.accel[:0]
	e.gyro = e.gyro[:0]
	e.intervals = e.intervals[:0]
	e.lengths = e.lengths[:0]
	e.hasLast = false
	e.lastTs = 0
}

// Pattern returns the current walking pattern state.
func (e *StepLengthEstimator) Pattern() PatternState { return e.pattern }

// EstimateDefault estimates with the configured height and calibration.
func (e *StepLengthEstimator) EstimateDefault(s SensorSnapshot) float64 {
	return e.Estimate(s, e.cfg.UserHeight, e.cfg.CalibrationFactor)
}

// Estimate returns the step length in meters for a detected step.
func (e *StepLengthEstimator) Estimate(s SensorSnapshot, userHeight, calibrationFactor float64) float64 {
	interval := 0.0
	if e.hasLast && s.TimestampNanos > e.lastTs {
		interval = float64(s.TimestampNanos-e.lastTs) / 1e9
		e.intervals = pushBounded(e.intervals, interval, e.cfg.PatternWindow)
	}
	e.hasLast = true
	e.lastTs = s.TimestampNanos
	e.accel = pushBounded(e.accel, s.LinearAccelMagnitude, e.cfg.PatternWindow)
	e.gyro = pushBounded(e.gyro, s.GyroMagnitude, e.cfg.PatternWindow)

	e.updatePattern(e.classify())

	accF := clampFactor(math.Sqrt(math.Max(0, s.LinearAccelMagnitude)) / 3)
	freqF := 1.0
	if interval > 0 {
		freqF = clampFactor((1 / interval) / 2)
	}
	raw := e.pattern.Pattern.multiplier()
	patF := clampFactor(1 + (raw-1)*e.pattern.Confidence)

	length := baseLengthRatio * userHeight * accF * freqF * patF * calibrationFactor
	e.lengths = pushBounded(e.lengths, length, e.cfg.HistorySize)

	avg := stat.Mean(e.lengths, nil)
	lo, hi := e.pattern.Pattern.bounds()
	return math.Min(hi*userHeight, math.Max(lo*userHeight, avg))
}

func (e *StepLengthEstimator) classify() WalkingPattern {
	meanA := stat.Mean(e.accel, nil)
	sdG := 0.0
	if len(e.gyro) >= 2 {
		_, sdG = stat.MeanStdDev(e.gyro, nil)
	}

	freq, cv := 0.0, 0.0
	if n := len(e.intervals); n > 0 {
		meanI := stat.Mean(e.intervals, nil)
		if meanI > 0 {
			freq = 1 / meanI
			if n >= 3 {
				cv = stat.StdDev(e.intervals, nil) / meanI
			}
		}
	}

	switch {
	case cv > irregularIntervalCV || sdG > irregularGyroSigma:
		return PatternIrregular
	case freq > 2.5 || meanA > 4:
		return PatternRunning
	case freq > 2.0 || meanA > 2.5:
		return PatternFast
	case freq > 0 && freq < 1.4 && meanA < 1.2:
		return PatternSlow
	default:
		return PatternNormal
	}
}

// updatePattern ramps confidence on repeated classifications and drops
// it back on a change.
func (e *StepLengthEstimator) updatePattern(p WalkingPattern) {
	if p == e.pattern.Pattern {
		e.pattern.Consecutive++
		e.pattern.Confidence = math.Min(1, e.pattern.Confidence+patternConfStep)
		return
	}
	e.pattern = PatternState{Pattern: p, Confidence: initialPatternConf, Consecutive: 1}
}

func clampFactor(v float64) float64 {
	return math.Min(maxFactor, math.Max(minFactor, v))
}

func pushBounded(buf []float64, v float64, n int) []float64 {
	buf = append(buf, v)
	if len(buf) > n {
		copy(buf, buf[len(buf)-n:])
		buf = buf[:n]
	}
	return buf
}
