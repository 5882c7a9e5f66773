package pdr

import (
	"time"

	"fusion-engine-go/config"
)

// DetectorMethod selects which step detector implementation is used.
type DetectorMethod int

const (
	// MethodAdaptive is the peak/valley state machine with adaptive thresholds.
	MethodAdaptive DetectorMethod = iota
	// MethodThreshold is the fixed-threshold crossing detector.
	MethodThreshold
)

func (m DetectorMethod) String() string {
	switch m {
	case MethodAdaptive:
		return "adaptive"
	case MethodThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// ParseDetectorMethod maps a config string onto a DetectorMethod.
// Unknown strings select the adaptive detector.
func ParseDetectorMethod(s string) DetectorMethod {
	if s == "threshold" {
		return MethodThreshold
	}
	return MethodAdaptive
}

// DetectorConfig holds step detector tuning.
type DetectorConfig struct {
	Method              DetectorMethod
	SmoothingAlpha      float64       // EMA weight of the newest magnitude
	PeakThreshold       float64       // static peak threshold, m/s²
	ValleyThreshold     float64       // static valley threshold, m/s²
	MinPeakValleyHeight float64       // minimum peak-to-valley swing for a step
	MinStepInterval     time.Duration // steps closer than this are double counts
	MaxStepInterval     time.Duration // peak without a valley within this is discarded
	AdaptiveWindow      int           // smoothed samples used for adaptive thresholds
	PeakSigmaGain       float64       // peak = mean + gain·σ
	ValleySigmaGain     float64       // valley = mean - gain·σ
	ThresholdClamp      float64       // adaptive thresholds stay within ±clamp of static
	GyroGating          bool
	MinGyroMagnitude    float64 // rad/s
}

// DefaultDetectorConfig returns the built-in step detector tuning.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfigFromTuning(config.EmptyTuningConfig())
}

// DetectorConfigFromTuning builds a DetectorConfig from a tuning file.
func DetectorConfigFromTuning(cfg *config.TuningConfig) DetectorConfig {
	return DetectorConfig{
		Method:              ParseDetectorMethod(cfg.GetDetectorMethod()),
		SmoothingAlpha:      cfg.GetStepSmoothingAlpha(),
		PeakThreshold:       cfg.GetPeakThreshold(),
		ValleyThreshold:     cfg.GetValleyThreshold(),
		MinPeakValleyHeight: cfg.GetMinPeakValleyHeight(),
		MinStepInterval:     cfg.GetMinStepInterval(),
		MaxStepInterval:     cfg.GetMaxStepInterval(),
		AdaptiveWindow:      cfg.GetAdaptiveWindow(),
		PeakSigmaGain:       0.7,
		ValleySigmaGain:     0.3,
		ThresholdClamp:      0.3,
		GyroGating:          cfg.GetGyroGating(),
		MinGyroMagnitude:    cfg.GetMinGyroMagnitude(),
	}
}

// StepLengthConfig holds step length estimator tuning.
type StepLengthConfig struct {
	UserHeight        float64 // meters
	CalibrationFactor float64
	HistorySize       int // lengths averaged for the reported value
	PatternWindow     int // steps used for walking pattern classification
}

// DefaultStepLengthConfig returns the built-in step length tuning.
func DefaultStepLengthConfig() StepLengthConfig {
	return StepLengthConfigFromTuning(config.EmptyTuningConfig())
}

// StepLengthConfigFromTuning builds a StepLengthConfig from a tuning file.
func StepLengthConfigFromTuning(cfg *config.TuningConfig) StepLengthConfig {
	return StepLengthConfig{
		UserHeight:        cfg.GetUserHeight(),
		CalibrationFactor: cfg.GetCalibrationFactor(),
		HistorySize:       cfg.GetStepHistory(),
		PatternWindow:     cfg.GetPatternWindow(),
	}
}

// IntegratorConfig holds PDR integrator tuning.
type IntegratorConfig struct {
	AccuracyDecay   float64 // meters added per step
	ConfidenceDecay float64 // fraction lost per step
	MaxStepInterval time.Duration
}

// DefaultIntegratorConfig returns the built-in integrator tuning.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfigFromTuning(config.EmptyTuningConfig())
}

// IntegratorConfigFromTuning builds an IntegratorConfig from a tuning file.
func IntegratorConfigFromTuning(cfg *config.TuningConfig) IntegratorConfig {
	return IntegratorConfig{
		AccuracyDecay:   cfg.GetStepAccuracyDecay(),
		ConfidenceDecay: cfg.GetStepConfidenceDecay(),
		MaxStepInterval: cfg.GetMaxStepInterval(),
	}
}
