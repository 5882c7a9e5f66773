package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for estimator and filter tuning.
// Every field is optional; the Get* accessors supply the built-in default
// for anything the file leaves out, so partial configs are safe.
type TuningConfig struct {
	// Step detector
	DetectorMethod      *string  `json:"detector_method,omitempty"` // "adaptive" or "threshold"
	StepSmoothingAlpha  *float64 `json:"step_smoothing_alpha,omitempty"`
	MinPeakValleyHeight *float64 `json:"min_peak_valley_height,omitempty"`
	PeakThreshold       *float64 `json:"peak_threshold,omitempty"`
	ValleyThreshold     *float64 `json:"valley_threshold,omitempty"`
	MinStepInterval     *string  `json:"min_step_interval,omitempty"` // duration string like "250ms"
	MaxStepInterval     *string  `json:"max_step_interval,omitempty"`
	AdaptiveWindow      *int     `json:"adaptive_window,omitempty"`
	GyroGating          *bool    `json:"gyro_gating,omitempty"`
	MinGyroMagnitude    *float64 `json:"min_gyro_magnitude,omitempty"`

	// Step length
	UserHeight        *float64 `json:"user_height,omitempty"`
	CalibrationFactor *float64 `json:"calibration_factor,omitempty"`
	StepHistory       *int     `json:"step_history,omitempty"`
	PatternWindow     *int     `json:"pattern_window,omitempty"`

	// PDR integrator
	StepAccuracyDecay   *float64 `json:"step_accuracy_decay,omitempty"`
	StepConfidenceDecay *float64 `json:"step_confidence_decay,omitempty"`

	// BLE
	MaxCentroidBeacons *int     `json:"max_centroid_beacons,omitempty"`
	MaxLSBeacons       *int     `json:"max_ls_beacons,omitempty"`
	LSLearningRate     *float64 `json:"ls_learning_rate,omitempty"`
	LSMaxIterations    *int     `json:"ls_max_iterations,omitempty"`
	LSConvergenceMSE   *float64 `json:"ls_convergence_mse,omitempty"`
	PathLossExponent   *float64 `json:"path_loss_exponent,omitempty"`
	DefaultTxPower     *float64 `json:"default_tx_power,omitempty"`
	RSSISmoothingAlpha *float64 `json:"rssi_smoothing_alpha,omitempty"`

	// Wi-Fi
	MatchMode       *string  `json:"match_mode,omitempty"` // "knn" or "nearest"
	KNNK            *int     `json:"knn_k,omitempty"`
	MinMatchingAPs  *int     `json:"min_matching_aps,omitempty"`
	MaxRSSIDistance *float64 `json:"max_rssi_distance,omitempty"`

	// EKF
	ProcessNoisePos        *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseTheta      *float64 `json:"process_noise_theta,omitempty"`
	VelocityNoiseGain      *float64 `json:"velocity_noise_gain,omitempty"`
	InitialThetaSigma      *float64 `json:"initial_theta_sigma,omitempty"`
	MaxMeasurementVariance *float64 `json:"max_measurement_variance,omitempty"`

	// Drift correction
	DriftMinPeriod           *string  `json:"drift_min_period,omitempty"`
	DriftMaxPeriod           *string  `json:"drift_max_period,omitempty"`
	DriftMaxFactor           *float64 `json:"drift_max_factor,omitempty"`
	DriftThresholdMultiplier *float64 `json:"drift_threshold_multiplier,omitempty"`
	DriftInflation           *float64 `json:"drift_inflation,omitempty"`

	// Pipeline
	CycleInterval   *string  `json:"cycle_interval,omitempty"`
	MaxGap          *string  `json:"max_gap,omitempty"`
	BeaconTTL       *string  `json:"beacon_ttl,omitempty"`
	HeadingSigmaDeg *float64 `json:"heading_sigma_deg,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.DetectorMethod != nil {
		switch *c.DetectorMethod {
		case "adaptive", "threshold":
		default:
			return fmt.Errorf("detector_method must be \"adaptive\" or \"threshold\", got %q", *c.DetectorMethod)
		}
	}
	if c.MatchMode != nil {
		switch *c.MatchMode {
		case "knn", "nearest":
		default:
			return fmt.Errorf("match_mode must be \"knn\" or \"nearest\", got %q", *c.MatchMode)
		}
	}

	unit := map[string]*float64{
		"step_smoothing_alpha":  c.StepSmoothingAlpha,
		"rssi_smoothing_alpha":  c.RSSISmoothingAlpha,
		"drift_max_factor":      c.DriftMaxFactor,
		"step_confidence_decay": c.StepConfidenceDecay,
	}
	for name, v := range unit {
		if v != nil && (*v <= 0 || *v > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, *v)
		}
	}

	positive := map[string]*float64{
		"min_peak_valley_height":     c.MinPeakValleyHeight,
		"peak_threshold":             c.PeakThreshold,
		"valley_threshold":           c.ValleyThreshold,
		"user_height":                c.UserHeight,
		"calibration_factor":         c.CalibrationFactor,
		"ls_learning_rate":           c.LSLearningRate,
		"path_loss_exponent":         c.PathLossExponent,
		"max_rssi_distance":          c.MaxRSSIDistance,
		"max_measurement_variance":   c.MaxMeasurementVariance,
		"drift_threshold_multiplier": c.DriftThresholdMultiplier,
		"drift_inflation":            c.DriftInflation,
		"heading_sigma_deg":          c.HeadingSigmaDeg,
	}
	for name, v := range positive {
		if v != nil && (*v <= 0 || math.IsNaN(*v)) {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	counts := map[string]*int{
		"adaptive_window":      c.AdaptiveWindow,
		"step_history":         c.StepHistory,
		"pattern_window":       c.PatternWindow,
		"max_centroid_beacons": c.MaxCentroidBeacons,
		"max_ls_beacons":       c.MaxLSBeacons,
		"ls_max_iterations":    c.LSMaxIterations,
		"knn_k":                c.KNNK,
		"min_matching_aps":     c.MinMatchingAPs,
	}
	for name, v := range counts {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	durations := map[string]*string{
		"min_step_interval": c.MinStepInterval,
		"max_step_interval": c.MaxStepInterval,
		"drift_min_period":  c.DriftMinPeriod,
		"drift_max_period":  c.DriftMaxPeriod,
		"cycle_interval":    c.CycleInterval,
		"max_gap":           c.MaxGap,
		"beacon_ttl":        c.BeaconTTL,
	}
	for name, v := range durations {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.GetMinStepInterval() >= c.GetMaxStepInterval() {
		return fmt.Errorf("min_step_interval (%v) must be below max_step_interval (%v)", c.GetMinStepInterval(), c.GetMaxStepInterval())
	}
	if c.GetDriftMinPeriod() > c.GetDriftMaxPeriod() {
		return fmt.Errorf("drift_min_period (%v) must not exceed drift_max_period (%v)", c.GetDriftMinPeriod(), c.GetDriftMaxPeriod())
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDetectorMethod returns the step detector method or "adaptive".
func (c *TuningConfig) GetDetectorMethod() string {
	if c.DetectorMethod == nil {
		return "adaptive"
	}
	return *c.DetectorMethod
}

func (c *TuningConfig) GetStepSmoothingAlpha() float64  { return getFloat(c.StepSmoothingAlpha, 0.25) }
func (c *TuningConfig) GetMinPeakValleyHeight() float64 { return getFloat(c.MinPeakValleyHeight, 0.8) }
func (c *TuningConfig) GetPeakThreshold() float64       { return getFloat(c.PeakThreshold, 10.6) }
func (c *TuningConfig) GetValleyThreshold() float64     { return getFloat(c.ValleyThreshold, 9.2) }
func (c *TuningConfig) GetAdaptiveWindow() int          { return getInt(c.AdaptiveWindow, 50) }
func (c *TuningConfig) GetMinGyroMagnitude() float64    { return getFloat(c.MinGyroMagnitude, 0.05) }

func (c *TuningConfig) GetMinStepInterval() time.Duration {
	return getDuration(c.MinStepInterval, 250*time.Millisecond)
}

func (c *TuningConfig) GetMaxStepInterval() time.Duration {
	return getDuration(c.MaxStepInterval, 2*time.Second)
}

// GetGyroGating reports whether gyroscope gating of steps is enabled (default true).
func (c *TuningConfig) GetGyroGating() bool {
	if c.GyroGating == nil {
		return true
	}
	return *c.GyroGating
}

func (c *TuningConfig) GetUserHeight() float64        { return getFloat(c.UserHeight, 1.75) }
func (c *TuningConfig) GetCalibrationFactor() float64 { return getFloat(c.CalibrationFactor, 1.0) }
func (c *TuningConfig) GetStepHistory() int           { return getInt(c.StepHistory, 5) }
func (c *TuningConfig) GetPatternWindow() int         { return getInt(c.PatternWindow, 20) }

func (c *TuningConfig) GetStepAccuracyDecay() float64   { return getFloat(c.StepAccuracyDecay, 0.05) }
func (c *TuningConfig) GetStepConfidenceDecay() float64 { return getFloat(c.StepConfidenceDecay, 0.01) }

func (c *TuningConfig) GetMaxCentroidBeacons() int    { return getInt(c.MaxCentroidBeacons, 5) }
func (c *TuningConfig) GetMaxLSBeacons() int          { return getInt(c.MaxLSBeacons, 8) }
func (c *TuningConfig) GetLSLearningRate() float64    { return getFloat(c.LSLearningRate, 0.5) }
func (c *TuningConfig) GetLSMaxIterations() int       { return getInt(c.LSMaxIterations, 20) }
func (c *TuningConfig) GetLSConvergenceMSE() float64  { return getFloat(c.LSConvergenceMSE, 0.1) }
func (c *TuningConfig) GetPathLossExponent() float64  { return getFloat(c.PathLossExponent, 2.0) }
func (c *TuningConfig) GetDefaultTxPower() float64    { return getFloat(c.DefaultTxPower, -59) }
func (c *TuningConfig) GetRSSISmoothingAlpha() float64 { return getFloat(c.RSSISmoothingAlpha, 0.3) }

// GetMatchMode returns the fingerprint match mode or "knn".
func (c *TuningConfig) GetMatchMode() string {
	if c.MatchMode == nil {
		return "knn"
	}
	return *c.MatchMode
}

func (c *TuningConfig) GetKNNK() int                { return getInt(c.KNNK, 3) }
func (c *TuningConfig) GetMinMatchingAPs() int      { return getInt(c.MinMatchingAPs, 3) }
func (c *TuningConfig) GetMaxRSSIDistance() float64 { return getFloat(c.MaxRSSIDistance, 15) }

func (c *TuningConfig) GetProcessNoisePos() float64   { return getFloat(c.ProcessNoisePos, 0.05) }
func (c *TuningConfig) GetProcessNoiseTheta() float64 { return getFloat(c.ProcessNoiseTheta, 0.02) }
func (c *TuningConfig) GetVelocityNoiseGain() float64 { return getFloat(c.VelocityNoiseGain, 0.5) }
func (c *TuningConfig) GetInitialThetaSigma() float64 { return getFloat(c.InitialThetaSigma, math.Pi/4) }
func (c *TuningConfig) GetMaxMeasurementVariance() float64 {
	return getFloat(c.MaxMeasurementVariance, 100)
}

func (c *TuningConfig) GetDriftMinPeriod() time.Duration {
	return getDuration(c.DriftMinPeriod, 5*time.Second)
}

func (c *TuningConfig) GetDriftMaxPeriod() time.Duration {
	return getDuration(c.DriftMaxPeriod, 15*time.Second)
}

func (c *TuningConfig) GetDriftMaxFactor() float64 { return getFloat(c.DriftMaxFactor, 0.3) }
func (c *TuningConfig) GetDriftThresholdMultiplier() float64 {
	return getFloat(c.DriftThresholdMultiplier, 1.5)
}
func (c *TuningConfig) GetDriftInflation() float64 { return getFloat(c.DriftInflation, 1.5) }

func (c *TuningConfig) GetCycleInterval() time.Duration {
	return getDuration(c.CycleInterval, 200*time.Millisecond)
}

func (c *TuningConfig) GetMaxGap() time.Duration {
	return getDuration(c.MaxGap, 30*time.Second)
}

func (c *TuningConfig) GetBeaconTTL() time.Duration {
	return getDuration(c.BeaconTTL, 3*time.Second)
}

func (c *TuningConfig) GetHeadingSigmaDeg() float64 { return getFloat(c.HeadingSigmaDeg, 10) }
