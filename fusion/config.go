package fusion

import (
	"math"
	"time"

	"fusion-engine-go/config"
	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/pdr"
	"fusion-engine-go/fusion/wifi"
)

// FilterConfig holds EKF noise tuning.
type FilterConfig struct {
	ProcessNoisePos        float64 // m² per second
	ProcessNoiseTheta      float64 // rad² per second
	VelocityNoiseGain      float64 // extra process noise per m/s of speed
	InitialThetaSigma      float64 // rad
	MaxMeasurementVariance float64 // m²
}

// DriftConfig holds drift correction tuning.
type DriftConfig struct {
	MinPeriod           time.Duration // period for a high quality fix
	MaxPeriod           time.Duration // period for a low quality fix
	MaxFactor           float64       // pull fraction at full confidence
	ThresholdMultiplier float64       // divergence must exceed this × accuracy
	Inflation           float64       // variance multiplier on corrected axes
}

// PipelineConfig configures a FusionPipeline.
type PipelineConfig struct {
	Filter FilterConfig
	Drift  DriftConfig
	MaxGap time.Duration // longer gaps between cycles reset the filter
}

// Config configures an Engine.
type Config struct {
	Pipeline      PipelineConfig
	Detector      pdr.DetectorConfig
	StepLength    pdr.StepLengthConfig
	Integrator    pdr.IntegratorConfig
	Ranging       ble.RangingConfig
	Triangulation ble.TriangulationConfig
	Matcher       wifi.MatcherConfig

	CycleInterval time.Duration
	BeaconTTL     time.Duration // beacons unheard for longer are ignored
	HeadingSigma  float64       // rad
}

// DefaultConfig returns the built-in engine configuration.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds an engine Config from a tuning file.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		Pipeline:      PipelineConfigFromTuning(t),
		Detector:      pdr.DetectorConfigFromTuning(t),
		StepLength:    pdr.StepLengthConfigFromTuning(t),
		Integrator:    pdr.IntegratorConfigFromTuning(t),
		Ranging:       ble.RangingConfigFromTuning(t),
		Triangulation: ble.TriangulationConfigFromTuning(t),
		Matcher:       wifi.MatcherConfigFromTuning(t),
		CycleInterval: t.GetCycleInterval(),
		BeaconTTL:     t.GetBeaconTTL(),
		HeadingSigma:  t.GetHeadingSigmaDeg() * math.Pi / 180,
	}
}

// DefaultPipelineConfig returns the built-in pipeline configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfigFromTuning(config.EmptyTuningConfig())
}

// PipelineConfigFromTuning builds a PipelineConfig from a tuning file.
func PipelineConfigFromTuning(t *config.TuningConfig) PipelineConfig {
	return PipelineConfig{
		Filter: FilterConfig{
			ProcessNoisePos:        t.GetProcessNoisePos(),
			ProcessNoiseTheta:      t.GetProcessNoiseTheta(),
			VelocityNoiseGain:      t.GetVelocityNoiseGain(),
			InitialThetaSigma:      t.GetInitialThetaSigma(),
			MaxMeasurementVariance: t.GetMaxMeasurementVariance(),
		},
		Drift: DriftConfig{
			MinPeriod:           t.GetDriftMinPeriod(),
			MaxPeriod:           t.GetDriftMaxPeriod(),
			MaxFactor:           t.GetDriftMaxFactor(),
			ThresholdMultiplier: t.GetDriftThresholdMultiplier(),
			Inflation:           t.GetDriftInflation(),
		},
		MaxGap: t.GetMaxGap(),
	}
}
