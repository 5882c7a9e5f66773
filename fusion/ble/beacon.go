package ble

import (
	"fmt"
	"math"

	"fusion-engine-go/config"
)

// Beacon is a fixed BLE transmitter with its latest ranging state.
// Position comes from reference data; the RSSI and distance fields are
// maintained by a Ranger.
type Beacon struct {
	ID                 string
	X, Y               float64 // meters
	TxPower            float64 // dBm at 1 m, 0 means use the ranger default
	LastRSSI           float64
	FilteredRSSI       float64
	EstimatedDistance  float64 // meters, > 0 when usable
	DistanceConfidence float64 // [0,1]
}

// FormatID renders a numeric beacon address the way reference data and
// wire frames name it.
func FormatID(id uint32) string { return fmt.Sprintf("%X", id) }

// Usable reports whether the beacon carries a valid range.
func (b Beacon) Usable() bool {
	d := b.EstimatedDistance
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}

// RangingConfig controls RSSI to distance conversion.
type RangingConfig struct {
	PathLossExponent float64
	DefaultTxPower   float64 // dBm at 1 m
	SmoothingAlpha   float64 // EMA weight of the newest RSSI
}

// DefaultRangingConfig returns the built-in ranging tuning.
func DefaultRangingConfig() RangingConfig {
	return RangingConfigFromTuning(config.EmptyTuningConfig())
}

// RangingConfigFromTuning builds a RangingConfig from a tuning file.
func RangingConfigFromTuning(cfg *config.TuningConfig) RangingConfig {
	return RangingConfig{
		PathLossExponent: cfg.GetPathLossExponent(),
		DefaultTxPower:   cfg.GetDefaultTxPower(),
		SmoothingAlpha:   cfg.GetRSSISmoothingAlpha(),
	}
}

// RSSI bounds used for distance confidence.
const (
	strongRSSI = -40.0
	weakRSSI   = -100.0
)

// Ranger converts RSSI readings into beacon distances with a log-distance
// path-loss model.
type Ranger struct {
	cfg RangingConfig
}

// NewRanger creates a Ranger.
func NewRanger(cfg RangingConfig) *Ranger {
	if cfg.PathLossExponent <= 0 {
		cfg.PathLossExponent = 2
	}
	return &Ranger{cfg: cfg}
}

// Observe folds one RSSI reading into b. Zero and positive readings are
// treated as stale and ignored; Observe then returns false.
func (r *Ranger) Observe(b *Beacon, rssi float64) bool {
	if rssi >= 0 || math.IsNaN(rssi) {
		return false
	}
	b.LastRSSI = rssi
	if b.FilteredRSSI == 0 {
		b.FilteredRSSI = rssi
	} else {
		a := r.cfg.SmoothingAlpha
		b.FilteredRSSI = a*rssi + (1-a)*b.FilteredRSSI
	}
	b.EstimatedDistance = r.Distance(b.FilteredRSSI, b.TxPower)
	b.DistanceConfidence = RSSIConfidence(b.FilteredRSSI)
	return true
}

// Distance returns the path-loss range in meters for rssi.
func (r *Ranger) Distance(rssi, txPower float64) float64 {
	if txPower == 0 {
		txPower = r.cfg.DefaultTxPower
	}
	return math.Pow(10, (txPower-rssi)/(10*r.cfg.PathLossExponent))
}

// RSSIConfidence maps signal strength linearly onto [0,1] between -100 dBm
// and -40 dBm.
func RSSIConfidence(rssi float64) float64 {
	c := (rssi - weakRSSI) / (strongRSSI - weakRSSI)
	return math.Min(1, math.Max(0, c))
}
