package fusion

import (
	"math"
	"sort"
	"time"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/pdr"
	"fusion-engine-go/fusion/wifi"
)

// Engine owns every estimator for one tracked agent and turns raw inputs
// into fused positions. It is not safe for concurrent use; the server
// drives each Engine from a single session goroutine.
type Engine struct {
	cfg Config

	detector     pdr.Detector
	stepLength   *pdr.StepLengthEstimator
	integrator   *pdr.Integrator
	ranger       *ble.Ranger
	triangulator *ble.Triangulator
	matcher      *wifi.Matcher
	pipeline     *FusionPipeline

	reference map[string]ble.Beacon
	beacons   map[string]*ble.Beacon
	heard     map[string]int64 // ms of the last reading per beacon
	bleDirty  bool

	scan       wifi.Scan
	visual     *MotionEstimate
	visualW    float64
	heading    *HeadingMeasurement
	headingDeg float64
	gyroMag    float64
	peakLinAc  float64
}

// NewEngine creates an Engine. beacons is the reference beacon list; db
// may be nil when no fingerprints are available.
func NewEngine(cfg Config, beacons []ble.Beacon, db *wifi.Database) *Engine {
	e := &Engine{
		cfg:          cfg,
		detector:     pdr.NewDetector(cfg.Detector),
		stepLength:   pdr.NewStepLengthEstimator(cfg.StepLength),
		integrator:   pdr.NewIntegrator(cfg.Integrator),
		ranger:       ble.NewRanger(cfg.Ranging),
		triangulator: ble.NewTriangulator(cfg.Triangulation),
		pipeline:     NewFusionPipeline(cfg.Pipeline),
		reference:    make(map[string]ble.Beacon, len(beacons)),
	}
	if db != nil {
		e.matcher = wifi.NewMatcher(db, cfg.Matcher)
	}
	for _, b := range beacons {
		e.reference[b.ID] = b
	}
	e.resetInputs()
	return e
}

func (e *Engine) resetInputs() {
	e.beacons = make(map[string]*ble.Beacon, len(e.reference))
	for id, b := range e.reference {
		ref := b
		e.beacons[id] = &ref
	}
	e.heard = make(map[string]int64)
	e.bleDirty = false
	e.scan = nil
	e.visual = nil
	e.visualW = 0
	e.heading = nil
	e.headingDeg = 0
	e.gyroMag = 0
	e.peakLinAc = 0
}

// Reset returns every estimator to its initial state.
func (e *Engine) Reset() {
	e.detector.Reset()
	e.stepLength.Reset()
	e.integrator.Reset()
	e.pipeline.Reset()
	e.resetInputs()
}

// ProcessAccel feeds one accelerometer sample through step detection,
// step length estimation and the PDR integrator.
func (e *Engine) ProcessAccel(s pdr.AccelSample) pdr.StepResult {
	res := e.detector.Process(s)
	lin := math.Abs(s.Magnitude() - Gravity)
	if lin > e.peakLinAc {
		e.peakLinAc = lin
	}
	if !res.StepDetected {
		return res
	}
	length := e.stepLength.Estimate(pdr.SensorSnapshot{
		LinearAccelMagnitude: e.peakLinAc,
		GyroMagnitude:        e.gyroMag,
		TimestampNanos:       s.TimestampNanos,
	}, e.cfg.StepLength.UserHeight, e.cfg.StepLength.CalibrationFactor)
	e.peakLinAc = 0

	e.integrator.Update(pdr.StepUpdate{
		StepDetected:   true,
		StepLength:     length,
		HeadingDegrees: e.headingDeg,
		StepConfidence: res.Confidence,
		TimestampNanos: s.TimestampNanos,
	})
	return res
}

// ProcessGyro records a gyroscope sample for step gating and pattern
// classification.
func (e *Engine) ProcessGyro(g pdr.GyroSample) {
	e.detector.UpdateGyro(g)
	e.gyroMag = g.Magnitude()
}

// SetHeading records the device heading in degrees clockwise from +y.
func (e *Engine) SetHeading(degrees float64) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return
	}
	e.headingDeg = degrees
	e.heading = &HeadingMeasurement{
		Theta:    headingToTheta(degrees),
		Variance: Pow2(e.cfg.HeadingSigma),
	}
}

// SetVisualMotion supplies the visual-inertial motion for the next cycle.
// confidence is used as the visual weight against PDR.
func (e *Engine) SetVisualMotion(m MotionEstimate, confidence float64) {
	e.visual = &m
	e.visualW = clamp(confidence, 0, 1)
}

// ObserveBeacon records an RSSI reading for a reference beacon. Unknown
// beacons and stale readings are ignored.
func (e *Engine) ObserveBeacon(id string, rssi float64, tsMs int64) bool {
	b, ok := e.beacons[id]
	if !ok {
		return false
	}
	if !e.ranger.Observe(b, rssi) {
		return false
	}
	e.heard[id] = tsMs
	e.bleDirty = true
	return true
}

// ObserveWifiScan supplies a scan for the next cycle.
func (e *Engine) ObserveWifiScan(scan wifi.Scan) {
	e.scan = scan
}

// PDRPosition returns the dead-reckoned position.
func (e *Engine) PDRPosition() pdr.Position { return e.integrator.Position() }

// State returns the filter state.
func (e *Engine) State() (FusionState, bool) { return e.pipeline.State() }

// Step runs one fusion cycle at tsMs.
func (e *Engine) Step(tsMs int64) FusedPosition {
	c := Cycle{
		TimestampMs:  tsMs,
		Visual:       e.visual,
		VisualWeight: e.visualW,
		Heading:      e.heading,
		Absolute:     e.absolute(tsMs),
	}
	if m, ok := e.integrator.Motion(tsMs * int64(time.Millisecond)); ok {
		pm := MotionEstimate{Velocity: m.Velocity, AngularVelocity: m.AngularVelocity}
		c.PDR = &pm
	}
	e.visual = nil
	e.heading = nil

	out := e.pipeline.Process(c)
	if out.Valid {
		e.integrator.SetPosition(out.X, out.Y, out.Accuracy, out.Confidence)
	}
	return out
}

// absolute picks the more accurate of the fingerprint match and the BLE
// triangulation. Each input is consumed once.
func (e *Engine) absolute(tsMs int64) *AbsoluteMeasurement {
	var cands []AbsoluteMeasurement

	if e.scan != nil && e.matcher != nil {
		if r, ok := e.matcher.Match(e.scan); ok {
			cands = append(cands, AbsoluteMeasurement{
				X: r.X, Y: r.Y, Accuracy: math.Max(MinFingerprintAccuracy, r.Accuracy), Confidence: r.Confidence, Source: SourceWifi,
			})
		}
	}
	e.scan = nil

	if e.bleDirty {
		if r := e.triangulator.Triangulate(e.liveBeacons(tsMs)); r.Valid() {
			cands = append(cands, AbsoluteMeasurement{
				X: r.X, Y: r.Y, Accuracy: r.Accuracy, Confidence: r.Confidence, Source: SourceBLE,
			})
		}
		e.bleDirty = false
	}

	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Accuracy != cands[j].Accuracy {
			return cands[i].Accuracy < cands[j].Accuracy
		}
		return cands[i].Confidence > cands[j].Confidence
	})
	best := cands[0]
	return &best
}

// liveBeacons returns beacons heard within the configured TTL.
func (e *Engine) liveBeacons(tsMs int64) []ble.Beacon {
	ttl := e.cfg.BeaconTTL.Milliseconds()
	out := make([]ble.Beacon, 0, len(e.heard))
	for id, ts := range e.heard {
		if ttl > 0 && tsMs-ts > ttl {
			delete(e.heard, id)
			continue
		}
		out = append(out, *e.beacons[id])
	}
	return out
}

// headingToTheta converts degrees clockwise from +y to radians
// counter-clockwise from +x.
func headingToTheta(deg float64) float64 {
	return wrapAngle(math.Pi/2 - deg*math.Pi/180)
}
