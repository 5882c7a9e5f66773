package pdr

import (
	"math"
	"time"
)

// StepUpdate is the input to the integrator for one accelerometer cycle.
type StepUpdate struct {
	StepDetected   bool
	StepLength     float64 // meters
	HeadingDegrees float64 // clockwise from the +y axis
	StepConfidence float64
	TimestampNanos int64
}

// Position is the dead-reckoned position relative to the last anchor.
type Position struct {
	X, Y           float64
	Accuracy       float64
	Confidence     float64
	Steps          int
	TimestampNanos int64
}

// Motion is the PDR-derived unicycle motion. AngularVelocity is
// counter-clockwise positive.
type Motion struct {
	Velocity        float64
	AngularVelocity float64
}

// Integrator accumulates step displacements into a position.
type Integrator struct {
	cfg IntegratorConfig
	pos Position

	hasStep     bool
	lastStepTs  int64
	lastLength  float64
	lastHeading float64
	interval    float64 // seconds between the last two steps
	turnRate    float64 // rad/s, counter-clockwise
}

// NewIntegrator creates an integrator at the origin with full confidence.
func NewIntegrator(cfg IntegratorConfig) *Integrator {
	in := &Integrator{cfg: cfg}
	in.Reset()
	return in
}

// Reset moves the integrator back to the origin.
func (in *Integrator) Reset() {
	in.pos = Position{Confidence: 1}
	in.hasStep = false
	in.lastStepTs = 0
	in.lastLength = 0
	in.lastHeading = 0
	in.interval = 0
	in.turnRate = 0
}

// SetPosition re-anchors the integrator, e.g. on an absolute fix.
func (in *Integrator) SetPosition(x, y, accuracy, confidence float64) {
	in.pos.X = x
	in.pos.Y = y
	in.pos.Accuracy = math.Max(0, accuracy)
	in.pos.Confidence = math.Min(1, math.Max(0, confidence))
}

// Position returns the latest position.
func (in *Integrator) Position() Position { return in.pos }

// Update applies one step, or returns the prior position when no step occurred.
func (in *Integrator) Update(u StepUpdate) Position {
	if !u.StepDetected {
		return in.pos
	}
	h := u.HeadingDegrees * math.Pi / 180
	in.pos.X += u.StepLength * math.Sin(h)
	in.pos.Y += u.StepLength * math.Cos(h)
	in.pos.Accuracy += in.cfg.AccuracyDecay
	sc := math.Min(1, math.Max(0, u.StepConfidence))
	in.pos.Confidence = math.Min(1, math.Max(0, in.pos.Confidence*(1-in.cfg.ConfidenceDecay)*sc))
	in.pos.Steps++
	in.pos.TimestampNanos = u.TimestampNanos

	if in.hasStep && u.TimestampNanos > in.lastStepTs {
		in.interval = float64(u.TimestampNanos-in.lastStepTs) / 1e9
		// Heading is clockwise, the motion model is counter-clockwise.
		in.turnRate = -wrapAngle(h-in.lastHeading) / in.interval
	}
	in.hasStep = true
	in.lastStepTs = u.TimestampNanos
	in.lastLength = u.StepLength
	in.lastHeading = h
	return in.pos
}

// Motion returns the walking speed and turn rate implied by the last two
// steps. It is zero before the second step and once MaxStepInterval has
// passed without a step.
func (in *Integrator) Motion(nowNanos int64) (Motion, bool) {
	if !in.hasStep || in.interval <= 0 {
		return Motion{}, false
	}
	if time.Duration(nowNanos-in.lastStepTs) > in.cfg.MaxStepInterval {
		return Motion{}, false
	}
	return Motion{Velocity: in.lastLength / in.interval, AngularVelocity: in.turnRate}, true
}

// wrapAngle maps a radian angle onto (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
