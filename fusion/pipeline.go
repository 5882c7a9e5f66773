package fusion

import (
	"math"
	"time"

	"fusion-engine-go/monitoring"
)

// Cycle carries the inputs of one fusion cycle. Nil fields are absent.
type Cycle struct {
	TimestampMs int64
	Visual      *MotionEstimate
	PDR         *MotionEstimate
	// VisualWeight is the trust in Visual relative to PDR, in [0,1].
	VisualWeight float64
	Heading      *HeadingMeasurement
	Absolute     *AbsoluteMeasurement
}

// FusionPipeline runs predict, update and drift correction for one agent.
// Calls must come from a single goroutine in timestamp order.
type FusionPipeline struct {
	cfg   PipelineConfig
	ekf   *EKF
	drift *DriftCorrector

	hasLast bool
	lastTS  int64
}

// NewFusionPipeline creates a pipeline with an uninitialized filter.
func NewFusionPipeline(cfg PipelineConfig) *FusionPipeline {
	return &FusionPipeline{
		cfg:   cfg,
		ekf:   NewEKF(cfg.Filter),
		drift: NewDriftCorrector(cfg.Drift),
	}
}

// Reset returns the pipeline to its initial state.
func (p *FusionPipeline) Reset() {
	p.ekf.Reset()
	p.drift.Reset()
	p.hasLast = false
	p.lastTS = 0
}

// State returns a copy of the filter state, or false before the first fix.
func (p *FusionPipeline) State() (FusionState, bool) {
	return p.ekf.State()
}

// CombineMotion blends visual and PDR motion with weight w on the visual
// estimate. A missing source hands all weight to the other one.
func CombineMotion(visual, pdr *MotionEstimate, w float64) (MotionEstimate, float64) {
	switch {
	case visual == nil && pdr == nil:
		return MotionEstimate{}, 0
	case visual == nil:
		return *pdr, 0
	case pdr == nil:
		return *visual, 1
	}
	w = clamp(w, 0, 1)
	return MotionEstimate{
		Velocity:        w*visual.Velocity + (1-w)*pdr.Velocity,
		AngularVelocity: w*visual.AngularVelocity + (1-w)*pdr.AngularVelocity,
	}, w
}

// validMeasurement filters fixes that must not reach the filter.
func validMeasurement(m *AbsoluteMeasurement) bool {
	if m == nil {
		return false
	}
	for _, v := range [...]float64{m.X, m.Y, m.Accuracy} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return m.Accuracy >= 0
}

// Process runs one fusion cycle and returns the fused position. Before
// the first valid absolute fix the result has Valid == false.
func (p *FusionPipeline) Process(c Cycle) FusedPosition {
	tsMs := c.TimestampMs
	if !p.hasLast {
		p.hasLast = true
		p.lastTS = tsMs
	}
	if tsMs < p.lastTS {
		tsMs = p.lastTS
	}
	dt := float64(tsMs-p.lastTS) / 1000.0
	p.lastTS = tsMs

	if time.Duration(dt*float64(time.Second)) > p.cfg.MaxGap && p.ekf.Initialized() {
		monitoring.Logf("pipeline: %.1fs gap, resetting filter", dt)
		p.ekf.Reset()
		p.drift.Reset()
		dt = 0
	}

	motion, w := CombineMotion(c.Visual, c.PDR, c.VisualWeight)
	p.ekf.SetProcessNoiseScale(2 - w)
	if dt > 0 {
		p.ekf.Predict(dt, motion)
	}
	if c.Heading != nil {
		p.ekf.UpdateHeading(*c.Heading)
	}

	source := SourceFused
	if validMeasurement(c.Absolute) {
		m := *c.Absolute
		if !p.ekf.Initialized() {
			p.ekf.Initialize(m)
			p.drift.Accept(m, tsMs)
			source = m.Source
		} else if p.ekf.Update(m) {
			p.drift.Accept(m, tsMs)
			source = m.Source
		}
	}
	p.drift.Apply(p.ekf, tsMs)

	return p.output(tsMs, source)
}

func (p *FusionPipeline) output(tsMs int64, source Source) FusedPosition {
	st, ok := p.ekf.State()
	if !ok {
		return FusedPosition{TimestampMs: tsMs, Source: SourceNone}
	}
	varX := st.Covariance.At(0, 0)
	varY := st.Covariance.At(1, 1)
	acc := math.Sqrt(varX + varY)
	conf := clamp(1-math.Min(1, acc/ConfidenceScale), MinOutConfidence, MaxOutConfidence)
	return FusedPosition{
		X:           st.X,
		Y:           st.Y,
		Accuracy:    acc,
		SigmaX:      math.Sqrt(varX),
		SigmaY:      math.Sqrt(varY),
		SigmaTheta:  math.Sqrt(st.Covariance.At(2, 2)),
		Confidence:  conf,
		Source:      source,
		TimestampMs: tsMs,
		Valid:       true,
	}
}
