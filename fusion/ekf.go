package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"fusion-engine-go/monitoring"
)

// EKF tracks (x, y, theta) with a unicycle motion model and absolute
// position updates. It is driven by a single fusion loop and is not safe
// for concurrent use.
type EKF struct {
	cfg FilterConfig

	initialized bool
	noiseScale  float64

	xk  *mat.VecDense // x, y, theta
	pxk *mat.SymDense // state covariance
	hk  *mat.Dense    // position observation model
}

// NewEKF returns an uninitialized filter.
func NewEKF(cfg FilterConfig) *EKF {
	k := &EKF{cfg: cfg}
	k.hk = mat.NewDense(MeasDim, StateDim, []float64{
		1, 0, 0,
		0, 1, 0,
	})
	k.resetState()
	return k
}

func (k *EKF) resetState() {
	k.initialized = false
	k.noiseScale = 1
	k.xk = mat.NewVecDense(StateDim, nil)
	k.pxk = mat.NewSymDense(StateDim, nil)
}

// Reset returns the filter to the uninitialized state.
func (k *EKF) Reset() {
	k.resetState()
}

// Initialized reports whether the filter is tracking.
func (k *EKF) Initialized() bool { return k.initialized }

// SetProcessNoiseScale scales the process noise of subsequent predicts.
func (k *EKF) SetProcessNoiseScale(s float64) {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		s = 1
	}
	k.noiseScale = s
}

// MeasurementCovariance returns the adaptive 2×2 covariance for a fix:
// accuracy² inflated by low confidence, capped at maxVar.
func MeasurementCovariance(accuracy, confidence, maxVar float64) *mat.SymDense {
	v := Pow2(accuracy) / clamp(confidence, MinMeasConfidence, MaxMeasConfidence)
	if maxVar > 0 {
		v = math.Min(v, maxVar)
	}
	return mat.NewSymDense(MeasDim, []float64{v, 0, 0, v})
}

func (k *EKF) measCov(m AbsoluteMeasurement) *mat.SymDense {
	if m.Covariance != nil {
		if r, c := m.Covariance.Dims(); r == MeasDim && c == MeasDim {
			return m.Covariance
		}
	}
	return MeasurementCovariance(m.Accuracy, m.Confidence, k.cfg.MaxMeasurementVariance)
}

// Initialize seeds the state from a fix with theta = 0.
func (k *EKF) Initialize(m AbsoluteMeasurement) {
	r := k.measCov(m)
	k.xk = mat.NewVecDense(StateDim, []float64{m.X, m.Y, 0})
	k.pxk = mat.NewSymDense(StateDim, nil)
	k.pxk.SetSym(0, 0, r.At(0, 0))
	k.pxk.SetSym(0, 1, r.At(0, 1))
	k.pxk.SetSym(1, 1, r.At(1, 1))
	k.pxk.SetSym(2, 2, Pow2(k.cfg.InitialThetaSigma))
	k.initialized = true
	monitoring.Logf("ekf: initialized at (%.2f, %.2f) from %s", m.X, m.Y, m.Source)
}

// Predict propagates the state by dt seconds. It is a no-op before
// initialization and returns false then.
func (k *EKF) Predict(dt float64, m MotionEstimate) bool {
	if !k.initialized || dt <= 0 {
		return false
	}
	x, y, th := k.xk.AtVec(0), k.xk.AtVec(1), k.xk.AtVec(2)
	v, w := m.Velocity, m.AngularVelocity

	phi := mat.NewDense(StateDim, StateDim, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	if math.Abs(w) < StraightLineOmega {
		x += v * math.Cos(th) * dt
		y += v * math.Sin(th) * dt
		phi.Set(0, 2, -v*math.Sin(th)*dt)
		phi.Set(1, 2, v*math.Cos(th)*dt)
	} else {
		r := v / w
		th1 := th + w*dt
		x += r * (math.Sin(th1) - math.Sin(th))
		y += r * (math.Cos(th) - math.Cos(th1))
		phi.Set(0, 2, r*(math.Cos(th1)-math.Cos(th)))
		phi.Set(1, 2, r*(math.Sin(th1)-math.Sin(th)))
		th = th1
	}
	k.xk.SetVec(0, x)
	k.xk.SetVec(1, y)
	k.xk.SetVec(2, wrapAngle(th))

	// P = Phi P Phi' + Q
	inflate := 1 + k.cfg.VelocityNoiseGain*math.Abs(v)
	qPos := k.cfg.ProcessNoisePos * dt * inflate * k.noiseScale
	qTh := k.cfg.ProcessNoiseTheta * dt * (1 + math.Abs(w)) * k.noiseScale

	var tmp, pp mat.Dense
	tmp.Mul(phi, k.pxk)
	pp.Mul(&tmp, phi.T())
	pp.Set(0, 0, pp.At(0, 0)+qPos)
	pp.Set(1, 1, pp.At(1, 1)+qPos)
	pp.Set(2, 2, pp.At(2, 2)+qTh)
	k.pxk = symmetrize(&pp)

	return k.checkHealth()
}

// Update corrects the state with an absolute position. It returns false
// when the filter is uninitialized or the innovation covariance is
// singular, in which case the state is left untouched.
func (k *EKF) Update(m AbsoluteMeasurement) bool {
	if !k.initialized {
		return false
	}
	r := k.measCov(m)

	// S = H P H' + R
	var hp mat.Dense
	hp.Mul(k.hk, k.pxk)
	var s mat.Dense
	s.Mul(&hp, k.hk.T())
	s.Add(&s, r)

	var lu mat.LU
	lu.Factorize(&s)
	if det := lu.Det(); math.Abs(det) < MinInnovationDet || math.IsNaN(det) {
		monitoring.Logf("ekf: singular innovation covariance (det=%g), update skipped", det)
		return false
	}
	// S K' = H P, so K = P H' S^-1.
	var kt mat.Dense
	if err := lu.SolveTo(&kt, false, &hp); err != nil {
		monitoring.Logf("ekf: gain solve failed: %v, update skipped", err)
		return false
	}
	gain := kt.T()

	innov := mat.NewVecDense(MeasDim, []float64{
		m.X - k.xk.AtVec(0),
		m.Y - k.xk.AtVec(1),
	})
	var dx mat.VecDense
	dx.MulVec(gain, innov)
	k.xk.AddVec(k.xk, &dx)
	k.xk.SetVec(2, wrapAngle(k.xk.AtVec(2)))

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(gain, k.hk)
	ikh := eye(StateDim)
	ikh.Sub(ikh, &kh)
	var pp mat.Dense
	pp.Mul(ikh, k.pxk)
	k.pxk = symmetrize(&pp)

	return k.checkHealth()
}

// UpdateHeading applies a scalar correction to theta from an external
// heading estimate.
func (k *EKF) UpdateHeading(h HeadingMeasurement) bool {
	if !k.initialized || h.Variance <= 0 || math.IsNaN(h.Theta) {
		return false
	}
	s := k.pxk.At(2, 2) + h.Variance
	if s < MinInnovationDet {
		return false
	}
	innov := wrapAngle(h.Theta - k.xk.AtVec(2))

	gain := mat.NewVecDense(StateDim, nil)
	for i := 0; i < StateDim; i++ {
		gain.SetVec(i, k.pxk.At(i, 2)/s)
	}
	k.xk.AddScaledVec(k.xk, innov, gain)
	k.xk.SetVec(2, wrapAngle(k.xk.AtVec(2)))

	// P = P - K S K'
	var kk mat.Dense
	kk.Outer(s, gain, gain)
	var pp mat.Dense
	pp.Sub(k.pxk, &kk)
	k.pxk = symmetrize(&pp)
	return k.checkHealth()
}

// nudge pulls the position a fraction toward (tx, ty) and inflates the
// variance of every axis that moved.
func (k *EKF) nudge(tx, ty, factor, inflation float64) {
	for i, target := range [2]float64{tx, ty} {
		d := factor * (target - k.xk.AtVec(i))
		if d == 0 {
			continue
		}
		k.xk.SetVec(i, k.xk.AtVec(i)+d)
		k.pxk.SetSym(i, i, k.pxk.At(i, i)*inflation)
	}
	k.checkHealth()
}

// State returns a copy of the state, or false before initialization.
func (k *EKF) State() (FusionState, bool) {
	if !k.initialized {
		return FusionState{}, false
	}
	cov := mat.NewSymDense(StateDim, nil)
	cov.CopySym(k.pxk)
	return FusionState{
		X:          k.xk.AtVec(0),
		Y:          k.xk.AtVec(1),
		Theta:      k.xk.AtVec(2),
		Covariance: cov,
	}, true
}

// checkHealth resets the filter when the state goes non-finite or the
// position covariance explodes.
func (k *EKF) checkHealth() bool {
	if !allFiniteVec(k.xk) || !allFiniteSym(k.pxk) {
		monitoring.Logf("ekf: non-finite state, resetting")
		k.resetState()
		return false
	}
	if k.pxk.At(0, 0) > MaxPositionVariance || k.pxk.At(1, 1) > MaxPositionVariance {
		monitoring.Logf("ekf: position covariance diverged (%.1f, %.1f), resetting", k.pxk.At(0, 0), k.pxk.At(1, 1))
		k.resetState()
		return false
	}
	return true
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// symmetrize returns (A + A')/2 as a SymDense.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

func allFiniteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func allFiniteSym(m *mat.SymDense) bool {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// wrapAngle maps a radian angle onto (-π, π].
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
