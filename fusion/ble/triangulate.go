package ble

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fusion-engine-go/config"
)

// Method identifies the algorithm that produced a Result.
type Method int

const (
	MethodNone Method = iota
	MethodCentroid
	MethodLeastSquares
)

func (m Method) String() string {
	switch m {
	case MethodCentroid:
		return "centroid"
	case MethodLeastSquares:
		return "least_squares"
	default:
		return "none"
	}
}

// Result is a triangulated position.
type Result struct {
	X, Y         float64
	Accuracy     float64 // meters
	Confidence   float64 // [0,1]
	BeaconCount  int
	AverageError float64 // RMS range residual, +Inf when no fit was done
	GDOP         float64 // +Inf for unusable geometry
	Method       Method
}

// Valid reports whether the result carries a position.
func (r Result) Valid() bool { return r.BeaconCount > 0 }

// TriangulationConfig holds triangulation tuning.
type TriangulationConfig struct {
	MaxCentroidBeacons int
	MaxLSBeacons       int
	LearningRate       float64
	MaxIterations      int
	ConvergenceMSE     float64 // m²
}

// DefaultTriangulationConfig returns the built-in triangulation tuning.
func DefaultTriangulationConfig() TriangulationConfig {
	return TriangulationConfigFromTuning(config.EmptyTuningConfig())
}

// TriangulationConfigFromTuning builds a TriangulationConfig from a tuning file.
func TriangulationConfigFromTuning(cfg *config.TuningConfig) TriangulationConfig {
	return TriangulationConfig{
		MaxCentroidBeacons: cfg.GetMaxCentroidBeacons(),
		MaxLSBeacons:       cfg.GetMaxLSBeacons(),
		LearningRate:       cfg.GetLSLearningRate(),
		MaxIterations:      cfg.GetLSMaxIterations(),
		ConvergenceMSE:     cfg.GetLSConvergenceMSE(),
	}
}

const (
	minLSBeacons   = 3
	minAccuracy    = 0.5
	singularDet    = 1e-9
	minUnitVecNorm = 1e-9
)

// Triangulator computes positions from ranged beacons. It holds no state
// between calls and may be shared.
type Triangulator struct {
	cfg TriangulationConfig
}

// NewTriangulator creates a Triangulator.
func NewTriangulator(cfg TriangulationConfig) *Triangulator {
	if cfg.MaxCentroidBeacons < 1 {
		cfg.MaxCentroidBeacons = 1
	}
	if cfg.MaxLSBeacons < minLSBeacons {
		cfg.MaxLSBeacons = minLSBeacons
	}
	return &Triangulator{cfg: cfg}
}

// Triangulate picks least squares when at least three usable beacons are
// present and the weighted centroid otherwise.
func (t *Triangulator) Triangulate(beacons []Beacon) Result {
	if countUsable(beacons) >= minLSBeacons {
		return t.LeastSquares(beacons)
	}
	return t.WeightedCentroid(beacons)
}

func countUsable(beacons []Beacon) int {
	n := 0
	for _, b := range beacons {
		if b.Usable() {
			n++
		}
	}
	return n
}

// selectBeacons returns up to max usable beacons by descending confidence.
func selectBeacons(beacons []Beacon, max int) []Beacon {
	out := make([]Beacon, 0, len(beacons))
	for _, b := range beacons {
		if b.Usable() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceConfidence != out[j].DistanceConfidence {
			return out[i].DistanceConfidence > out[j].DistanceConfidence
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func noEstimate() Result {
	return Result{AverageError: math.Inf(1), GDOP: math.Inf(1), Method: MethodNone}
}

// WeightedCentroid averages beacon positions weighted by confidence over
// distance.
func (t *Triangulator) WeightedCentroid(beacons []Beacon) Result {
	used := selectBeacons(beacons, t.cfg.MaxCentroidBeacons)
	if len(used) == 0 {
		return noEstimate()
	}

	w := make([]float64, len(used))
	for i, b := range used {
		w[i] = clamp01(b.DistanceConfidence) / b.EstimatedDistance
	}
	if floats.Sum(w) <= 0 {
		for i, b := range used {
			w[i] = 1 / b.EstimatedDistance
		}
	}
	floats.Scale(1/floats.Sum(w), w)

	xs := make([]float64, len(used))
	ys := make([]float64, len(used))
	ds := make([]float64, len(used))
	cs := make([]float64, len(used))
	for i, b := range used {
		xs[i], ys[i] = b.X, b.Y
		ds[i] = b.EstimatedDistance
		cs[i] = clamp01(b.DistanceConfidence)
	}
	x := floats.Dot(w, xs)
	y := floats.Dot(w, ys)

	gdop := GDOP(x, y, used)
	conf := t.baseConfidence(len(used), floats.Sum(cs)/float64(len(cs)), gdop)

	return Result{
		X:            x,
		Y:            y,
		Accuracy:     math.Max(1, 0.5*floats.Dot(w, ds)),
		Confidence:   conf,
		BeaconCount:  len(used),
		AverageError: math.Inf(1),
		GDOP:         gdop,
		Method:       MethodCentroid,
	}
}

// baseConfidence blends beacon count, mean beacon confidence and geometry.
func (t *Triangulator) baseConfidence(n int, meanConf, gdop float64) float64 {
	countRatio := math.Min(1, float64(n)/float64(t.cfg.MaxCentroidBeacons))
	return clamp01(0.3*countRatio + 0.4*meanConf + 0.3*geometryScore(gdop))
}

// LeastSquares refines the centroid by gradient descent on the
// confidence-weighted squared range residuals. With fewer than three
// usable beacons it returns the centroid.
func (t *Triangulator) LeastSquares(beacons []Beacon) Result {
	used := selectBeacons(beacons, t.cfg.MaxLSBeacons)
	if len(used) < minLSBeacons {
		res := t.WeightedCentroid(beacons)
		res.AverageError = math.Inf(1)
		return res
	}

	start := t.WeightedCentroid(used)
	c := make([]float64, len(used))
	for i, b := range used {
		c[i] = clamp01(b.DistanceConfidence)
	}
	if floats.Sum(c) <= 0 {
		for i := range c {
			c[i] = 1
		}
	}
	csum := floats.Sum(c)

	px, py := start.X, start.Y
	bestX, bestY, bestMSE := px, py, math.Inf(1)
	for iter := 0; ; iter++ {
		mse, gx, gy := residuals(px, py, used, c, csum)
		if mse < bestMSE {
			bestX, bestY, bestMSE = px, py, mse
		}
		if mse < t.cfg.ConvergenceMSE || iter >= t.cfg.MaxIterations {
			break
		}
		px -= t.cfg.LearningRate * gx
		py -= t.cfg.LearningRate * gy
	}

	rms := math.Sqrt(bestMSE)
	gdop := GDOP(bestX, bestY, used)
	meanConf := 0.0
	for _, b := range used {
		meanConf += clamp01(b.DistanceConfidence)
	}
	meanConf /= float64(len(used))
	conf := t.baseConfidence(len(used), meanConf, gdop) / (1 + rms)

	return Result{
		X:            bestX,
		Y:            bestY,
		Accuracy:     math.Max(minAccuracy, rms),
		Confidence:   clamp01(conf),
		BeaconCount:  len(used),
		AverageError: rms,
		GDOP:         gdop,
		Method:       MethodLeastSquares,
	}
}

// residuals returns the weighted mean squared range error at (x,y) and its
// gradient.
func residuals(x, y float64, bs []Beacon, c []float64, csum float64) (mse, gx, gy float64) {
	for i, b := range bs {
		dx, dy := x-b.X, y-b.Y
		r := math.Hypot(dx, dy)
		e := r - b.EstimatedDistance
		mse += c[i] * e * e
		if r > minUnitVecNorm {
			gx += 2 * c[i] * e * dx / r
			gy += 2 * c[i] * e * dy / r
		}
	}
	return mse / csum, gx / csum, gy / csum
}

// GDOP returns the horizontal dilution of precision of the beacon geometry
// seen from (x,y): sqrt(trace((HᵀH)⁻¹)) over unit line-of-sight vectors.
// It is +Inf for fewer than two beacons or singular geometry.
func GDOP(x, y float64, beacons []Beacon) float64 {
	rows := make([]float64, 0, 2*len(beacons))
	for _, b := range beacons {
		dx, dy := b.X-x, b.Y-y
		r := math.Hypot(dx, dy)
		if r < minUnitVecNorm {
			continue
		}
		rows = append(rows, dx/r, dy/r)
	}
	n := len(rows) / 2
	if n < 2 {
		return math.Inf(1)
	}
	h := mat.NewDense(n, 2, rows)
	var g mat.SymDense
	g.SymOuterK(1, h.T())
	det := mat.Det(&g)
	if det < singularDet {
		return math.Inf(1)
	}
	return math.Sqrt((g.At(0, 0) + g.At(1, 1)) / det)
}

// geometryScore maps GDOP onto [0,1], 0 for unusable geometry.
func geometryScore(gdop float64) float64 {
	if math.IsInf(gdop, 0) || math.IsNaN(gdop) || gdop <= 0 {
		return 0
	}
	return math.Min(1, 1/gdop)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
