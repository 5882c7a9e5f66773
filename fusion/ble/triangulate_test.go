package ble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triangle(conf float64) []Beacon {
	return []Beacon{
		{ID: "A", X: 0, Y: 0, EstimatedDistance: 5, DistanceConfidence: conf},
		{ID: "B", X: 10, Y: 0, EstimatedDistance: 5, DistanceConfidence: conf},
		{ID: "C", X: 5, Y: 10, EstimatedDistance: 5, DistanceConfidence: conf},
	}
}

func newTri() *Triangulator { return NewTriangulator(DefaultTriangulationConfig()) }

func TestTriangulate_SymmetricTriangle(t *testing.T) {
	tri := newTri()
	centroid := 10.0 / 3

	t.Run("centroid", func(t *testing.T) {
		r := tri.WeightedCentroid(triangle(0.8))
		assert.Equal(t, MethodCentroid, r.Method)
		assert.InDelta(t, 5, r.X, 1e-9)
		assert.InDelta(t, centroid, r.Y, 1e-9)
		assert.Equal(t, 3, r.BeaconCount)
		assert.True(t, math.IsInf(r.AverageError, 1))
	})

	t.Run("least squares", func(t *testing.T) {
		r := tri.Triangulate(triangle(0.8))
		assert.Equal(t, MethodLeastSquares, r.Method)
		assert.Less(t, math.Hypot(r.X-5, r.Y-centroid), 0.5)
		assert.False(t, math.IsInf(r.AverageError, 0))
		assert.Greater(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	})
}

func TestTriangulate_NoBeacons(t *testing.T) {
	tri := newTri()
	cases := map[string][]Beacon{
		"nil":          nil,
		"zero range":   {{ID: "A", EstimatedDistance: 0, DistanceConfidence: 1}},
		"bad distance": {{ID: "A", EstimatedDistance: math.NaN()}, {ID: "B", EstimatedDistance: -2}, {ID: "C", EstimatedDistance: math.Inf(1)}},
	}
	for name, bs := range cases {
		t.Run(name, func(t *testing.T) {
			for _, r := range []Result{tri.Triangulate(bs), tri.WeightedCentroid(bs), tri.LeastSquares(bs)} {
				assert.Equal(t, 0.0, r.Confidence)
				assert.Equal(t, 0, r.BeaconCount)
				assert.False(t, math.IsNaN(r.X))
				assert.False(t, math.IsNaN(r.Y))
				assert.False(t, r.Valid())
			}
		})
	}
}

func TestWeightedCentroid_ConfidenceBias(t *testing.T) {
	tri := newTri()
	base := triangle(0.5)
	boosted := triangle(0.5)
	boosted[0].DistanceConfidence = 0.95

	rb := tri.WeightedCentroid(base)
	rc := tri.WeightedCentroid(boosted)
	assert.Less(t, math.Hypot(rc.X, rc.Y), math.Hypot(rb.X, rb.Y), "result should move toward beacon A at the origin")
}

func TestWeightedCentroid_KeepsMostConfident(t *testing.T) {
	tri := newTri()
	var bs []Beacon
	for i := 0; i < 7; i++ {
		bs = append(bs, Beacon{ID: string(rune('A' + i)), X: float64(i), Y: 1, EstimatedDistance: 2, DistanceConfidence: 0.1 * float64(i+1)})
	}
	r := tri.WeightedCentroid(bs)
	assert.Equal(t, 5, r.BeaconCount)
	// The two least confident beacons at x=0 and x=1 are dropped.
	assert.Greater(t, r.X, 2.0)
}

func TestLeastSquares_FallsBackBelowThree(t *testing.T) {
	tri := newTri()
	bs := triangle(0.8)[:2]
	r := tri.LeastSquares(bs)
	assert.Equal(t, MethodCentroid, r.Method)
	assert.True(t, math.IsInf(r.AverageError, 1))
	assert.Equal(t, 2, r.BeaconCount)

	// Unusable beacons do not count toward the minimum.
	bs = append(bs, Beacon{ID: "Z", X: 3, Y: 3, EstimatedDistance: 0, DistanceConfidence: 1})
	r = tri.LeastSquares(bs)
	assert.Equal(t, MethodCentroid, r.Method)
	assert.True(t, math.IsInf(r.AverageError, 1))
}

func TestLeastSquares_RecoversTruePosition(t *testing.T) {
	tri := newTri()
	truth := [2]float64{3, 4}
	anchors := [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	var bs []Beacon
	for i, a := range anchors {
		bs = append(bs, Beacon{
			ID:                 string(rune('A' + i)),
			X:                  a[0],
			Y:                  a[1],
			EstimatedDistance:  math.Hypot(truth[0]-a[0], truth[1]-a[1]),
			DistanceConfidence: 0.9,
		})
	}
	r := tri.Triangulate(bs)
	require.Equal(t, MethodLeastSquares, r.Method)
	assert.Less(t, math.Hypot(r.X-truth[0], r.Y-truth[1]), 0.6)
	assert.Less(t, r.AverageError, math.Sqrt(DefaultTriangulationConfig().ConvergenceMSE)+1e-9)
}

func TestGDOP(t *testing.T) {
	t.Run("too few", func(t *testing.T) {
		assert.True(t, math.IsInf(GDOP(0, 0, nil), 1))
		assert.True(t, math.IsInf(GDOP(0, 0, []Beacon{{X: 1}}), 1))
	})
	t.Run("collinear", func(t *testing.T) {
		bs := []Beacon{{X: 0}, {X: 5}, {X: 10}}
		assert.True(t, math.IsInf(GDOP(20, 0, bs), 1))
	})
	t.Run("orthogonal", func(t *testing.T) {
		bs := []Beacon{{X: 1}, {Y: 1}}
		assert.InDelta(t, math.Sqrt2, GDOP(0, 0, bs), 1e-9)
	})
	t.Run("good geometry scores higher", func(t *testing.T) {
		spread := []Beacon{{X: 10, Y: 0}, {X: -5, Y: 8.66}, {X: -5, Y: -8.66}}
		narrow := []Beacon{{X: 10, Y: 0}, {X: 10, Y: 1}, {X: 10, Y: -1}}
		assert.Greater(t, geometryScore(GDOP(0, 0, spread)), geometryScore(GDOP(0, 0, narrow)))
	})
}

func TestMethodString(t *testing.T) {
	assert.Equal(t, "least_squares", MethodLeastSquares.String())
	assert.Equal(t, "none", MethodNone.String())
}
