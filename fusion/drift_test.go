package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDrift() *DriftCorrector { return NewDriftCorrector(DefaultPipelineConfig().Drift) }

func TestDriftCorrector_Period(t *testing.T) {
	d := newDrift()
	assert.Equal(t, 5*time.Second, d.Period(1))
	assert.Equal(t, 15*time.Second, d.Period(0))
	assert.Equal(t, 10*time.Second, d.Period(0.5))
	assert.Equal(t, 15*time.Second, d.Period(-3))
}

func TestDriftCorrector_PullsTowardFix(t *testing.T) {
	k := newFilter()
	k.Initialize(fix(10, 0, 1, 1))
	d := newDrift()
	d.Accept(fix(0, 0, 1, 1), 0)

	assert.False(t, d.Apply(k, 4000), "before the period elapses")

	require.True(t, d.Apply(k, 5000))
	st, _ := k.State()
	assert.InDelta(t, 7, st.X, 1e-9)
	assert.InDelta(t, 0, st.Y, 1e-9)
	assert.InDelta(t, 1.5, st.Covariance.At(0, 0), 1e-9)
	assert.InDelta(t, 1, st.Covariance.At(1, 1), 1e-9, "unmoved axis keeps its variance")

	assert.False(t, d.Apply(k, 6000), "period restarts after a check")
}

func TestDriftCorrector_WithinThreshold(t *testing.T) {
	k := newFilter()
	k.Initialize(fix(10, 0, 1, 1))
	d := newDrift()
	d.Accept(fix(11, 0, 1, 1), 0)

	assert.False(t, d.Apply(k, 20000))
	st, _ := k.State()
	assert.Equal(t, 10.0, st.X)
}

func TestDriftCorrector_Inactive(t *testing.T) {
	k := newFilter()
	d := newDrift()
	assert.False(t, d.Apply(k, 60000), "no fix")

	d.Accept(fix(0, 0, 1, 1), 0)
	assert.False(t, d.Apply(k, 60000), "filter uninitialized")

	k.Initialize(fix(20, 0, 1, 1))
	d.Reset()
	assert.False(t, d.Apply(k, 60000), "fix forgotten")

	d.Accept(fix(0, 0, 1, 0), 0)
	assert.False(t, d.Apply(k, 60000), "zero confidence fix never pulls")
}
