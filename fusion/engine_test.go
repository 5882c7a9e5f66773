package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/pdr"
	"fusion-engine-go/fusion/wifi"
)

func referenceBeacons() []ble.Beacon {
	return []ble.Beacon{
		{ID: "A", X: 0, Y: 0},
		{ID: "B", X: 10, Y: 0},
		{ID: "C", X: 5, Y: 10},
	}
}

// rssiAt inverts the default path-loss model.
func rssiAt(d float64) float64 { return -59 - 20*math.Log10(d) }

func lobbyDB() *wifi.Database {
	db := wifi.NewDatabase()
	db.Put(wifi.Fingerprint{
		LocationID:   "lobby",
		X:            12,
		Y:            -3,
		AccessPoints: map[string]float64{"aa": -50, "bb": -60, "cc": -70},
	})
	return db
}

func TestEngine_NoFixIsInvalid(t *testing.T) {
	e := NewEngine(DefaultConfig(), referenceBeacons(), nil)
	out := e.Step(0)
	assert.False(t, out.Valid)
	assert.Equal(t, SourceNone, out.Source)
}

func TestEngine_BLEFix(t *testing.T) {
	e := NewEngine(DefaultConfig(), referenceBeacons(), nil)
	for _, id := range []string{"A", "B", "C"} {
		require.True(t, e.ObserveBeacon(id, rssiAt(5), 0))
	}
	out := e.Step(0)
	require.True(t, out.Valid)
	assert.Equal(t, SourceBLE, out.Source)
	assert.Less(t, math.Hypot(out.X-5, out.Y-10.0/3), 0.5)

	out = e.Step(200)
	assert.Equal(t, SourceFused, out.Source, "readings are consumed by one cycle")
}

func TestEngine_ObserveBeaconFilters(t *testing.T) {
	e := NewEngine(DefaultConfig(), referenceBeacons(), nil)
	assert.False(t, e.ObserveBeacon("Z", -70, 0), "unknown beacon")
	assert.False(t, e.ObserveBeacon("A", 0, 0), "stale reading")
	assert.False(t, e.ObserveBeacon("A", math.NaN(), 0))
	assert.False(t, e.Step(0).Valid)
}

func TestEngine_BeaconTTL(t *testing.T) {
	e := NewEngine(DefaultConfig(), referenceBeacons(), nil)
	e.ObserveBeacon("A", -70, 0)
	e.ObserveBeacon("B", -70, 0)
	e.ObserveBeacon("C", -70, 4000)

	live := e.liveBeacons(4000)
	require.Len(t, live, 1)
	assert.Equal(t, "C", live[0].ID)
}

func TestEngine_WifiFix(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, lobbyDB())
	e.ObserveWifiScan(wifi.Scan{"aa": -50, "bb": -60, "cc": -70})
	out := e.Step(0)
	require.True(t, out.Valid)
	assert.Equal(t, SourceWifi, out.Source)
	assert.Equal(t, 12.0, out.X)
	assert.Equal(t, -3.0, out.Y)
}

func TestEngine_FingerprintAccuracyFloor(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, lobbyDB())
	e.scan = wifi.Scan{"aa": -50, "bb": -60, "cc": -70}
	m := e.absolute(0)
	require.NotNil(t, m)
	assert.Equal(t, MinFingerprintAccuracy, m.Accuracy)
}

func TestEngine_PrefersMoreAccurateFix(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, lobbyDB())
	e.scan = wifi.Scan{"aa": -50, "bb": -60, "cc": -70}
	m := e.absolute(0)
	require.NotNil(t, m)
	assert.Equal(t, SourceWifi, m.Source)
	assert.Nil(t, e.absolute(0), "scan consumed")
}

func TestEngine_VisualMotionConsumedOnce(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, lobbyDB())
	e.ObserveWifiScan(wifi.Scan{"aa": -50, "bb": -60, "cc": -70})
	require.True(t, e.Step(0).Valid)

	e.SetVisualMotion(MotionEstimate{Velocity: 1}, 0.9)
	out := e.Step(1000)
	assert.InDelta(t, 13, out.X, 1e-9)

	out = e.Step(2000)
	assert.InDelta(t, 13, out.X, 1e-9)
}

func TestEngine_PDRFollowsHeading(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil, nil)
	e.SetHeading(90)
	e.SetHeading(math.NaN())

	const rate = 50.0
	steps := 0
	for i := 0; i < 500; i++ {
		ts := float64(i) / rate
		res := e.ProcessAccel(pdr.AccelSample{
			Z:              Gravity + 3*math.Sin(2*math.Pi*2*ts),
			TimestampNanos: int64(ts * 1e9),
		})
		steps = res.StepCount
	}
	require.Greater(t, steps, 5)
	p := e.PDRPosition()
	assert.Equal(t, steps, p.Steps)
	assert.Greater(t, p.X, 0.0)
	assert.InDelta(t, 0, p.Y, 1e-9)
}

func TestEngine_Reset(t *testing.T) {
	e := NewEngine(DefaultConfig(), referenceBeacons(), lobbyDB())
	e.ObserveWifiScan(wifi.Scan{"aa": -50, "bb": -60, "cc": -70})
	require.True(t, e.Step(0).Valid)

	e.Reset()
	_, ok := e.State()
	assert.False(t, ok)
	assert.Equal(t, pdr.Position{Confidence: 1}, e.PDRPosition())
	assert.False(t, e.Step(200).Valid)
}

func TestHeadingToTheta(t *testing.T) {
	assert.InDelta(t, math.Pi/2, headingToTheta(0), 1e-12)
	assert.InDelta(t, 0, headingToTheta(90), 1e-12)
	assert.InDelta(t, -math.Pi/2, headingToTheta(180), 1e-12)
	assert.InDelta(t, math.Pi, headingToTheta(270), 1e-12)
}
