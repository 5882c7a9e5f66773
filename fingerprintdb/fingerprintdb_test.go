package fingerprintdb

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/wifi"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFingerprints_RoundTrip(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{
		LocationID:   "stairs",
		X:            4,
		Y:            9,
		AccessPoints: map[string]float64{"AA:01": -40, "aa:02": -71},
	}))
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{
		LocationID:   "lobby",
		X:            1,
		Y:            2,
		AccessPoints: map[string]float64{"aa:01": -55},
	}))

	got, err := db.Fingerprints()
	require.NoError(t, err)
	want := []wifi.Fingerprint{
		{LocationID: "lobby", X: 1, Y: 2, AccessPoints: map[string]float64{"aa:01": -55}},
		{LocationID: "stairs", X: 4, Y: 9, AccessPoints: map[string]float64{"aa:01": -40, "aa:02": -71}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fingerprints mismatch (-want +got):\n%s", diff)
	}
}

func TestFingerprints_ReplaceDropsOldAccessPoints(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{LocationID: "lobby", AccessPoints: map[string]float64{"a": -40, "b": -50}}))
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{LocationID: "lobby", X: 3, AccessPoints: map[string]float64{"c": -60}}))

	got, err := db.Fingerprints()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].X)
	assert.Equal(t, map[string]float64{"c": -60}, got[0].AccessPoints)
}

func TestFingerprints_Delete(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{LocationID: "lobby", AccessPoints: map[string]float64{"a": -40}}))

	ok, err := db.DeleteFingerprint("lobby")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.DeleteFingerprint("lobby")
	require.NoError(t, err)
	assert.False(t, ok)

	var aps int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fingerprint_aps`).Scan(&aps))
	assert.Equal(t, 0, aps, "access points cascade")
}

func TestFingerprints_EmptyID(t *testing.T) {
	db := openTemp(t)
	assert.Error(t, db.PutFingerprint(wifi.Fingerprint{}))
	assert.Error(t, db.PutBeacon(ble.Beacon{}))
}

func TestLoadInto(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutFingerprint(wifi.Fingerprint{LocationID: "lobby", X: 12, Y: -3, AccessPoints: map[string]float64{"aa": -50, "bb": -60, "cc": -70}}))

	dst := wifi.NewDatabase()
	n, err := db.LoadInto(dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	m := wifi.NewMatcher(dst, wifi.DefaultMatcherConfig())
	res, ok := m.Match(wifi.Scan{"aa": -50, "bb": -60, "cc": -70})
	require.True(t, ok)
	assert.Equal(t, 12.0, res.X)
	assert.Equal(t, -3.0, res.Y)
}

func TestBeacons(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.PutBeacon(ble.Beacon{ID: "C0FFEE", X: 1.2, Y: 3.4, TxPower: -61}))
	require.NoError(t, db.PutBeacon(ble.Beacon{ID: "1A", X: -0.5}))
	require.NoError(t, db.PutBeacon(ble.Beacon{ID: "1A", X: 2}))

	got, err := db.Beacons()
	require.NoError(t, err)
	want := []ble.Beacon{
		{ID: "1A", X: 2},
		{ID: "C0FFEE", X: 1.2, Y: 3.4, TxPower: -61},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("beacons mismatch (-want +got):\n%s", diff)
	}
}

func TestOpen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.PutBeacon(ble.Beacon{ID: "A", X: 1}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Beacons()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
}
