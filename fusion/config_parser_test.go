package fusion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/wifi"
)

const projectXML = `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <beaconlist>
    <deviceItem id="C0FFEE" pos="120,340,0" txpower="-61"/>
    <deviceItem id="1a" pos="-50, 0, 250"/>
    <deviceItem id="zz" pos="0,0,0"/>
    <deviceItem id="2B" pos="oops"/>
  </beaconlist>
  <deviceItem id="FF" pos="0,0,0"/>
  <fingerprintlist>
    <fingerprint id="lobby" pos="1200,-300,0">
      <ap bssid="AA:BB:CC:DD:EE:01" rssi="-52"/>
      <ap bssid="aa:bb:cc:dd:ee:02" rssi="-67.5"/>
      <ap bssid="aa:bb:cc:dd:ee:03" rssi="n/a"/>
    </fingerprint>
    <fingerprint id="empty" pos="0,0,0"/>
    <fingerprint pos="100,100,0">
      <ap bssid="aa:bb:cc:dd:ee:01" rssi="-40"/>
    </fingerprint>
  </fingerprintlist>
  <txlist>
    <transferItem addr="10.0.0.5" port="9000" type="udp" data="3"/>
    <transferItem addr="10.0.0.6" port="bad" type="tcp"/>
  </txlist>
</project>
`

func writeProject(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.xml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseProjectBeacons(t *testing.T) {
	got, err := ParseProjectBeacons(writeProject(t, projectXML))
	require.NoError(t, err)
	want := []ble.Beacon{
		{ID: "C0FFEE", X: 1.2, Y: 3.4, TxPower: -61},
		{ID: "1A", X: -0.5, Y: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("beacons mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProjectFingerprints(t *testing.T) {
	got, err := ParseProjectFingerprints(writeProject(t, projectXML))
	require.NoError(t, err)
	want := []wifi.Fingerprint{{
		LocationID: "lobby",
		X:          12,
		Y:          -3,
		AccessPoints: map[string]float64{
			"aa:bb:cc:dd:ee:01": -52,
			"aa:bb:cc:dd:ee:02": -67.5,
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fingerprints mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRbcSenders(t *testing.T) {
	got, err := ParseRbcSenders(writeProject(t, projectXML))
	require.NoError(t, err)
	assert.Equal(t, []RbcSenderConfig{{Addr: "10.0.0.5", Port: 9000, Type: "udp", Mask: 3}}, got)
}

func TestParseProject_Errors(t *testing.T) {
	_, err := ParseProjectBeacons(filepath.Join(t.TempDir(), "missing.xml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	broken := writeProject(t, "<project><beaconlist><deviceItem id=\"1\" pos=\"0,0\">")
	_, err = ParseProjectFingerprints(broken)
	assert.Error(t, err)
	_, err = ParseProjectBeacons(broken)
	assert.Error(t, err)
}
