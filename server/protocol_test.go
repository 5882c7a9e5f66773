package server

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(s string) net.HardwareAddr {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return hw
}

func sampleFrames() []Frame {
	return []Frame{
		{Addr: 0x1001, Type: TypeAccelFrame, Seq: 1, TimestampNanos: 1_000_000_000, Vector: [3]float64{0.5, -0.25, 9.75}},
		{Addr: 0x1001, Type: TypeGyroFrame, Seq: 2, TimestampNanos: 1_010_000_000, Vector: [3]float64{0, 0.125, -1.5}},
		{Addr: 0x1001, Type: TypeHeadingFrame, Seq: 3, Flags: 5, TimestampNanos: 1_020_000_000, Heading: 271.5},
		{Addr: 0x1001, Type: TypeVisualFrame, Seq: 4, TimestampNanos: 1_030_000_000, Visual: VisualMotion{Velocity: 1.25, AngularVelocity: -0.5, Confidence: 0.75}},
		{Addr: 0xABCDEF01, Type: TypeBeaconFrame, Seq: 5, TimestampNanos: 1_040_000_000, Beacons: []BeaconReading{{ID: 0xC0FFEE, RSSI: -71}, {ID: 0x1A, RSSI: -90}}},
		{Addr: 7, Type: TypeWifiFrame, Seq: 6, TimestampNanos: -5, APs: []APReading{{BSSID: mac("aa:bb:cc:dd:ee:01"), RSSI: -52}}},
		{Addr: 7, Type: TypeBeaconFrame, Seq: 7, TimestampNanos: 1},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, f := range sampleFrames() {
		t.Run(f.Type.String(), func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)
			got, n, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, len(data), n)
			if diff := cmp.Diff(f, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	data, err := Encode(Frame{Addr: 0x04030201, Type: TypeVisualFrame, Flags: 0x3})
	require.NoError(t, err)
	body := bodyPrefixLen + 12
	require.Len(t, data, WrapLen+body)

	assert.Equal(t, []byte{0x57, 0x78}, data[0:2])
	assert.Equal(t, []byte{1, 2, 3, 4}, data[2:6])
	// 0x98 = 0b00100_11000: low five type bits 11000, high bits 00100.
	assert.Equal(t, byte(0x3|0x18<<3), data[6])
	assert.Equal(t, byte(0x04|(body&7)<<5), data[7])
	assert.Equal(t, byte(body>>3), data[8])
}

func TestDecode_Errors(t *testing.T) {
	good, err := Encode(sampleFrames()[0])
	require.NoError(t, err)

	t.Run("short", func(t *testing.T) {
		_, _, err := Decode(good[:5])
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("body cut", func(t *testing.T) {
		_, _, err := Decode(good[:len(good)-3])
		assert.ErrorIs(t, err, ErrTruncated)
	})
	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[0] = 0
		_, _, err := Decode(bad)
		assert.ErrorIs(t, err, ErrBadMagic)
	})
	t.Run("crc", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[HdrLen+3] ^= 0xFF
		_, _, err := Decode(bad)
		assert.ErrorIs(t, err, ErrCRC)
	})
	t.Run("unknown type", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[6] = 0x1F << 3
		bad[7] &^= 0x1F
		end := len(bad) - 2
		c := crc16(bad[:end])
		bad[end], bad[end+1] = byte(c), byte(c>>8)
		_, _, err := Decode(bad)
		assert.ErrorIs(t, err, ErrUnknownType)
	})
	t.Run("short beacon list", func(t *testing.T) {
		f := sampleFrames()[4]
		data, err := Encode(f)
		require.NoError(t, err)
		// Claim three readings while carrying two.
		data[HdrLen+1] = 3
		end := len(data) - 2
		c := crc16(data[:end])
		data[end], data[end+1] = byte(c), byte(c>>8)
		_, _, err = Decode(data)
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestEncode_Errors(t *testing.T) {
	cases := map[string]Frame{
		"unknown type":   {Type: 0x3FF},
		"wide beacon id": {Type: TypeBeaconFrame, Beacons: []BeaconReading{{ID: 0x1000000, RSSI: -60}}},
		"short bssid":    {Type: TypeWifiFrame, APs: []APReading{{BSSID: net.HardwareAddr{1, 2}, RSSI: -60}}},
		"too many aps":   {Type: TypeWifiFrame, APs: make([]APReading, 256)},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(f)
			assert.Error(t, err)
		})
	}
}

func TestEncode_ClampsRSSI(t *testing.T) {
	data, err := Encode(Frame{Type: TypeBeaconFrame, Beacons: []BeaconReading{{ID: 1, RSSI: -300}, {ID: 2, RSSI: 300}}})
	require.NoError(t, err)
	got, _, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, -128, got.Beacons[0].RSSI)
	assert.Equal(t, 127, got.Beacons[1].RSSI)
}

func TestDecodeAll(t *testing.T) {
	frames := sampleFrames()
	a, err := Encode(frames[0])
	require.NoError(t, err)
	b, err := Encode(frames[4])
	require.NoError(t, err)

	corrupt := append([]byte(nil), b...)
	corrupt[len(corrupt)-1] ^= 0xFF

	var dgram []byte
	dgram = append(dgram, 0xDE, 0xAD, 0xBE)
	dgram = append(dgram, a...)
	dgram = append(dgram, corrupt...)
	dgram = append(dgram, b...)
	dgram = append(dgram, 0x57)

	got, err := DecodeAll(dgram)
	require.Len(t, got, 2)
	assert.Error(t, err, "first error is reported")
	assert.Equal(t, TypeAccelFrame, got[0].Type)
	assert.Equal(t, TypeBeaconFrame, got[1].Type)

	got, err = DecodeAll(append(a, b...))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
	assert.Equal(t, uint16(0), crc16(nil))
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "beacons", TypeBeaconFrame.String())
	assert.Equal(t, "type(0x3ff)", FrameType(0x3FF).String())
}
