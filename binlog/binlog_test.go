package binlog

import (
	"bytes"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-engine-go/fusion/ble"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.pcap")
	w, err := Create(path)
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 250000000)
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 44333}
	require.NoError(t, w.WritePacketAt(t0, FlagIngest, from, []byte{1, 2, 3}))
	require.NoError(t, w.WriteBeacons([]ble.Beacon{{ID: "C0FFEE", X: 1.25, Y: -3.5, TxPower: -61}}))
	require.NoError(t, w.WritePacketAt(t0.Add(time.Second), FlagIngest, nil, []byte{4}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(FlagIngest), rec.Flag)
	assert.True(t, rec.Timestamp.Equal(t0), "timestamp %v", rec.Timestamp)
	assert.Equal(t, []byte{1, 2, 3}, rec.Payload)
	assert.Equal(t, "192.168.1.20:44333", rec.Addr.String())

	rec, err = r.Next()
	require.NoError(t, err)
	bs, err := rec.Beacons()
	require.NoError(t, err)
	if diff := cmp.Diff([]ble.Beacon{{ID: "C0FFEE", X: 1.25, Y: -3.5, TxPower: -61}}, bs); diff != "" {
		t.Errorf("beacons mismatch (-want +got):\n%s", diff)
	}

	rec, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, rec.Payload)
	assert.Equal(t, 0, rec.Addr.Port)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReadBeacons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.pcap")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteBeacons([]ble.Beacon{{ID: "1", X: 1}}))
	require.NoError(t, w.WriteBeacons([]ble.Beacon{{ID: "2", X: 2}, {ID: "3", Y: 3}}))
	require.NoError(t, w.Close())

	got, err := ReadBeacons(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, 3.0, got[1].Y)
}

func TestWriteBeacons_RejectsBadID(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	assert.Error(t, w.WriteBeacons([]ble.Beacon{{ID: "not-hex"}}))
}

func TestReader_TruncatedCapture(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.WritePacket(FlagIngest, nil, []byte("complete")))
	require.NoError(t, w.WritePacket(FlagIngest, nil, []byte("cut short")))
	data := buf.Bytes()[:buf.Len()-4]

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "complete", string(rec.Payload))
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestNewReader_RejectsForeignLinkType(t *testing.T) {
	var buf bytes.Buffer
	// A minimal ethernet pcap header.
	buf.Write([]byte{0xd4, 0xc3, 0xb2, 0xa1, 2, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0, 0, 1, 0, 0, 0})
	_, err := NewReader(&buf)
	assert.Error(t, err)
}
