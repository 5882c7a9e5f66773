// Package binlog records ingest datagrams into pcap files and reads them
// back for replay and offline fusion.
package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"fusion-engine-go/fusion/ble"
)

// Every record starts with an 8-byte header: flag(2) port(2) ipv4(4). For
// metadata blocks port holds the item count and the ip field the item size.
const (
	RecordHdrLen = 8
	SnapLen      = 65535

	// LinkType is DLT_USER0; the payload is not an ethernet frame.
	LinkType = layers.LinkType(147)

	FlagIngest  = 0x109 // rx | rbb | udp
	FlagBeacons = 0x04
	FlagStats   = 0x10

	beaconItemLen = 14
)

type Writer struct {
	mu  sync.Mutex
	w   *pcapgo.Writer
	c   io.Closer
	hdr [RecordHdrLen]byte
}

// Create truncates path and writes a pcap file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture %s: %w", path, err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.c = f
	return w, nil
}

// NewWriter writes a pcap file header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(out)
	if err := pw.WriteFileHeader(SnapLen, LinkType); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// WritePacket records data received from addr now.
func (w *Writer) WritePacket(flag uint16, addr *net.UDPAddr, data []byte) error {
	return w.WritePacketAt(time.Now(), flag, addr, data)
}

// WritePacketAt records data with an explicit capture time.
func (w *Writer) WritePacketAt(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	port := uint16(0)
	var ip4 net.IP
	if addr != nil {
		port = uint16(addr.Port)
		ip4 = addr.IP.To4()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	binary.LittleEndian.PutUint16(w.hdr[0:], flag)
	binary.LittleEndian.PutUint16(w.hdr[2:], port)
	if ip4 != nil {
		// network byte order
		copy(w.hdr[4:8], ip4)
	} else {
		binary.LittleEndian.PutUint32(w.hdr[4:], 0)
	}
	return w.write(ts, w.hdr[:], data)
}

// WriteBeacons records the reference beacon list so a capture can be
// fused without the project file it was recorded with.
func (w *Writer) WriteBeacons(beacons []ble.Beacon) error {
	payload := make([]byte, 0, len(beacons)*beaconItemLen)
	item := make([]byte, beaconItemLen)
	for _, b := range beacons {
		id, err := strconv.ParseUint(b.ID, 16, 32)
		if err != nil {
			return fmt.Errorf("beacon id %q is not a 32-bit hex address: %w", b.ID, err)
		}
		binary.LittleEndian.PutUint32(item[0:], uint32(id))
		binary.LittleEndian.PutUint32(item[4:], uint32(int32(math.Round(b.X*100))))
		binary.LittleEndian.PutUint32(item[8:], uint32(int32(math.Round(b.Y*100))))
		binary.LittleEndian.PutUint16(item[12:], uint16(int16(math.Round(b.TxPower))))
		payload = append(payload, item...)
	}
	var hdr [RecordHdrLen]byte
	binary.LittleEndian.PutUint16(hdr[0:], FlagBeacons)
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(beacons)))
	binary.LittleEndian.PutUint32(hdr[4:], beaconItemLen)

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(time.Now(), hdr[:], payload)
}

func (w *Writer) write(ts time.Time, hdr, data []byte) error {
	n := len(hdr) + len(data)
	if n > SnapLen {
		return fmt.Errorf("record of %d bytes exceeds snap length", n)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: n, Length: n}
	if err := w.w.WritePacket(ci, buf); err != nil {
		return fmt.Errorf("write pcap record: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	if w.c != nil {
		return w.c.Close()
	}
	return nil
}
