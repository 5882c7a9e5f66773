package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"

	"fusion-engine-go/fusion/ble"
)

// Record is one captured datagram or metadata block.
type Record struct {
	Timestamp time.Time
	Flag      uint16
	Addr      *net.UDPAddr
	Payload   []byte

	items, itemSize int
}

type Reader struct {
	r *pcapgo.Reader
	c io.Closer

	Skipped int // records too short to carry a header
}

// Open opens a capture written by Writer.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	r.c = f
	return r, nil
}

// NewReader reads a pcap stream. Only captures with LinkType are accepted.
func NewReader(in io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if lt := pr.LinkType(); lt != LinkType {
		return nil, fmt.Errorf("unsupported link type %d", lt)
	}
	return &Reader{r: pr}, nil
}

// Next returns the next record, or io.EOF at the end of the capture. A
// capture cut short mid-record also ends with io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		data, ci, err := r.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("pcap record: %w", err)
		}
		if len(data) < RecordHdrLen {
			r.Skipped++
			continue
		}
		flag := binary.LittleEndian.Uint16(data[0:2])
		port := binary.LittleEndian.Uint16(data[2:4])
		rec := Record{
			Timestamp: ci.Timestamp,
			Flag:      flag,
			Payload:   data[RecordHdrLen:],
		}
		if flag == FlagIngest {
			ip := make(net.IP, 4)
			copy(ip, data[4:8])
			rec.Addr = &net.UDPAddr{IP: ip, Port: int(port)}
		} else {
			rec.items = int(port)
			rec.itemSize = int(binary.LittleEndian.Uint32(data[4:8]))
		}
		return rec, nil
	}
}

func (r *Reader) Close() error {
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}

// Beacons decodes a FlagBeacons block. Truncated trailing items are
// dropped.
func (rec Record) Beacons() ([]ble.Beacon, error) {
	if rec.Flag != FlagBeacons {
		return nil, fmt.Errorf("record flag 0x%x is not a beacon block", rec.Flag)
	}
	if rec.itemSize < beaconItemLen {
		return nil, fmt.Errorf("beacon item size %d too small", rec.itemSize)
	}
	out := make([]ble.Beacon, 0, rec.items)
	for i := 0; i < rec.items; i++ {
		start := i * rec.itemSize
		if start+beaconItemLen > len(rec.Payload) {
			break
		}
		chunk := rec.Payload[start:]
		out = append(out, ble.Beacon{
			ID:      ble.FormatID(binary.LittleEndian.Uint32(chunk[0:4])),
			X:       float64(int32(binary.LittleEndian.Uint32(chunk[4:8]))) / 100.0,
			Y:       float64(int32(binary.LittleEndian.Uint32(chunk[8:12]))) / 100.0,
			TxPower: float64(int16(binary.LittleEndian.Uint16(chunk[12:14]))),
		})
	}
	return out, nil
}

// ReadBeacons scans a whole capture and returns the last beacon block in
// it, or nil when there is none.
func ReadBeacons(path string) ([]ble.Beacon, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var last []ble.Beacon
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Flag != FlagBeacons {
			continue
		}
		if last, err = rec.Beacons(); err != nil {
			return nil, err
		}
	}
}
