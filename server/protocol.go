package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
)

// Wire layout, little endian:
//
//	magic(2) addr(4) type/flags/len(3) body(len) crc16(2)
//
// Byte 6 holds flags in the low 3 bits and the low 5 type bits above
// them, byte 7 the high 5 type bits and the low 3 length bits, byte 8 the
// remaining length bits. Every body starts with seq(1) count(1) ts(8).
const (
	Magic      = 0x7857 // 'W' 'x'
	HdrLen     = 9
	WrapLen    = 11
	MaxBodyLen = 0x7FF

	bodyPrefixLen = 10
	beaconLen     = 4
	apLen         = 7
	maxBeaconID   = 0xFFFFFF
)

// FrameType identifies the payload of a frame.
type FrameType uint16

const (
	TypeBeaconFrame  FrameType = 0x60
	TypeWifiFrame    FrameType = 0x68
	TypeAccelFrame   FrameType = 0x90
	TypeGyroFrame    FrameType = 0x91
	TypeHeadingFrame FrameType = 0x92
	TypeVisualFrame  FrameType = 0x98
)

func (t FrameType) String() string {
	switch t {
	case TypeBeaconFrame:
		return "beacons"
	case TypeWifiFrame:
		return "wifi"
	case TypeAccelFrame:
		return "accel"
	case TypeGyroFrame:
		return "gyro"
	case TypeHeadingFrame:
		return "heading"
	case TypeVisualFrame:
		return "visual"
	}
	return fmt.Sprintf("type(0x%x)", uint16(t))
}

var (
	ErrBadMagic    = errors.New("bad magic")
	ErrTruncated   = errors.New("frame truncated")
	ErrCRC         = errors.New("crc mismatch")
	ErrUnknownType = errors.New("unknown frame type")
)

type BeaconReading struct {
	ID   uint32 // 24-bit beacon address
	RSSI int
}

type APReading struct {
	BSSID net.HardwareAddr
	RSSI  int
}

type VisualMotion struct {
	Velocity        float64
	AngularVelocity float64
	Confidence      float64
}

// Frame is one decoded sensor frame. Only the fields of its Type are set.
type Frame struct {
	Addr           uint32 // agent address
	Type           FrameType
	Flags          uint8
	Seq            uint8
	TimestampNanos int64

	Vector  [3]float64 // accel m/s² or gyro rad/s
	Heading float64    // degrees clockwise from +y
	Visual  VisualMotion
	Beacons []BeaconReading
	APs     []APReading
}

// Encode serializes f including header and CRC trailer.
func Encode(f Frame) ([]byte, error) {
	body, err := encodeBody(f)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("%s frame body %d bytes exceeds %d", f.Type, len(body), MaxBodyLen)
	}
	out := make([]byte, HdrLen+len(body)+2)
	binary.LittleEndian.PutUint16(out[0:2], Magic)
	binary.LittleEndian.PutUint32(out[2:6], f.Addr)
	typ := uint16(f.Type)
	out[6] = f.Flags&0x7 | byte(typ&0x1F)<<3
	out[7] = byte((typ>>5)&0x1F) | byte(len(body)&0x7)<<5
	out[8] = byte(len(body) >> 3)
	copy(out[HdrLen:], body)
	binary.LittleEndian.PutUint16(out[HdrLen+len(body):], crc16(out[:HdrLen+len(body)]))
	return out, nil
}

func encodeBody(f Frame) ([]byte, error) {
	var payload []byte
	count := 0
	switch f.Type {
	case TypeAccelFrame, TypeGyroFrame:
		payload = putFloats(f.Vector[0], f.Vector[1], f.Vector[2])
	case TypeHeadingFrame:
		payload = putFloats(f.Heading)
	case TypeVisualFrame:
		payload = putFloats(f.Visual.Velocity, f.Visual.AngularVelocity, f.Visual.Confidence)
	case TypeBeaconFrame:
		if len(f.Beacons) > 0xFF {
			return nil, fmt.Errorf("beacon frame holds %d readings, max 255", len(f.Beacons))
		}
		count = len(f.Beacons)
		payload = make([]byte, 0, count*beaconLen)
		for _, b := range f.Beacons {
			if b.ID > maxBeaconID {
				return nil, fmt.Errorf("beacon id %X exceeds 24 bits", b.ID)
			}
			payload = append(payload, byte(b.ID), byte(b.ID>>8), byte(b.ID>>16), byte(clampRSSI(b.RSSI)))
		}
	case TypeWifiFrame:
		if len(f.APs) > 0xFF {
			return nil, fmt.Errorf("wifi frame holds %d readings, max 255", len(f.APs))
		}
		count = len(f.APs)
		payload = make([]byte, 0, count*apLen)
		for _, ap := range f.APs {
			if len(ap.BSSID) != 6 {
				return nil, fmt.Errorf("bssid %q is not 6 bytes", ap.BSSID.String())
			}
			payload = append(payload, ap.BSSID...)
			payload = append(payload, byte(clampRSSI(ap.RSSI)))
		}
	default:
		return nil, fmt.Errorf("encode %s: %w", f.Type, ErrUnknownType)
	}

	body := make([]byte, bodyPrefixLen, bodyPrefixLen+len(payload))
	body[0] = f.Seq
	body[1] = byte(count)
	binary.LittleEndian.PutUint64(body[2:10], uint64(f.TimestampNanos))
	return append(body, payload...), nil
}

// Decode parses the frame at the start of data and returns it with the
// number of bytes it occupied.
func Decode(data []byte) (Frame, int, error) {
	if len(data) < WrapLen {
		return Frame{}, 0, ErrTruncated
	}
	if binary.LittleEndian.Uint16(data[0:2]) != Magic {
		return Frame{}, 0, ErrBadMagic
	}
	b6, b7 := data[6], data[7]
	typ := uint16(b6>>3) | uint16(b7&0x1F)<<5
	bodyLen := int(b7>>5) | int(data[8])<<3
	end := HdrLen + bodyLen
	if end+2 > len(data) {
		return Frame{}, 0, ErrTruncated
	}
	if crc16(data[:end]) != binary.LittleEndian.Uint16(data[end:end+2]) {
		return Frame{}, 0, ErrCRC
	}
	f := Frame{
		Addr:  binary.LittleEndian.Uint32(data[2:6]),
		Type:  FrameType(typ),
		Flags: b6 & 0x7,
	}
	if err := decodeBody(&f, data[HdrLen:end]); err != nil {
		return Frame{}, 0, err
	}
	return f, end + 2, nil
}

func decodeBody(f *Frame, body []byte) error {
	if len(body) < bodyPrefixLen {
		return fmt.Errorf("%s body: %w", f.Type, ErrTruncated)
	}
	f.Seq = body[0]
	count := int(body[1])
	f.TimestampNanos = int64(binary.LittleEndian.Uint64(body[2:10]))
	p := body[bodyPrefixLen:]

	switch f.Type {
	case TypeAccelFrame, TypeGyroFrame:
		v, err := getFloats(p, 3)
		if err != nil {
			return fmt.Errorf("%s body: %w", f.Type, err)
		}
		copy(f.Vector[:], v)
	case TypeHeadingFrame:
		v, err := getFloats(p, 1)
		if err != nil {
			return fmt.Errorf("%s body: %w", f.Type, err)
		}
		f.Heading = v[0]
	case TypeVisualFrame:
		v, err := getFloats(p, 3)
		if err != nil {
			return fmt.Errorf("%s body: %w", f.Type, err)
		}
		f.Visual = VisualMotion{Velocity: v[0], AngularVelocity: v[1], Confidence: v[2]}
	case TypeBeaconFrame:
		if len(p) < count*beaconLen {
			return fmt.Errorf("beacon readings: %w", ErrTruncated)
		}
		f.Beacons = make([]BeaconReading, count)
		for i := range f.Beacons {
			s := p[i*beaconLen:]
			f.Beacons[i] = BeaconReading{
				ID:   uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16,
				RSSI: int(int8(s[3])),
			}
		}
	case TypeWifiFrame:
		if len(p) < count*apLen {
			return fmt.Errorf("wifi readings: %w", ErrTruncated)
		}
		f.APs = make([]APReading, count)
		for i := range f.APs {
			s := p[i*apLen:]
			mac := make(net.HardwareAddr, 6)
			copy(mac, s[:6])
			f.APs[i] = APReading{BSSID: mac, RSSI: int(int8(s[6]))}
		}
	default:
		return fmt.Errorf("decode %s: %w", f.Type, ErrUnknownType)
	}
	return nil
}

// DecodeAll parses every frame in a datagram. Bytes that do not start a
// valid frame are skipped one at a time; the first error seen is returned
// alongside whatever frames were recovered.
func DecodeAll(data []byte) ([]Frame, error) {
	var (
		frames []Frame
		first  error
	)
	for off := 0; len(data)-off >= WrapLen; {
		f, n, err := Decode(data[off:])
		if err != nil {
			if first == nil {
				first = err
			}
			if errors.Is(err, ErrUnknownType) || errors.Is(err, ErrCRC) {
				// The header was sound, skip the whole frame.
				if n := frameLen(data[off:]); n > 0 {
					off += n
					continue
				}
			}
			off++
			continue
		}
		frames = append(frames, f)
		off += n
	}
	return frames, first
}

// frameLen returns the wrapped length announced by a header, or 0 when it
// runs past data.
func frameLen(data []byte) int {
	if len(data) < HdrLen {
		return 0
	}
	n := HdrLen + (int(data[7]>>5) | int(data[8])<<3) + 2
	if n > len(data) {
		return 0
	}
	return n
}

func putFloats(vs ...float64) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
	}
	return out
}

func getFloats(p []byte, n int) ([]float64, error) {
	if len(p) < 4*n {
		return nil, ErrTruncated
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:])))
	}
	return out, nil
}

func clampRSSI(v int) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0) over header and body.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
