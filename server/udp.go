package server

import (
	"errors"
	"net"
	"sync/atomic"

	"fusion-engine-go/binlog"
	"fusion-engine-go/monitoring"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
)

// Stats counts ingest traffic since start.
type Stats struct {
	Packets      uint64
	Frames       uint64
	DecodeErrors uint64
}

type UdpServer struct {
	conn    *net.UDPConn
	manager *Manager
	pcap    *binlog.Writer
	running atomic.Bool

	packets, frames, decodeErrors atomic.Uint64
}

// NewUdpServer listens on port, or DefaultPort when port is 0. Port -1
// picks an ephemeral port.
func NewUdpServer(port int, m *Manager) (*UdpServer, error) {
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 {
		port = 0
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(256 * 1024); err != nil {
		monitoring.Logf("udp: set read buffer: %v", err)
	}
	return &UdpServer{conn: conn, manager: m}, nil
}

// SetPcapWriter records every received datagram to pw.
func (s *UdpServer) SetPcapWriter(pw *binlog.Writer) {
	s.pcap = pw
}

func (s *UdpServer) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Start reads datagrams until Stop is called.
func (s *UdpServer) Start() {
	s.running.Store(true)
	buf := make([]byte, MaxPacketSize)
	monitoring.Logf("udp: listening on %s", s.conn.LocalAddr())

	for s.running.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if s.running.Load() {
				monitoring.Logf("udp: read error: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if s.pcap != nil {
			if err := s.pcap.WritePacket(binlog.FlagIngest, addr, data); err != nil {
				monitoring.Logf("udp: capture: %v", err)
			}
		}
		s.HandlePacket(data, addr)
	}
}

func (s *UdpServer) Stop() {
	s.running.Store(false)
	s.conn.Close()
}

// HandlePacket decodes a datagram and dispatches its frames. It returns
// the number of frames dispatched.
func (s *UdpServer) HandlePacket(data []byte, addr *net.UDPAddr) int {
	s.packets.Add(1)
	frames, err := DecodeAll(data)
	if err != nil {
		s.decodeErrors.Add(1)
		monitoring.Logf("udp: packet from %s: %v (%d frames recovered)", addr, err, len(frames))
	}
	for _, f := range frames {
		s.manager.Dispatch(f)
	}
	s.frames.Add(uint64(len(frames)))
	return len(frames)
}

func (s *UdpServer) Stats() Stats {
	return Stats{
		Packets:      s.packets.Load(),
		Frames:       s.frames.Load(),
		DecodeErrors: s.decodeErrors.Load(),
	}
}
