package rbc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fusion-engine-go/fusion"
	"fusion-engine-go/monitoring"
	"fusion-engine-go/server"
)

type Message struct {
	Data []byte
	Flag uint32
}

type UdpTarget struct {
	addr *net.UDPAddr
	flag uint32
}

type TcpClient struct {
	addr  string
	flag  uint32
	queue chan *Message
	wg    sync.WaitGroup
}

// Sender forwards fused positions to downstream consumers over UDP and
// TCP.
type Sender struct {
	udpTargets []*UdpTarget
	tcpClients []*TcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    atomic.Bool

	mu    sync.Mutex
	seq   map[uint32]uint16
	valid map[uint32]bool
}

func NewSender() *Sender {
	return &Sender{
		seq:   make(map[uint32]uint16),
		valid: make(map[uint32]bool),
	}
}

// SetHeader prefixes every message with hdr and a colon.
func (s *Sender) SetHeader(hdr string) {
	if hdr == "" {
		s.header = nil
	} else {
		s.header = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPSender(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.udpTargets = append(s.udpTargets, &UdpTarget{addr: uaddr, flag: flag})
	return nil
}

func (s *Sender) AddTCPSender(addr string, flag uint32) {
	s.tcpClients = append(s.tcpClients, &TcpClient{
		addr:  addr,
		flag:  flag,
		queue: make(chan *Message, 1000),
	})
}

// AddTargets registers the forwarding targets of a project file. Types
// other than "udp" and "tcp" are rejected.
func (s *Sender) AddTargets(cfgs []fusion.RbcSenderConfig) error {
	for _, c := range cfgs {
		addr := net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
		switch strings.ToLower(c.Type) {
		case "udp":
			if err := s.AddUDPSender(addr, c.Mask); err != nil {
				return fmt.Errorf("rbc target %s: %w", addr, err)
			}
		case "tcp":
			s.AddTCPSender(addr, c.Mask)
		default:
			return fmt.Errorf("rbc target %s: unknown type %q", addr, c.Type)
		}
	}
	return nil
}

// Targets returns the number of configured UDP and TCP targets.
func (s *Sender) Targets() int { return len(s.udpTargets) + len(s.tcpClients) }

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running.Store(true)
	for _, c := range s.tcpClients {
		c.Start()
	}
	return nil
}

func (s *Sender) Stop() {
	if !s.running.Swap(false) {
		return
	}
	if s.connUDP != nil {
		s.connUDP.Close()
	}
	for _, c := range s.tcpClients {
		c.Stop()
	}
}

// Send delivers data to every target whose mask covers flag. TCP queues
// drop messages when full.
func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running.Load() {
		return
	}
	msgData := data
	if len(s.header) > 0 {
		msgData = make([]byte, len(s.header)+len(data))
		copy(msgData, s.header)
		copy(msgData[len(s.header):], data)
	}
	msg := &Message{Data: msgData, Flag: flag}

	for _, t := range s.udpTargets {
		if t.flag&flag == flag {
			if _, err := s.connUDP.WriteToUDP(msgData, t.addr); err != nil {
				monitoring.Logf("rbc: udp send to %s: %v", t.addr, err)
			}
		}
	}
	for _, c := range s.tcpClients {
		if c.flag&flag == flag {
			select {
			case c.queue <- msg:
			default:
			}
		}
	}
}

// Publish forwards valid positions and a single warning when an agent
// loses its fix.
func (s *Sender) Publish(u server.Update) {
	s.mu.Lock()
	seq := s.seq[u.Addr]
	s.seq[u.Addr] = seq + 1
	wasValid := s.valid[u.Addr]
	s.valid[u.Addr] = u.Position.Valid
	s.mu.Unlock()

	p := u.Position
	switch {
	case p.Valid:
		s.Send(FormatTagPos(u.Addr, p.TimestampMs, seq, p.Source.String(), p.X, p.Y, p.Accuracy), FlagPosition)
	case wasValid:
		s.Send(FormatLost(u.Addr, p.TimestampMs, seq), FlagWarning)
	}
}

func (c *TcpClient) Start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *TcpClient) Stop() {
	close(c.queue)
	c.wg.Wait()
}

func (c *TcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn

	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, 2*time.Second)
		return err == nil
	}

	for msg := range c.queue {
		if !connect() {
			time.Sleep(500 * time.Millisecond)
			if !connect() {
				continue
			}
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(msg.Data); err != nil {
			monitoring.Logf("rbc: tcp write to %s: %v", c.addr, err)
			conn.Close()
			conn = nil
			time.Sleep(100 * time.Millisecond)
		}
	}
	if conn != nil {
		conn.Close()
	}
}
