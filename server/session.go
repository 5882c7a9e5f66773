package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fusion-engine-go/fusion"
	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/pdr"
	"fusion-engine-go/fusion/wifi"
	"fusion-engine-go/monitoring"
)

const sessionQueueLen = 256

// Update is one fused position for one agent.
type Update struct {
	SessionID string               `json:"session"`
	Addr      uint32               `json:"addr"`
	Position  fusion.FusedPosition `json:"position"`
}

// Publisher receives every Update. Publish is called from session
// goroutines and must not block for long.
type Publisher interface {
	Publish(Update)
}

type PublisherFunc func(Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

type multiPublisher []Publisher

func (m multiPublisher) Publish(u Update) {
	for _, p := range m {
		p.Publish(u)
	}
}

// Publishers fans an Update out to every non-nil publisher.
func Publishers(ps ...Publisher) Publisher {
	var out multiPublisher
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// session owns the Engine of one agent. Only its goroutine touches the
// engine, so frames of one agent are fused strictly in arrival order.
type session struct {
	id     uuid.UUID
	addr   uint32
	engine *fusion.Engine
	frames chan Frame
	cycle  int64 // ms
	next   int64 // ms of the next cycle
	primed bool
	emit   func(Update)
}

func (s *session) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for f := range s.frames {
		s.handle(f)
	}
	s.flush()
}

// handle runs every cycle that is due before f, then applies f. Idle
// stretches collapse into one cycle at the last boundary.
func (s *session) handle(f Frame) {
	tsMs := f.TimestampNanos / int64(time.Millisecond)
	if !s.primed {
		s.primed = true
		s.next = tsMs + s.cycle
	}
	if tsMs >= s.next {
		at := s.next + (tsMs-s.next)/s.cycle*s.cycle
		s.step(at)
		s.next = at + s.cycle
	}
	s.apply(f, tsMs)
}

func (s *session) flush() {
	if s.primed {
		s.step(s.next)
	}
}

func (s *session) step(tsMs int64) {
	pos := s.engine.Step(tsMs)
	s.emit(Update{SessionID: s.id.String(), Addr: s.addr, Position: pos})
}

func (s *session) apply(f Frame, tsMs int64) {
	e := s.engine
	switch f.Type {
	case TypeAccelFrame:
		e.ProcessAccel(pdr.AccelSample{X: f.Vector[0], Y: f.Vector[1], Z: f.Vector[2], TimestampNanos: f.TimestampNanos})
	case TypeGyroFrame:
		e.ProcessGyro(pdr.GyroSample{X: f.Vector[0], Y: f.Vector[1], Z: f.Vector[2], TimestampNanos: f.TimestampNanos})
	case TypeHeadingFrame:
		e.SetHeading(f.Heading)
	case TypeVisualFrame:
		e.SetVisualMotion(fusion.MotionEstimate{
			Velocity:        f.Visual.Velocity,
			AngularVelocity: f.Visual.AngularVelocity,
		}, f.Visual.Confidence)
	case TypeBeaconFrame:
		for _, b := range f.Beacons {
			e.ObserveBeacon(ble.FormatID(b.ID), float64(b.RSSI), tsMs)
		}
	case TypeWifiFrame:
		scan := make(wifi.Scan, len(f.APs))
		for _, ap := range f.APs {
			if ap.RSSI >= 0 {
				continue
			}
			scan[strings.ToLower(ap.BSSID.String())] = float64(ap.RSSI)
		}
		if len(scan) > 0 {
			e.ObserveWifiScan(scan)
		}
	}
}

// Manager routes frames to per-agent sessions, creating them on first
// sight.
type Manager struct {
	cfg     fusion.Config
	beacons []ble.Beacon
	db      *wifi.Database
	pub     Publisher

	mu       sync.Mutex
	sessions map[uint32]*session
	closed   bool
	wg       sync.WaitGroup

	// latestMu is separate from mu: sessions record updates while
	// Dispatch may hold mu waiting on a full queue.
	latestMu sync.Mutex
	latest   map[uint32]Update
}

// NewManager creates a Manager. db may be nil and pub may be nil.
func NewManager(cfg fusion.Config, beacons []ble.Beacon, db *wifi.Database, pub Publisher) *Manager {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = fusion.DefaultConfig().CycleInterval
	}
	return &Manager{
		cfg:      cfg,
		beacons:  beacons,
		db:       db,
		pub:      pub,
		sessions: make(map[uint32]*session),
		latest:   make(map[uint32]Update),
	}
}

// Dispatch queues f on its agent's session. It blocks while the session
// queue is full and drops frames after Close.
func (m *Manager) Dispatch(f Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	s, ok := m.sessions[f.Addr]
	if !ok {
		s = &session{
			id:     uuid.New(),
			addr:   f.Addr,
			engine: fusion.NewEngine(m.cfg, m.beacons, m.db),
			frames: make(chan Frame, sessionQueueLen),
			cycle:  m.cfg.CycleInterval.Milliseconds(),
			emit:   m.record,
		}
		m.sessions[f.Addr] = s
		m.wg.Add(1)
		go s.run(&m.wg)
		monitoring.Logf("server: new session %s for agent %X", s.id, f.Addr)
	}
	// Sending under the lock keeps Close from closing the channel mid-send.
	s.frames <- f
	m.mu.Unlock()
}

func (m *Manager) record(u Update) {
	m.latestMu.Lock()
	m.latest[u.Addr] = u
	m.latestMu.Unlock()
	if m.pub != nil {
		m.pub.Publish(u)
	}
}

// Latest returns the most recent update of every agent ordered by address.
func (m *Manager) Latest() []Update {
	m.latestMu.Lock()
	defer m.latestMu.Unlock()
	out := make([]Update, 0, len(m.latest))
	for _, u := range m.latest {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Sessions returns the number of live sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops accepting frames, lets every session drain its queue and
// run a final cycle, and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, s := range m.sessions {
		close(s.frames)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
