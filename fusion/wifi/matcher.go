package wifi

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"fusion-engine-go/config"
)

// MatchMode selects the matching strategy.
type MatchMode int

const (
	ModeKNN MatchMode = iota
	ModeNearest
)

func (m MatchMode) String() string {
	if m == ModeNearest {
		return "nearest"
	}
	return "knn"
}

// ParseMatchMode maps a config string onto a MatchMode. Unknown strings
// select KNN.
func ParseMatchMode(s string) MatchMode {
	if s == "nearest" {
		return ModeNearest
	}
	return ModeKNN
}

// MatcherConfig holds fingerprint matcher tuning.
type MatcherConfig struct {
	Mode           MatchMode
	K              int
	MinMatchingAPs int
	MaxDistance    float64 // RSSI-space Euclidean distance, dB
	// BSSIDs restricts comparison to these access points when non-empty.
	BSSIDs []string
}

// DefaultMatcherConfig returns the built-in matcher tuning.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfigFromTuning(config.EmptyTuningConfig())
}

// MatcherConfigFromTuning builds a MatcherConfig from a tuning file.
func MatcherConfigFromTuning(cfg *config.TuningConfig) MatcherConfig {
	return MatcherConfig{
		Mode:           ParseMatchMode(cfg.GetMatchMode()),
		K:              cfg.GetKNNK(),
		MinMatchingAPs: cfg.GetMinMatchingAPs(),
		MaxDistance:    cfg.GetMaxRSSIDistance(),
	}
}

const (
	// closeMatch is the distance below which a neighbour gets nearWeight
	// instead of 1/d.
	closeMatch = 0.1
	nearWeight = 1e6
)

// Result is a fingerprint position estimate.
type Result struct {
	X, Y       float64
	Accuracy   float64 // meters, mean distance of the neighbours to X, Y
	Confidence float64 // [0,1]
	Distance   float64 // RSSI distance of the best neighbour
	Neighbors  []string
	Mode       MatchMode
}

type candidate struct {
	fp   Fingerprint
	dist float64
}

// Matcher estimates positions by comparing live scans with a Database.
// Match calls do not mutate the matcher and may run concurrently.
type Matcher struct {
	cfg    MatcherConfig
	db     *Database
	filter map[string]struct{}
}

// NewMatcher creates a Matcher over db.
func NewMatcher(db *Database, cfg MatcherConfig) *Matcher {
	if cfg.K < 1 {
		cfg.K = 1
	}
	if cfg.MinMatchingAPs < 1 {
		cfg.MinMatchingAPs = 1
	}
	m := &Matcher{cfg: cfg, db: db}
	if len(cfg.BSSIDs) > 0 {
		m.filter = make(map[string]struct{}, len(cfg.BSSIDs))
		for _, b := range cfg.BSSIDs {
			m.filter[b] = struct{}{}
		}
	}
	return m
}

// ValidRSSI reports whether v is a usable reading. Zero, positive and NaN
// values mark a missing or stale reading.
func ValidRSSI(v float64) bool {
	return v < 0 && !math.IsInf(v, -1)
}

// Distance returns the RSSI Euclidean distance over the BSSIDs common to
// both maps, and the number of common BSSIDs. An optional filter further
// restricts the compared set. Invalid readings on either side are ignored.
func Distance(scan Scan, ref map[string]float64, filter map[string]struct{}) (float64, int) {
	sum := 0.0
	n := 0
	for bssid, rssi := range scan {
		if filter != nil {
			if _, ok := filter[bssid]; !ok {
				continue
			}
		}
		r, ok := ref[bssid]
		if !ok || !ValidRSSI(rssi) || !ValidRSSI(r) {
			continue
		}
		d := rssi - r
		sum += d * d
		n++
	}
	return math.Sqrt(sum), n
}

func (m *Matcher) candidates(scan Scan) []candidate {
	var out []candidate
	for _, fp := range m.db.All() {
		d, n := Distance(scan, fp.AccessPoints, m.filter)
		if n < m.cfg.MinMatchingAPs || d > m.cfg.MaxDistance {
			continue
		}
		out = append(out, candidate{fp: fp, dist: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// Match returns a position for scan, or false when no reference
// fingerprint is acceptable.
func (m *Matcher) Match(scan Scan) (Result, bool) {
	cands := m.candidates(scan)
	if len(cands) == 0 {
		return Result{}, false
	}
	if m.cfg.Mode == ModeNearest || len(cands) == 1 {
		return m.nearest(cands[0]), true
	}
	return m.knn(cands), true
}

// MatchNearest returns the single closest acceptable fingerprint.
func (m *Matcher) MatchNearest(scan Scan) (Result, bool) {
	cands := m.candidates(scan)
	if len(cands) == 0 {
		return Result{}, false
	}
	return m.nearest(cands[0]), true
}

func (m *Matcher) nearest(c candidate) Result {
	return Result{
		X:          c.fp.X,
		Y:          c.fp.Y,
		Confidence: m.confidence(c.dist),
		Distance:   c.dist,
		Neighbors:  []string{c.fp.LocationID},
		Mode:       ModeNearest,
	}
}

func (m *Matcher) knn(cands []candidate) Result {
	k := m.cfg.K
	if k > len(cands) {
		k = len(cands)
	}
	chosen := cands[:k]

	w := make([]float64, k)
	xs := make([]float64, k)
	ys := make([]float64, k)
	ids := make([]string, k)
	dsum := 0.0
	for i, c := range chosen {
		if c.dist < closeMatch {
			w[i] = nearWeight
		} else {
			w[i] = 1 / c.dist
		}
		xs[i], ys[i] = c.fp.X, c.fp.Y
		ids[i] = c.fp.LocationID
		dsum += c.dist
	}
	floats.Scale(1/floats.Sum(w), w)
	x := floats.Dot(w, xs)
	y := floats.Dot(w, ys)

	spread := 0.0
	for i := range chosen {
		spread += math.Hypot(xs[i]-x, ys[i]-y)
	}
	spread /= float64(k)

	return Result{
		X:          x,
		Y:          y,
		Accuracy:   spread,
		Confidence: m.confidence(dsum / float64(k)),
		Distance:   chosen[0].dist,
		Neighbors:  ids,
		Mode:       ModeKNN,
	}
}

// confidence falls linearly from 1 at distance 0 to 0 at MaxDistance.
func (m *Matcher) confidence(d float64) float64 {
	if m.cfg.MaxDistance <= 0 {
		return 0
	}
	return math.Min(1, math.Max(0, 1-d/m.cfg.MaxDistance))
}
