package wifi

import (
	"sort"
	"sync"
)

// Scan is a live radio snapshot keyed by BSSID, values in dBm.
type Scan map[string]float64

// Fingerprint is a reference scan recorded at a known location.
type Fingerprint struct {
	LocationID   string
	AccessPoints map[string]float64
	X, Y         float64
}

// Database holds reference fingerprints keyed by location ID. It is safe
// for concurrent use so one instance can serve every session.
type Database struct {
	mu    sync.RWMutex
	byLoc map[string]Fingerprint
}

// NewDatabase returns an empty Database.
func NewDatabase() *Database {
	return &Database{byLoc: make(map[string]Fingerprint)}
}

// Put inserts or replaces the fingerprint for fp.LocationID. The access
// point map is copied without invalid readings.
func (db *Database) Put(fp Fingerprint) {
	aps := make(map[string]float64, len(fp.AccessPoints))
	for k, v := range fp.AccessPoints {
		if ValidRSSI(v) {
			aps[k] = v
		}
	}
	fp.AccessPoints = aps

	db.mu.Lock()
	db.byLoc[fp.LocationID] = fp
	db.mu.Unlock()
}

// Get returns the fingerprint for a location.
func (db *Database) Get(locationID string) (Fingerprint, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fp, ok := db.byLoc[locationID]
	return fp, ok
}

// Delete removes a location; it reports whether it existed.
func (db *Database) Delete(locationID string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.byLoc[locationID]
	delete(db.byLoc, locationID)
	return ok
}

// Len returns the number of stored fingerprints.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.byLoc)
}

// All returns every fingerprint ordered by location ID.
func (db *Database) All() []Fingerprint {
	db.mu.RLock()
	out := make([]Fingerprint, 0, len(db.byLoc))
	for _, fp := range db.byLoc {
		out = append(out, fp)
	}
	db.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID < out[j].LocationID })
	return out
}
