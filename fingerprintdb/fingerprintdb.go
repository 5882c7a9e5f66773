// Package fingerprintdb stores reference fingerprints and beacon positions
// in sqlite so they survive restarts and can be edited without touching
// project.xml.
package fingerprintdb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/wifi"
	"fusion-engine-go/monitoring"
)

type DB struct {
	*sql.DB
}

// schema.sql creates the fingerprint, access point and beacon tables.
//
//go:embed schema.sql
var schemaSQL string

// Open opens or creates the store at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint db %s: %w", path, err)
	}
	// foreign_keys is per connection and :memory: is per connection too.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init fingerprint db schema: %w", err)
	}
	monitoring.Logf("fingerprintdb: opened %s", path)
	return &DB{db}, nil
}

// PutFingerprint inserts or replaces a fingerprint and its access points.
func (db *DB) PutFingerprint(fp wifi.Fingerprint) error {
	if fp.LocationID == "" {
		return fmt.Errorf("put fingerprint: empty location id")
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("put fingerprint %s: %w", fp.LocationID, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO fingerprints (location_id, x, y) VALUES (?, ?, ?)
		ON CONFLICT(location_id) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			updated_at = UNIXEPOCH('subsec')
	`, fp.LocationID, fp.X, fp.Y)
	if err != nil {
		return fmt.Errorf("put fingerprint %s: %w", fp.LocationID, err)
	}
	if _, err := tx.Exec(`DELETE FROM fingerprint_aps WHERE location_id = ?`, fp.LocationID); err != nil {
		return fmt.Errorf("clear access points of %s: %w", fp.LocationID, err)
	}
	for bssid, rssi := range fp.AccessPoints {
		_, err := tx.Exec(`INSERT INTO fingerprint_aps (location_id, bssid, rssi) VALUES (?, ?, ?)`,
			fp.LocationID, strings.ToLower(bssid), rssi)
		if err != nil {
			return fmt.Errorf("insert access point %s of %s: %w", bssid, fp.LocationID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fingerprint %s: %w", fp.LocationID, err)
	}
	return nil
}

// DeleteFingerprint removes a fingerprint. It reports whether one existed.
func (db *DB) DeleteFingerprint(locationID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM fingerprints WHERE location_id = ?`, locationID)
	if err != nil {
		return false, fmt.Errorf("delete fingerprint %s: %w", locationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fingerprint %s: %w", locationID, err)
	}
	return n > 0, nil
}

// Fingerprints returns every stored fingerprint ordered by location id.
func (db *DB) Fingerprints() ([]wifi.Fingerprint, error) {
	rows, err := db.Query(`
		SELECT f.location_id, f.x, f.y, a.bssid, a.rssi
		FROM fingerprints f
		LEFT JOIN fingerprint_aps a ON a.location_id = f.location_id
		ORDER BY f.location_id, a.bssid
	`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var out []wifi.Fingerprint
	for rows.Next() {
		var (
			id    string
			x, y  float64
			bssid sql.NullString
			rssi  sql.NullFloat64
		)
		if err := rows.Scan(&id, &x, &y, &bssid, &rssi); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].LocationID != id {
			out = append(out, wifi.Fingerprint{LocationID: id, X: x, Y: y, AccessPoints: map[string]float64{}})
		}
		if bssid.Valid && rssi.Valid {
			out[len(out)-1].AccessPoints[bssid.String] = rssi.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

// LoadInto copies every stored fingerprint into a matcher database and
// returns how many were loaded.
func (db *DB) LoadInto(dst *wifi.Database) (int, error) {
	fps, err := db.Fingerprints()
	if err != nil {
		return 0, err
	}
	for _, fp := range fps {
		dst.Put(fp)
	}
	return len(fps), nil
}

// PutBeacon inserts or replaces a reference beacon position.
func (db *DB) PutBeacon(b ble.Beacon) error {
	if b.ID == "" {
		return fmt.Errorf("put beacon: empty id")
	}
	_, err := db.Exec(`
		INSERT INTO beacons (beacon_id, x, y, tx_power) VALUES (?, ?, ?, ?)
		ON CONFLICT(beacon_id) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			tx_power = excluded.tx_power,
			updated_at = UNIXEPOCH('subsec')
	`, b.ID, b.X, b.Y, b.TxPower)
	if err != nil {
		return fmt.Errorf("put beacon %s: %w", b.ID, err)
	}
	return nil
}

// Beacons returns the stored reference beacons ordered by id. Ranging
// fields are zero.
func (db *DB) Beacons() ([]ble.Beacon, error) {
	rows, err := db.Query(`SELECT beacon_id, x, y, tx_power FROM beacons ORDER BY beacon_id`)
	if err != nil {
		return nil, fmt.Errorf("query beacons: %w", err)
	}
	defer rows.Close()

	var out []ble.Beacon
	for rows.Next() {
		var b ble.Beacon
		if err := rows.Scan(&b.ID, &b.X, &b.Y, &b.TxPower); err != nil {
			return nil, fmt.Errorf("scan beacon: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate beacons: %w", err)
	}
	return out, nil
}
