package fingerprintdb

import (
	"fmt"

	"fusion-engine-go/fusion"
	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/wifi"
	"fusion-engine-go/monitoring"
)

// Reference is the reference data an engine runs against.
type Reference struct {
	Beacons      []ble.Beacon
	Fingerprints *wifi.Database
	Senders      []fusion.RbcSenderConfig
}

// LoadReference reads beacons, fingerprints and forwarding targets from
// projectPath. With a dbPath the project entries are merged into the store
// first and the reference set is then read back from it, so entries added
// to the store directly are kept. Either path may be empty.
func LoadReference(projectPath, dbPath string) (Reference, error) {
	ref := Reference{Fingerprints: wifi.NewDatabase()}

	var fps []wifi.Fingerprint
	if projectPath != "" {
		var err error
		if ref.Beacons, err = fusion.ParseProjectBeacons(projectPath); err != nil {
			return Reference{}, err
		}
		if fps, err = fusion.ParseProjectFingerprints(projectPath); err != nil {
			return Reference{}, err
		}
		if ref.Senders, err = fusion.ParseRbcSenders(projectPath); err != nil {
			return Reference{}, err
		}
	}

	if dbPath == "" {
		for _, fp := range fps {
			ref.Fingerprints.Put(fp)
		}
		return ref, nil
	}

	db, err := Open(dbPath)
	if err != nil {
		return Reference{}, err
	}
	defer db.Close()
	if err := db.Import(ref.Beacons, fps); err != nil {
		return Reference{}, err
	}
	if ref.Beacons, err = db.Beacons(); err != nil {
		return Reference{}, err
	}
	if _, err := db.LoadInto(ref.Fingerprints); err != nil {
		return Reference{}, err
	}
	monitoring.Logf("fingerprintdb: %d beacons, %d fingerprints", len(ref.Beacons), ref.Fingerprints.Len())
	return ref, nil
}

// Import upserts beacons and fingerprints.
func (db *DB) Import(beacons []ble.Beacon, fps []wifi.Fingerprint) error {
	for _, b := range beacons {
		if err := db.PutBeacon(b); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	for _, fp := range fps {
		if err := db.PutFingerprint(fp); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	return nil
}
