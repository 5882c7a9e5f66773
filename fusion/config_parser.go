package fusion

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"fusion-engine-go/fusion/ble"
	"fusion-engine-go/fusion/wifi"
)

// Reference data lives in project.xml. Positions are stored in
// centimeters as "x,y,z" and converted to meters here.
//
//	<beaconlist>
//	  <deviceItem id="C0FFEE" pos="120,340,0" txpower="-59"/>
//	</beaconlist>
//	<fingerprintlist>
//	  <fingerprint id="lobby" pos="1200,-300,0">
//	    <ap bssid="aa:bb:cc:dd:ee:ff" rssi="-52"/>
//	  </fingerprint>
//	</fingerprintlist>
//	<txlist>
//	  <transferItem addr="10.0.0.5" port="9000" type="udp"/>
//	</txlist>

type RbcSenderConfig struct {
	Addr string
	Port int
	Type string
	Mask uint32
}

func readXML(path string) (*xml.Decoder, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return xml.NewDecoder(f), f, nil
}

func attrValue(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func parseFloatAttr(start xml.StartElement, name string) (float64, bool) {
	if v, ok := attrValue(start, name); ok {
		val, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return val, true
		}
	}
	return 0, false
}

// parsePos parses a "x,y[,z]" centimeter position into meters.
func parsePos(s string) (x, y float64, ok bool) {
	coords := strings.Split(s, ",")
	if len(coords) < 2 {
		return 0, 0, false
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x / 100.0, y / 100.0, true
}

// ParseRbcSenders parses downstream forwarders from project.xml.
func ParseRbcSenders(path string) ([]RbcSenderConfig, error) {
	configs := []RbcSenderConfig{}
	dec, f, err := readXML(path)
	if err != nil {
		return configs, err
	}
	defer f.Close()
	inTxList := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return configs, fmt.Errorf("parse %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "txlist" {
				inTxList = true
				continue
			}
			if t.Name.Local == "transferItem" && inTxList {
				addr, _ := attrValue(t, "addr")
				portStr, _ := attrValue(t, "port")
				typ, _ := attrValue(t, "type")
				maskStr, _ := attrValue(t, "data")

				port, err := strconv.Atoi(portStr)
				if err != nil || addr == "" {
					continue
				}
				mask, _ := strconv.ParseUint(maskStr, 10, 32)
				configs = append(configs, RbcSenderConfig{
					Addr: addr,
					Port: port,
					Type: typ,
					Mask: uint32(mask),
				})
			}
		case xml.EndElement:
			if t.Name.Local == "txlist" {
				inTxList = false
			}
		}
	}
	return configs, nil
}

// ParseProjectBeacons loads the beaconlist from project.xml. Items with a
// malformed id or position are skipped.
func ParseProjectBeacons(path string) ([]ble.Beacon, error) {
	beacons := []ble.Beacon{}
	dec, f, err := readXML(path)
	if err != nil {
		return beacons, err
	}
	defer f.Close()
	inBeaconList := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return beacons, fmt.Errorf("parse %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "beaconlist" {
				inBeaconList = true
				continue
			}
			if t.Name.Local != "deviceItem" || !inBeaconList {
				continue
			}
			idStr, ok := attrValue(t, "id")
			if !ok {
				continue
			}
			bid, err := strconv.ParseUint(strings.TrimSpace(idStr), 16, 32)
			if err != nil {
				continue
			}
			posStr, ok := attrValue(t, "pos")
			if !ok {
				continue
			}
			x, y, ok := parsePos(posStr)
			if !ok {
				continue
			}
			tx, _ := parseFloatAttr(t, "txpower")
			beacons = append(beacons, ble.Beacon{ID: ble.FormatID(uint32(bid)), X: x, Y: y, TxPower: tx})
		case xml.EndElement:
			if t.Name.Local == "beaconlist" {
				inBeaconList = false
			}
		}
	}
	return beacons, nil
}

// ParseProjectFingerprints loads the fingerprintlist from project.xml.
// Fingerprints without a position or access points are skipped.
func ParseProjectFingerprints(path string) ([]wifi.Fingerprint, error) {
	fps := []wifi.Fingerprint{}
	dec, f, err := readXML(path)
	if err != nil {
		return fps, err
	}
	defer f.Close()

	var cur *wifi.Fingerprint
	inList := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fps, fmt.Errorf("parse %s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "fingerprintlist":
				inList = true
			case t.Name.Local == "fingerprint" && inList:
				id, _ := attrValue(t, "id")
				posStr, _ := attrValue(t, "pos")
				x, y, ok := parsePos(posStr)
				if id == "" || !ok {
					cur = nil
					continue
				}
				cur = &wifi.Fingerprint{LocationID: id, X: x, Y: y, AccessPoints: map[string]float64{}}
			case t.Name.Local == "ap" && cur != nil:
				bssid, ok := attrValue(t, "bssid")
				rssi, okR := parseFloatAttr(t, "rssi")
				if ok && okR && bssid != "" {
					cur.AccessPoints[strings.ToLower(bssid)] = rssi
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "fingerprint":
				if cur != nil && len(cur.AccessPoints) > 0 {
					fps = append(fps, *cur)
				}
				cur = nil
			case "fingerprintlist":
				inList = false
			}
		}
	}
	return fps, nil
}
