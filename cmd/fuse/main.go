package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"fusion-engine-go/binlog"
	"fusion-engine-go/config"
	"fusion-engine-go/fingerprintdb"
	"fusion-engine-go/fusion"
	"fusion-engine-go/server"
)

func main() {
	pcapPath := flag.String("pcap", "", "Input capture file")
	agentHex := flag.String("agent", "", "Agent address in hex (empty for all agents)")
	outPath := flag.String("out", "fused.csv", "Output CSV path")
	projectXML := flag.String("project", "", "project.xml with reference data (default: beacons recorded in the capture)")
	dbPath := flag.String("db", "", "sqlite reference store (optional)")
	tuningPath := flag.String("config", "", "Tuning JSON file (optional)")
	all := flag.Bool("invalid", false, "Also write cycles without a valid position")
	refPath := flag.String("ref", "", "Optional reference CSV for RMSE (single agent)")
	maxShift := flag.Int("max-shift", 400, "Max row shift for RMSE")
	flag.Parse()

	if *pcapPath == "" {
		fmt.Println("--pcap required")
		os.Exit(1)
	}

	var agent uint32
	filter := *agentHex != ""
	if filter {
		v, err := parseAgentHex(*agentHex)
		if err != nil {
			log.Fatalf("invalid agent: %v", err)
		}
		agent = v
	}

	cfg := fusion.DefaultConfig()
	if *tuningPath != "" {
		t, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
		cfg = fusion.ConfigFromTuning(t)
	}

	ref, err := fingerprintdb.LoadReference(*projectXML, *dbPath)
	if err != nil {
		log.Fatalf("load reference data: %v", err)
	}
	if len(ref.Beacons) == 0 {
		if ref.Beacons, err = binlog.ReadBeacons(*pcapPath); err != nil {
			log.Fatalf("read capture beacons: %v", err)
		}
	}
	log.Printf("Using %d beacons, %d fingerprints", len(ref.Beacons), ref.Fingerprints.Len())

	var (
		mu      sync.Mutex
		updates []server.Update
	)
	collect := server.PublisherFunc(func(u server.Update) {
		if !*all && !u.Position.Valid {
			return
		}
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	manager := server.NewManager(cfg, ref.Beacons, ref.Fingerprints, collect)

	frames, err := feed(*pcapPath, manager, filter, agent)
	manager.Close()
	if err != nil {
		log.Fatalf("read capture: %v", err)
	}

	// Sessions run concurrently; each agent's updates arrive in order.
	sort.SliceStable(updates, func(i, j int) bool { return updates[i].Addr < updates[j].Addr })
	if err := writeCSV(*outPath, updates); err != nil {
		log.Fatalf("write csv: %v", err)
	}
	fmt.Printf("%d frames, %d agents, %d rows written to %s\n", frames, manager.Sessions(), len(updates), *outPath)

	if *refPath != "" {
		pred := make([][2]float64, 0, len(updates))
		for _, u := range updates {
			if u.Position.Valid {
				pred = append(pred, [2]float64{u.Position.X, u.Position.Y})
			}
		}
		truth, err := readXY(*refPath)
		if err != nil {
			log.Fatalf("read reference: %v", err)
		}
		rmse, shift := bestRMSE(pred, truth, *maxShift)
		fmt.Printf("ref shift %d rows, RMSE %.3f m\n", shift, rmse)
	}
}

func parseAgentHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

// feed decodes every ingest record of the capture and dispatches its
// frames in capture order.
func feed(path string, m *server.Manager, filter bool, agent uint32) (int, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if rec.Flag != binlog.FlagIngest {
			continue
		}
		frames, err := server.DecodeAll(rec.Payload)
		if err != nil {
			log.Printf("record at %s: %v", rec.Timestamp.Format("15:04:05.000"), err)
		}
		for _, f := range frames {
			if filter && f.Addr != agent {
				continue
			}
			m.Dispatch(f)
			n++
		}
	}
}

func writeCSV(path string, updates []server.Update) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"session", "agent", "ts_ms", "source", "x_m", "y_m", "accuracy_m", "confidence", "valid"})
	for _, u := range updates {
		p := u.Position
		w.Write([]string{
			u.SessionID,
			fmt.Sprintf("%X", u.Addr),
			strconv.FormatInt(p.TimestampMs, 10),
			p.Source.String(),
			fmt.Sprintf("%.4f", p.X),
			fmt.Sprintf("%.4f", p.Y),
			fmt.Sprintf("%.3f", p.Accuracy),
			fmt.Sprintf("%.3f", p.Confidence),
			strconv.FormatBool(p.Valid),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
