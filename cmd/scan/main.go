package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"fusion-engine-go/binlog"
	"fusion-engine-go/server"
)

type agentSummary struct {
	addr         uint32
	counts       map[server.FrameType]int
	first, last  int64 // frame time, ns
	beaconIDs    map[uint32]bool
	accessPoints map[string]bool
}

func main() {
	pcapPath := flag.String("pcap", "", "Input capture file")
	flag.Parse()

	if *pcapPath == "" {
		fmt.Println("--pcap required")
		os.Exit(1)
	}

	r, err := binlog.Open(*pcapPath)
	if err != nil {
		log.Fatalf("open capture: %v", err)
	}
	defer r.Close()

	agents := map[uint32]*agentSummary{}
	var (
		records, packets, decodeErrs int
		beacons                      int
		first, last                  time.Time
	)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("read capture: %v", err)
		}
		records++
		if first.IsZero() {
			first = rec.Timestamp
		}
		last = rec.Timestamp

		switch rec.Flag {
		case binlog.FlagBeacons:
			bs, err := rec.Beacons()
			if err != nil {
				log.Printf("beacon block: %v", err)
			}
			beacons = len(bs)
			continue
		case binlog.FlagIngest:
		default:
			continue
		}

		packets++
		frames, err := server.DecodeAll(rec.Payload)
		if err != nil {
			decodeErrs++
		}
		for _, f := range frames {
			a, ok := agents[f.Addr]
			if !ok {
				a = &agentSummary{
					addr:         f.Addr,
					counts:       map[server.FrameType]int{},
					first:        f.TimestampNanos,
					last:         f.TimestampNanos,
					beaconIDs:    map[uint32]bool{},
					accessPoints: map[string]bool{},
				}
				agents[f.Addr] = a
			}
			a.counts[f.Type]++
			a.first = min(a.first, f.TimestampNanos)
			a.last = max(a.last, f.TimestampNanos)
			for _, b := range f.Beacons {
				a.beaconIDs[b.ID] = true
			}
			for _, ap := range f.APs {
				a.accessPoints[ap.BSSID.String()] = true
			}
		}
	}

	fmt.Printf("%s: %d records over %s\n", *pcapPath, records, last.Sub(first).Round(time.Millisecond))
	fmt.Printf("  %d ingest packets, %d with decode errors, %d recorded beacons, %d skipped records\n",
		packets, decodeErrs, beacons, r.Skipped)

	addrs := make([]uint32, 0, len(agents))
	for addr := range agents {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	types := []server.FrameType{server.TypeAccelFrame, server.TypeGyroFrame, server.TypeHeadingFrame, server.TypeVisualFrame, server.TypeBeaconFrame, server.TypeWifiFrame}
	for _, addr := range addrs {
		a := agents[addr]
		fmt.Printf("Agent %X: %s", addr, time.Duration(a.last-a.first).Round(time.Millisecond))
		for _, t := range types {
			if n := a.counts[t]; n > 0 {
				fmt.Printf(" %s=%d", t, n)
			}
		}
		fmt.Printf(" beacons=%d aps=%d\n", len(a.beaconIDs), len(a.accessPoints))
	}
}
