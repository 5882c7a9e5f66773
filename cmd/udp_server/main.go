package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fusion-engine-go/binlog"
	"fusion-engine-go/config"
	"fusion-engine-go/fingerprintdb"
	"fusion-engine-go/fusion"
	"fusion-engine-go/rbc"
	"fusion-engine-go/server"
	"fusion-engine-go/web"
)

func main() {
	port := flag.Int("port", server.DefaultPort, "UDP port to listen on")
	httpPort := flag.Int("http", 0, "HTTP/WebSocket port (e.g. 8080). 0 to disable.")
	distDir := flag.String("dist", "", "Static frontend directory served over HTTP")
	projectXML := flag.String("project", "project.xml", "Path to project.xml")
	dbPath := flag.String("db", "", "sqlite reference store (optional)")
	tuningPath := flag.String("config", "", "Tuning JSON file (optional)")
	pcapPath := flag.String("pcap", "", "Path to output PCAP file or directory (optional)")
	rbcHeader := flag.String("rbc-hdr", "", "Header prepended to forwarded records")
	flag.Parse()

	cfg := fusion.DefaultConfig()
	if *tuningPath != "" {
		t, err := config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		cfg = fusion.ConfigFromTuning(t)
	}

	if _, err := os.Stat(*projectXML); os.IsNotExist(err) {
		log.Printf("project.xml not found at %s", *projectXML)
		*projectXML = ""
	}
	ref, err := fingerprintdb.LoadReference(*projectXML, *dbPath)
	if err != nil {
		log.Fatalf("Failed to load reference data: %v", err)
	}
	log.Printf("Loaded %d beacons, %d fingerprints", len(ref.Beacons), ref.Fingerprints.Len())

	var pubs []server.Publisher
	var webSvr *web.Server

	if *httpPort > 0 {
		webSvr = web.NewServer(nil)
		pubs = append(pubs, server.PublisherFunc(webSvr.Hub.Publish))
	}

	if len(ref.Senders) > 0 {
		sender := rbc.NewSender()
		sender.SetHeader(*rbcHeader)
		if err := sender.AddTargets(ref.Senders); err != nil {
			log.Fatalf("Failed to configure forwarding: %v", err)
		}
		if err := sender.Start(); err != nil {
			log.Fatalf("Failed to start sender: %v", err)
		}
		defer sender.Stop()
		log.Printf("Forwarding positions to %d targets", sender.Targets())
		pubs = append(pubs, server.PublisherFunc(sender.Publish))
	}

	manager := server.NewManager(cfg, ref.Beacons, ref.Fingerprints, server.Publishers(pubs...))

	udpSvr, err := server.NewUdpServer(*port, manager)
	if err != nil {
		log.Fatalf("Failed to create UDP server: %v", err)
	}

	if webSvr != nil {
		webSvr.Latest = manager.Latest
		configDir := ""
		if *projectXML != "" {
			configDir = filepath.Dir(*projectXML)
		}
		go func() {
			if err := webSvr.ListenAndServe(fmt.Sprintf(":%d", *httpPort), *distDir, configDir); err != nil {
				log.Printf("HTTP server stopped: %v", err)
			}
		}()
	}

	if *pcapPath != "" {
		path := *pcapPath
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("PKTSBIN_%s.pcap", time.Now().Format("20060102150405")))
		}
		pw, err := binlog.Create(path)
		if err != nil {
			log.Fatalf("Failed to create pcap writer: %v", err)
		}
		defer pw.Close()
		if err := pw.WriteBeacons(ref.Beacons); err != nil {
			log.Printf("Failed to record beacon positions: %v", err)
		}
		udpSvr.SetPcapWriter(pw)
		log.Printf("Logging packets to %s", path)
	}

	go udpSvr.Start()
	log.Printf("Listening on %s", udpSvr.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	udpSvr.Stop()
	manager.Close()
	st := udpSvr.Stats()
	log.Printf("Received %d packets, %d frames, %d decode errors", st.Packets, st.Frames, st.DecodeErrors)
}
