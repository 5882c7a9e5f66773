package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"fusion-engine-go/server"
)

func main() {
	pcapPath := flag.String("pcap", "", "Input capture file")
	destAddr := flag.String("dest", fmt.Sprintf("127.0.0.1:%d", server.DefaultPort), "Destination UDP address")
	speed := flag.Float64("speed", 1.0, "Replay speed multiplier (0 for max speed)")
	flag.Parse()

	if *pcapPath == "" {
		log.Fatal("--pcap required")
	}

	raddr, err := net.ResolveUDPAddr("udp", *destAddr)
	if err != nil {
		log.Fatalf("Invalid dest address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Replaying %s to %s...", *pcapPath, *destAddr)
	count, err := server.Replay(ctx, *pcapPath, *speed, func(data []byte, _ *net.UDPAddr) {
		if _, err := conn.Write(data); err != nil {
			log.Printf("Write error: %v", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Replay failed after %d packets: %v", count, err)
	}
	fmt.Printf("Done. Sent %d packets.\n", count)
}
