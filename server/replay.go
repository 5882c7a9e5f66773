package server

import (
	"context"
	"io"
	"net"
	"time"

	"fusion-engine-go/binlog"
	"fusion-engine-go/monitoring"
)

// Replay reads ingest datagrams from a capture and passes each one to
// handle, pacing them by capture time divided by speed. speed <= 0 replays
// as fast as possible. Metadata blocks are skipped. It returns the number
// of datagrams replayed.
func Replay(ctx context.Context, path string, speed float64, handle func(data []byte, addr *net.UDPAddr)) (int, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	monitoring.Logf("replay: %s at %.1fx", path, speed)
	var (
		first     time.Time
		startReal time.Time
		count     int
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, err
		}
		if rec.Flag != binlog.FlagIngest {
			continue
		}

		if first.IsZero() {
			first = rec.Timestamp
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Timestamp.Sub(first)) / speed)
			if wait := target - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return count, ctx.Err()
				}
			}
		}
		handle(rec.Payload, rec.Addr)
		count++
	}
	if r.Skipped > 0 {
		monitoring.Logf("replay: skipped %d malformed records", r.Skipped)
	}
	monitoring.Logf("replay: %d datagrams from %s", count, path)
	return count, nil
}

// Replay feeds a capture through the server as if it had been received.
func (s *UdpServer) Replay(ctx context.Context, path string, speed float64) (int, error) {
	return Replay(ctx, path, speed, func(data []byte, addr *net.UDPAddr) {
		s.HandlePacket(data, addr)
	})
}
