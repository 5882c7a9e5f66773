package rbc

import (
	"fmt"
	"time"
)

const timeLayout = "20060102150405.000"

// FormatTagPos formats a position record:
//
//	display:NNN,<id>,<seq>,<time>,<source>,<x>,<y>,<accuracy>\r\n
//
// NNN is the total record length written over the padding after the
// colon.
func FormatTagPos(id uint32, tsMs int64, seq uint16, source string, x, y, accuracy float64) []byte {
	body := fmt.Sprintf("display:   ,%016X,%d,%s,%s,%.2f,%.2f,%.2f\r\n",
		id, seq, time.UnixMilli(tsMs).UTC().Format(timeLayout), source, x, y, accuracy)
	return fillLength([]byte(body))
}

// FormatLost formats a warning that an agent has no valid position.
func FormatLost(id uint32, tsMs int64, seq uint16) []byte {
	body := fmt.Sprintf("warning:   ,%016X,%d,%s,lost\r\n",
		id, seq, time.UnixMilli(tsMs).UTC().Format(timeLayout))
	return fillLength([]byte(body))
}

// fillLength writes the record length into bytes 8..10.
func fillLength(b []byte) []byte {
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + (n/100)%10)
	}
	b[9] = byte('0' + (n/10)%10)
	b[10] = byte('0' + n%10)
	return b
}
