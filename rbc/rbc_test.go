package rbc

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-engine-go/fusion"
	"fusion-engine-go/server"
)

func TestFormatTagPos(t *testing.T) {
	b := FormatTagPos(0xC0FFEE, 1700000000123, 7, "fused", 1.234, -5, 0.5)
	s := string(b)

	assert.True(t, strings.HasPrefix(s, "display:"))
	assert.True(t, strings.HasSuffix(s, "\r\n"))
	n, err := strconv.Atoi(strings.TrimSpace(s[8:11]))
	require.NoError(t, err)
	assert.Equal(t, len(b), n)

	fields := strings.Split(strings.TrimSuffix(s, "\r\n"), ",")
	require.Len(t, fields, 8)
	assert.Equal(t, "0000000000C0FFEE", fields[1])
	assert.Equal(t, "7", fields[2])
	assert.Equal(t, "20231114221320.123", fields[3])
	assert.Equal(t, []string{"fused", "1.23", "-5.00", "0.50"}, fields[4:])
}

func TestFormatLost(t *testing.T) {
	b := FormatLost(1, 0, 3)
	n, err := strconv.Atoi(strings.TrimSpace(string(b[8:11])))
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.True(t, strings.HasSuffix(string(b), ",lost\r\n"))
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUDP(t *testing.T, conn *net.UDPConn) string {
	t.Helper()
	buf := make([]byte, 2048)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func update(addr uint32, valid bool) server.Update {
	return server.Update{
		SessionID: "s",
		Addr:      addr,
		Position:  fusion.FusedPosition{X: 1, Y: 2, Accuracy: 0.5, Source: fusion.SourceFused, TimestampMs: 1000, Valid: valid},
	}
}

func TestSender_PublishUDP(t *testing.T) {
	pos := listenUDP(t)
	warn := listenUDP(t)

	s := NewSender()
	require.NoError(t, s.AddUDPSender(pos.LocalAddr().String(), FlagPosition))
	require.NoError(t, s.AddUDPSender(warn.LocalAddr().String(), FlagWarning))
	s.SetHeader("site1")
	require.NoError(t, s.Start())
	defer s.Stop()

	s.Publish(update(9, false)) // never valid: nothing sent
	s.Publish(update(9, true))
	s.Publish(update(9, false))
	s.Publish(update(9, false)) // already lost: no second warning

	got := readUDP(t, pos)
	assert.True(t, strings.HasPrefix(got, "site1:display:"), got)
	assert.Contains(t, got, ",0000000000000009,1,")

	got = readUDP(t, warn)
	assert.True(t, strings.HasPrefix(got, "site1:warning:"), got)
	assert.Contains(t, got, ",0000000000000009,2,")

	warn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := warn.ReadFromUDP(make([]byte, 64))
	assert.Error(t, err)
}

func TestSender_PublishTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		lines <- line
	}()

	s := NewSender()
	s.AddTCPSender(ln.Addr().String(), FlagPosition|FlagWarning)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.Publish(update(3, true))

	select {
	case line := <-lines:
		assert.True(t, strings.HasPrefix(line, "display:"), line)
	case <-time.After(3 * time.Second):
		t.Fatal("no tcp record")
	}
}

func TestSender_AddTargets(t *testing.T) {
	s := NewSender()
	require.NoError(t, s.AddTargets([]fusion.RbcSenderConfig{
		{Addr: "127.0.0.1", Port: 9000, Type: "udp", Mask: FlagPosition},
		{Addr: "127.0.0.1", Port: 9001, Type: "TCP", Mask: FlagWarning},
	}))
	assert.Equal(t, 2, s.Targets())

	err := NewSender().AddTargets([]fusion.RbcSenderConfig{{Addr: "127.0.0.1", Port: 1, Type: "serial"}})
	assert.ErrorContains(t, err, "unknown type")
}

func TestSender_SendBeforeStart(t *testing.T) {
	s := NewSender()
	s.AddTCPSender("127.0.0.1:1", FlagPosition)
	s.Send([]byte("x"), FlagPosition)
	assert.Empty(t, s.tcpClients[0].queue)
}
