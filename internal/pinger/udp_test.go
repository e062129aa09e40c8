package pinger

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPPinger_EchoReply(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteTo(buf[:n], from)
		}
	}()

	p := NewUDPPinger(time.Second)
	p.port = conn.LocalAddr().(*net.UDPAddr).Port

	result, err := p.Ping(context.Background(), testSubject("127.0.0.1"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReplyCount())
	assert.True(t, result.IsTimeoutAdaptationAllowed())
}

func TestUDPPinger_PortUnreachableMeansAlive(t *testing.T) {
	d := &simulatedDialer{udp: func(string) (net.Conn, error) {
		return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED}), nil
	}}
	p := NewUDPPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ReplyCount())
	assert.Equal(t, "udp 10.0.0.1:33381", d.calls()[0])
}

func TestUDPPinger_UnreachableStopsAttempts(t *testing.T) {
	d := &simulatedDialer{udp: func(string) (net.Conn, error) {
		return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: syscall.EHOSTUNREACH}), nil
	}}
	p := NewUDPPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 3)
	require.NoError(t, err)
	assert.False(t, result.IsAlive())
	assert.Len(t, d.calls(), 1)
}

func TestUDPPinger_TimeoutContinues(t *testing.T) {
	d := &simulatedDialer{udp: func(string) (net.Conn, error) {
		return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: context.DeadlineExceeded}), nil
	}}
	p := NewUDPPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 3)
	require.NoError(t, err)
	assert.False(t, result.IsAlive())
	assert.Len(t, d.calls(), 3)
	assert.NoError(t, p.Close())
}
