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

func TestCombinedPinger_UDPAnswered(t *testing.T) {
	d := &simulatedDialer{udp: func(string) (net.Conn, error) {
		return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED}), nil
	}}
	p := NewCombinedPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 4)
	require.NoError(t, err)

	assert.Equal(t, 4, result.PacketCount())
	assert.Equal(t, 4, result.ReplyCount())
	for _, call := range d.calls() {
		assert.Contains(t, call, "udp ")
	}
}

func TestCombinedPinger_FallsBackToTCP(t *testing.T) {
	d := &simulatedDialer{
		udp: func(string) (net.Conn, error) {
			return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: context.DeadlineExceeded}), nil
		},
		tcp: func(string) (net.Conn, error) { return nil, dialErr(syscall.ECONNREFUSED) },
	}
	p := NewCombinedPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 4)
	require.NoError(t, err)

	assert.Equal(t, 6, result.PacketCount(), "tcp attempts plus the udp partial result")
	assert.Equal(t, 4, result.ReplyCount())
	assert.Len(t, d.calls(), 6)
	assert.NoError(t, p.Close())
}

func TestCombinedPinger_SingleProbe(t *testing.T) {
	d := &simulatedDialer{
		udp: func(string) (net.Conn, error) {
			return newScriptedConn(&net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED}), nil
		},
	}
	p := NewCombinedPinger(time.Second).WithDialer(d.dial)

	result, err := p.Ping(context.Background(), testSubject("10.0.0.1"), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.PacketCount())
	assert.Equal(t, 1, result.ReplyCount())
}
