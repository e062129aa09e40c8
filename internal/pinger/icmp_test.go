package pinger

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datagramPingerOrSkip(t *testing.T) *ICMPPinger {
	t.Helper()
	p, err := NewDatagramPinger(time.Second)
	if err != nil {
		t.Skipf("unprivileged ICMP is not permitted here: %v", err)
	}
	return p
}

func TestDatagramPinger_Loopback(t *testing.T) {
	p := datagramPingerOrSkip(t)
	defer p.Close()

	result, err := p.Ping(context.Background(), testSubject("127.0.0.1"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReplyCount())
	assert.True(t, result.IsTimeoutAdaptationAllowed())
}

func TestDatagramPinger_ConcurrentPings(t *testing.T) {
	p := datagramPingerOrSkip(t)
	defer p.Close()

	errs := make(chan error, 8)
	for range 8 {
		go func() {
			result, err := p.Ping(context.Background(), testSubject("127.0.0.1"), 1)
			if err == nil && !result.IsAlive() {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	for range 8 {
		assert.NoError(t, <-errs)
	}
}

func TestDatagramPinger_Close(t *testing.T) {
	p := datagramPingerOrSkip(t)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Ping(context.Background(), testSubject("127.0.0.1"), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestICMPPinger_RequiresPrivileges(t *testing.T) {
	p, err := NewICMPPinger(time.Second)
	if err != nil {
		assert.Contains(t, err.Error(), "ip4:icmp")
		return
	}
	defer p.Close()

	result, err := p.Ping(context.Background(), testSubject("127.0.0.1"), 1)
	require.NoError(t, err)
	assert.True(t, result.IsAlive())
}

func TestAddrOf(t *testing.T) {
	addr, ok := addrOf(&net.IPAddr{IP: net.ParseIP("10.0.0.1")})
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)

	addr, ok = addrOf(&net.UDPAddr{IP: net.ParseIP("fe80::1")})
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("fe80::1"), addr)

	_, ok = addrOf(&net.TCPAddr{})
	assert.False(t, ok)
}
