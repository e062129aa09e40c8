package scanning

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLikelyBroadcast(t *testing.T) {
	for addr, want := range map[string]bool{
		"10.0.0.0":   true,
		"10.0.0.255": true,
		"10.0.0.1":   false,
		"10.0.0.254": false,
		"fe80::ff":   true,
		"fe80::100":  true,
		"fe80::101":  false,
	} {
		assert.Equal(t, want, IsLikelyBroadcast(mustAddr(t, addr)), addr)
	}
	assert.False(t, IsLikelyBroadcast(netip.Addr{}))
}

func TestNetworkOf24(t *testing.T) {
	start, end := networkOf24(mustAddr(t, "192.168.17.42"))
	assert.Equal(t, "192.168.17.0", start.String())
	assert.Equal(t, "192.168.17.255", end.String())
}

func TestLocalRange(t *testing.T) {
	start, end, ok := LocalRange()
	if !ok {
		t.Skip("no non-loopback IPv4 interface")
	}
	assert.True(t, start.Is4())
	assert.Equal(t, byte(0), start.As4()[3])
	assert.Equal(t, byte(0xFF), end.As4()[3])
}
