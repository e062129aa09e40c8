package fetchers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func TestSNMPNameNoAgent(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cfg := testConfig()
	cfg.PortTimeout = 50 * time.Millisecond
	f := NewSNMPName(Deps{Config: cfg})
	f.port = uint16(pc.LocalAddr().(*net.UDPAddr).Port)

	start := time.Now()
	assert.Nil(t, f.Scan(context.Background(), subjectFor(t, "127.0.0.1", cfg)))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSNMPNameIdentity(t *testing.T) {
	f := NewSNMPName(Deps{})
	assert.Equal(t, scanning.FetcherSNMPName, f.ID())
	assert.Equal(t, "SNMPName", f.FullName())
	assert.NoError(t, f.Init())
	f.Cleanup()
}
