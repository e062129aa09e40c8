package fetchers

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func testConfig() *config.ScannerConfig {
	cfg := config.DefaultScanner()
	cfg.PortTimeout = 500 * time.Millisecond
	cfg.MinPortTimeout = 50 * time.Millisecond
	cfg.AdaptPortTimeout = false
	return &cfg
}

func subjectFor(t *testing.T, addr string, cfg *config.ScannerConfig) *scanning.Subject {
	t.Helper()
	return scanning.NewSubject(netip.MustParseAddr(addr), cfg)
}

func sharedOf(p pinger.Pinger) *pinger.Shared {
	return pinger.NewShared(func() (pinger.Pinger, error) { return p, nil })
}

// listen starts a loopback TCP server that runs serve for every accepted
// connection and returns its port.
func listen(t *testing.T, serve func(net.Conn)) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if serve != nil {
					serve(conn)
				}
			}()
		}
	}()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// closedPort returns a loopback port nothing listens on.
func closedPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())
	return port
}

// blackholeDial never connects and fails once ctx ends, like a filtered
// port.
func blackholeDial(ctx context.Context, network, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}
