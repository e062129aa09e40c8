package pinger

import (
	"context"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
}

// simulatedDialer answers dials from a per-network script and records the
// addresses it was asked for.
type simulatedDialer struct {
	mu    sync.Mutex
	dials []string
	tcp   func(port string) (net.Conn, error)
	udp   func(port string) (net.Conn, error)
}

func (d *simulatedDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, network+" "+address)
	d.mu.Unlock()

	_, port, _ := net.SplitHostPort(address)
	script := d.tcp
	if network == "udp" {
		script = d.udp
	}
	if script == nil {
		<-ctx.Done()
		return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
	}
	return script(port)
}

func (d *simulatedDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// scriptedConn is a connection whose reads fail with readErr.
type scriptedConn struct {
	net.Conn
	readErr error
}

func newScriptedConn(readErr error) *scriptedConn {
	client, server := net.Pipe()
	_ = server.Close()
	return &scriptedConn{Conn: client, readErr: readErr}
}

func (c *scriptedConn) Write(b []byte) (int, error)      { return len(b), nil }
func (c *scriptedConn) Read([]byte) (int, error)         { return 0, c.readErr }
func (c *scriptedConn) SetDeadline(time.Time) error      { return nil }
func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func testSubject(addr string) *scanning.Subject {
	cfg := config.DefaultScanner()
	return scanning.NewSubject(netip.MustParseAddr(addr), &cfg)
}
