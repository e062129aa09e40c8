// Package pinger implements the host reachability checks used by the ping
// fetchers: raw and unprivileged ICMP echo, UDP and TCP probes, and a
// combination of the last two for unprivileged users.
package pinger

//go:generate mockgen -source=pinger.go -destination=mocks/mock_pinger.go -package=mocks

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// ErrClosed is returned by Ping after Close.
var ErrClosed = errors.New("pinger is closed")

// Pinger checks whether a host answers.
//
// Ping sends up to count probes and returns what came back. A dead host is
// not an error: the result simply has no replies. Errors are reserved for
// failures of the pinger itself.
type Pinger interface {
	Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error)
	Close() error
}

// DialFunc opens a connection, usually net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// attemptContext bounds one probe by timeout and the caller's ctx.
func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// deadline is the earlier of now+timeout and the deadline of ctx.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
