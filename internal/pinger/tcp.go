package pinger

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// tcpProbePorts are tried in turn until one of them answers. 80 is first
// because it is the least likely to be filtered.
var tcpProbePorts = []uint16{80, 7, 443, 139, 22}

// TCPPinger probes hosts with TCP connects. It needs no privileges: both an
// accepted connection and a reset prove the host is up.
type TCPPinger struct {
	timeout time.Duration
	dial    DialFunc
	logger  *logging.Logger
}

// NewTCPPinger creates a TCP pinger with the given per-attempt timeout.
func NewTCPPinger(timeout time.Duration) *TCPPinger {
	return &TCPPinger{
		timeout: timeout,
		dial:    defaultDial,
		logger:  logging.Default().WithComponent("pinger.tcp"),
	}
}

// WithDialer replaces the dial function, for tests and simulations.
func (p *TCPPinger) WithDialer(dial DialFunc) *TCPPinger {
	p.dial = dial
	return p
}

// Ping connects up to count times. The first port that accepts a
// connection is used for the remaining attempts. A refusal proves the host
// is up but not that the port is open, so the ports keep rotating.
func (p *TCPPinger) Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error) {
	result := scanning.NewPingResult(subject.Addr(), count)
	working := -1

	for i := 0; i < count && ctx.Err() == nil; i++ {
		port := int(tcpProbePorts[i%len(tcpProbePorts)])
		if working >= 0 {
			port = working
		} else if i == 0 {
			if requested := subject.RequestedPorts(); len(requested) > 0 {
				port = int(requested[0])
			}
		}

		timeout := p.timeout
		if result.IsTimeoutAdaptationAllowed() {
			timeout = min(result.LongestTime()*2, p.timeout)
		}

		rtt, verdict, err := p.probe(ctx, subject.Addr(), port, timeout)
		switch verdict {
		case outcomeAlive:
			result.AddReply(rtt)
			result.EnableTimeoutAdaptation()
			if err == nil {
				working = port
			}
		case outcomeDead:
			return result, nil
		default:
			if err != nil && ctx.Err() == nil && !isTimeout(err) {
				p.logger.Debug("TCP probe failed", "target", subject.String(), "port", port, "error", err)
			}
		}
	}
	return result, nil
}

func (p *TCPPinger) probe(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) (time.Duration, outcome, error) {
	attemptCtx, cancel := attemptContext(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dial(attemptCtx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	rtt := time.Since(start)
	if conn != nil {
		_ = conn.Close()
	}
	return rtt, classify(err), err
}

// Close is a no-op, TCP probes hold no shared resources.
func (p *TCPPinger) Close() error {
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
