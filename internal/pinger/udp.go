package pinger

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// udpProbePort is an unassigned port that is unlikely to be open, so a live
// host answers with ICMP port unreachable.
const udpProbePort = 33381

var udpPayload = []byte("ipscanner")

// UDPPinger sends a datagram per attempt. Either a reply or an ICMP port
// unreachable, reported as a refused connection, proves the host is up.
type UDPPinger struct {
	timeout time.Duration
	dial    DialFunc
	port    int
}

// NewUDPPinger creates a UDP pinger with the given per-attempt timeout.
func NewUDPPinger(timeout time.Duration) *UDPPinger {
	return &UDPPinger{timeout: timeout, dial: defaultDial, port: udpProbePort}
}

// WithDialer replaces the dial function, for tests and simulations.
func (p *UDPPinger) WithDialer(dial DialFunc) *UDPPinger {
	p.dial = dial
	return p
}

// Ping sends up to count datagrams.
func (p *UDPPinger) Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error) {
	result := scanning.NewPingResult(subject.Addr(), count)
	address := net.JoinHostPort(subject.Addr().String(), strconv.Itoa(p.port))

	for i := 0; i < count && ctx.Err() == nil; i++ {
		rtt, verdict := p.probe(ctx, address)
		switch verdict {
		case outcomeAlive:
			result.AddReply(rtt)
			result.EnableTimeoutAdaptation()
		case outcomeDead:
			return result, nil
		}
	}
	return result, nil
}

func (p *UDPPinger) probe(ctx context.Context, address string) (time.Duration, outcome) {
	attemptCtx, cancel := attemptContext(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(attemptCtx, "udp", address)
	if err != nil {
		if classify(err) == outcomeDead {
			return 0, outcomeDead
		}
		return 0, outcomeFailed
	}
	defer conn.Close()

	stop := context.AfterFunc(attemptCtx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetDeadline(deadline(attemptCtx, p.timeout)); err != nil {
		return 0, outcomeFailed
	}

	start := time.Now()
	if _, err := conn.Write(udpPayload); err != nil {
		return 0, classify(err)
	}

	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	return time.Since(start), classify(err)
}

// Close is a no-op, every attempt uses its own socket.
func (p *UDPPinger) Close() error {
	return nil
}
