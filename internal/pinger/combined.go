package pinger

import (
	"context"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// CombinedPinger tries UDP first and falls back to TCP for hosts that did
// not answer. It is the best choice without ICMP privileges.
type CombinedPinger struct {
	udp *UDPPinger
	tcp *TCPPinger
}

// NewCombinedPinger creates UDP and TCP pingers with the same timeout.
func NewCombinedPinger(timeout time.Duration) *CombinedPinger {
	return &CombinedPinger{udp: NewUDPPinger(timeout), tcp: NewTCPPinger(timeout)}
}

// WithDialer replaces the dial function of both strategies.
func (p *CombinedPinger) WithDialer(dial DialFunc) *CombinedPinger {
	p.udp.WithDialer(dial)
	p.tcp.WithDialer(dial)
	return p
}

// Ping spends half of count on UDP. A host that answered gets the rest over
// UDP too, others get count TCP attempts.
func (p *CombinedPinger) Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error) {
	initial := max(1, count/2)
	udpResult, err := p.udp.Ping(ctx, subject, initial)
	if err != nil {
		return nil, err
	}

	if udpResult.IsAlive() {
		rest, err := p.udp.Ping(ctx, subject, count-initial)
		if err != nil {
			return udpResult, err
		}
		return udpResult.Merge(rest), nil
	}

	tcpResult, err := p.tcp.Ping(ctx, subject, count)
	if err != nil {
		return udpResult, err
	}
	return tcpResult.Merge(udpResult), nil
}

// Close closes both strategies.
func (p *CombinedPinger) Close() error {
	udpErr := p.udp.Close()
	tcpErr := p.tcp.Close()
	if udpErr != nil {
		return udpErr
	}
	return tcpErr
}
