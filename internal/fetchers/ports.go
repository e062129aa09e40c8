package fetchers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
	ierrors "github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/ports"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// Ports connects to every configured port of a host and reports which
// ones accepted the connection.
type Ports struct {
	cfg     *config.ScannerConfig
	dial    pinger.DialFunc
	metrics metrics.Recorder
	logger  *logging.Logger
	binder  *scanning.ResourceBinder

	mu       sync.RWMutex
	portSpec string
	ports    []uint16
}

// NewPorts creates the Ports fetcher.
func NewPorts(d Deps) *Ports {
	d = d.withDefaults()
	return &Ports{
		cfg:     d.Config,
		dial:    d.Dial,
		metrics: d.Metrics,
		logger:  d.Logger.WithComponent("fetcher.ports"),
		binder:  scanning.NewResourceBinder(),
	}
}

func (p *Ports) ID() scanning.FetcherID { return scanning.FetcherPorts }

// FullName carries the number of configured ports, with a "+" when
// requested ports are probed as well.
func (p *Ports) FullName() string {
	p.mu.RLock()
	cached, spec := len(p.ports), p.portSpec
	p.mu.RUnlock()

	n := cached
	if spec != p.cfg.PortString {
		parsed, err := ports.Parse(p.cfg.PortString)
		if err == nil {
			n = len(parsed)
		}
	}
	suffix := ""
	if p.cfg.UseRequestedPorts {
		suffix = "+"
	}
	return fmt.Sprintf("%s [%d%s]", scanning.FetcherPorts, n, suffix)
}

// Init parses the port specification once per scan.
func (p *Ports) Init() error {
	parsed, err := ports.Parse(p.cfg.PortString)
	if err != nil {
		return ierrors.ErrInvalidPorts(p.cfg.PortString, err)
	}

	p.mu.Lock()
	p.portSpec = p.cfg.PortString
	p.ports = parsed
	p.mu.Unlock()

	p.binder.Reopen()
	return nil
}

// Cleanup closes any socket still held by a probe.
func (p *Ports) Cleanup() {
	if n := p.binder.CloseAll(); n > 0 {
		p.logger.Debug("Closed leftover sockets", "count", n)
	}
}

// portsFor returns the configured ports followed by the host's requested
// ones, without duplicates.
func (p *Ports) portsFor(subject *scanning.Subject) []uint16 {
	p.mu.RLock()
	configured := p.ports
	p.mu.RUnlock()

	out := append([]uint16(nil), configured...)
	if !p.cfg.UseRequestedPorts {
		return out
	}
	seen := make(map[uint16]bool, len(out))
	for _, port := range out {
		seen[port] = true
	}
	for _, port := range subject.RequestedPorts() {
		if !seen[port] {
			seen[port] = true
			out = append(out, port)
		}
	}
	return out
}

// Scan connects to each port in turn. Once every port is tried, the open
// and the filtered sets are published on the subject, even when empty or
// cut short by cancellation, so fetchers running later always find them.
func (p *Ports) Scan(ctx context.Context, subject *scanning.Subject) any {
	list := p.portsFor(subject)
	if len(list) == 0 {
		return scanning.NotScanned
	}

	var (
		open     []uint16
		filtered []uint16
	)
	timeout := subject.AdaptedPortTimeout()

	for _, port := range list {
		if ctx.Err() != nil {
			break
		}
		switch p.probe(ctx, subject.Addr(), port, timeout) {
		case portOpen:
			open = append(open, port)
		case portFiltered:
			filtered = append(filtered, port)
		}
	}

	subject.SetParameter(scanning.ParameterOpenPorts, sortedPorts(open))
	subject.SetParameter(scanning.ParameterFilteredPorts, sortedPorts(filtered))
	p.metrics.AddPorts("open", len(open))
	p.metrics.AddPorts("filtered", len(filtered))

	if len(open) == 0 {
		return nil
	}
	subject.SetResultType(scanning.ResultWithPorts)
	return scanning.NewPortList(open)
}

type portState int

const (
	portClosed portState = iota
	portOpen
	portFiltered
)

func (p *Ports) probe(ctx context.Context, addr netip.Addr, port uint16, timeout time.Duration) portState {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(dctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(int(port))))
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return portFiltered
		}
		return portClosed
	}
	release := p.binder.Bind(ctx, addr.String(), conn)
	release()
	return portOpen
}

// isTimeout reports dial errors caused by an expired deadline rather than
// a refusal.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sortedPorts(p []uint16) []uint16 {
	out := append([]uint16{}, p...)
	slices.Sort(out)
	return out
}
