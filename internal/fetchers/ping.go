package fetchers

import (
	"context"
	"fmt"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// pingBase is shared by every fetcher that reads ping statistics. The
// first of them to run for a host pings it and caches the result on the
// subject; the others reuse it.
type pingBase struct {
	base
	cfg    *config.ScannerConfig
	shared *pinger.Shared
	logger *logging.Logger
}

func newPingBase(id scanning.FetcherID, d Deps) pingBase {
	d = d.withDefaults()
	return pingBase{
		base:   base{id: id},
		cfg:    d.Config,
		shared: d.Pinger,
		logger: d.Logger.WithComponent("fetcher." + id.String()),
	}
}

// Init acquires the shared pinger for the scan.
func (p *pingBase) Init() error {
	if p.shared == nil {
		return fmt.Errorf("%s fetcher has no pinger", p.id)
	}
	_, err := p.shared.Acquire()
	return err
}

// Cleanup releases the shared pinger.
func (p *pingBase) Cleanup() {
	if p.shared == nil {
		return
	}
	if err := p.shared.Release(); err != nil {
		p.logger.Warn("Failed to close pinger", "error", err)
	}
}

// ping returns the cached result or pings the host. Failures are cached as
// an empty result so the host is not pinged again.
func (p *pingBase) ping(ctx context.Context, subject *scanning.Subject) *scanning.PingResult {
	if pr, ok := subject.PingResult(); ok {
		return pr
	}

	pr, err := p.shared.Ping(ctx, subject, p.cfg.PingCount)
	if err != nil || pr == nil {
		if err != nil && ctx.Err() == nil {
			p.logger.Debug("Ping failed", "target", subject.String(), "error", err)
		}
		pr = scanning.NewPingResult(subject.Addr(), 0)
	}
	subject.SetParameter(scanning.ParameterPingResult, pr)
	return pr
}

// markLiveness sets ALIVE or DEAD from the ping result.
func markLiveness(subject *scanning.Subject, pr *scanning.PingResult) {
	if pr.IsAlive() {
		subject.SetResultType(scanning.ResultAlive)
	} else {
		subject.SetResultType(scanning.ResultDead)
	}
}

// Ping reports the average round trip time and decides whether a host is
// worth scanning further.
type Ping struct {
	pingBase
}

// NewPing creates the Ping fetcher.
func NewPing(d Deps) *Ping {
	return &Ping{pingBase: newPingBase(scanning.FetcherPing, d)}
}

// Scan returns the average reply time, or nil for dead hosts. Dead hosts
// abort the remaining fetchers unless dead hosts are scanned.
func (p *Ping) Scan(ctx context.Context, subject *scanning.Subject) any {
	pr := p.ping(ctx, subject)
	markLiveness(subject, pr)

	if !pr.IsAlive() {
		if !p.cfg.ScanDeadHosts {
			subject.Abort()
		}
		return nil
	}
	return scanning.Milliseconds(int(pr.AverageTime().Milliseconds()))
}

// PingTTL reports the TTL of the echo replies.
type PingTTL struct {
	pingBase
}

// NewPingTTL creates the PingTTL fetcher.
func NewPingTTL(d Deps) *PingTTL {
	return &PingTTL{pingBase: newPingBase(scanning.FetcherPingTTL, d)}
}

// Scan returns the TTL, nil when unknown.
func (p *PingTTL) Scan(ctx context.Context, subject *scanning.Subject) any {
	pr := p.ping(ctx, subject)
	markLiveness(subject, pr)
	if pr.IsAlive() && pr.TTL() > 0 {
		return pr.TTL()
	}
	return nil
}

// PacketLoss reports how many echo requests went unanswered.
type PacketLoss struct {
	pingBase
}

// NewPacketLoss creates the PacketLoss fetcher.
func NewPacketLoss(d Deps) *PacketLoss {
	return &PacketLoss{pingBase: newPingBase(scanning.FetcherPacketLoss, d)}
}

// Scan renders the loss as "lost/sent (pct%)".
func (p *PacketLoss) Scan(ctx context.Context, subject *scanning.Subject) any {
	pr := p.ping(ctx, subject)
	markLiveness(subject, pr)
	return fmt.Sprintf("%d/%d (%d%%)", pr.PacketLoss(), pr.PacketCount(), pr.PacketLossPercent())
}
