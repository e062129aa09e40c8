package pinger

import (
	"context"
	"net/netip"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// checkTimeout bounds the loopback ping that verifies a privileged pinger.
const checkTimeout = 250 * time.Millisecond

// Factory builds a pinger with the given per-probe timeout.
type Factory func(timeout time.Duration) (Pinger, error)

var factories = map[string]Factory{
	config.PingerICMP:     func(t time.Duration) (Pinger, error) { return NewICMPPinger(t) },
	config.PingerDatagram: func(t time.Duration) (Pinger, error) { return NewDatagramPinger(t) },
	config.PingerUDP:      func(t time.Duration) (Pinger, error) { return NewUDPPinger(t), nil },
	config.PingerTCP:      func(t time.Duration) (Pinger, error) { return NewTCPPinger(t), nil },
	config.PingerCombined: func(t time.Duration) (Pinger, error) { return NewCombinedPinger(t), nil },
}

// privileged pingers may be refused by the OS and are checked before a scan.
var privileged = []string{config.PingerICMP, config.PingerDatagram}

// Names lists the available pinger IDs in stable order.
func Names() []string {
	return []string{
		config.PingerICMP,
		config.PingerDatagram,
		config.PingerUDP,
		config.PingerTCP,
		config.PingerCombined,
	}
}

// FallbackPinger is the pinger used when the selected one cannot run.
func FallbackPinger() string {
	if runtime.GOOS == "darwin" {
		return config.PingerDatagram
	}
	return config.PingerCombined
}

// Registry creates pingers for the scanner configuration.
type Registry struct {
	mu        sync.Mutex
	cfg       *config.ScannerConfig
	factories map[string]Factory
	metrics   metrics.Recorder
	logger    *logging.Logger
}

// NewRegistry creates a registry bound to cfg. rec may be nil.
func NewRegistry(cfg *config.ScannerConfig, rec metrics.Recorder) *Registry {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Registry{
		cfg:       cfg,
		factories: factories,
		metrics:   rec,
		logger:    logging.Default().WithComponent("pingers"),
	}
}

// WithFactory overrides the constructor of one pinger ID.
func (r *Registry) WithFactory(id string, f Factory) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	overridden := make(map[string]Factory, len(r.factories)+1)
	for k, v := range r.factories {
		overridden[k] = v
	}
	overridden[id] = f
	r.factories = overridden
	return r
}

// Selected returns the ID of the configured pinger.
func (r *Registry) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.SelectedPinger
}

// New creates the pinger id with the configured ping timeout.
func (r *Registry) New(id string) (Pinger, error) {
	return r.create(id, r.cfg.PingTimeout)
}

// NewSelected creates the configured pinger.
func (r *Registry) NewSelected() (Pinger, error) {
	return r.New(r.Selected())
}

func (r *Registry) create(id string, timeout time.Duration) (Pinger, error) {
	r.mu.Lock()
	f, ok := r.factories[id]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NewUserError(errors.LabelPingerUnavailable, "unknown pinger "+id)
	}
	p, err := f(timeout)
	if err != nil {
		return nil, errors.WrapUserError(errors.CodePingerUnavailable, errors.LabelPingerUnavailable,
			"unable to create pinger "+id, err)
	}
	return p, nil
}

// CheckSelected verifies that a privileged selection works by pinging the
// loopback address. When it does not, the configuration is switched to
// FallbackPinger. It returns the pinger in use and whether it changed.
func (r *Registry) CheckSelected(ctx context.Context) (string, bool) {
	selected := r.Selected()
	if !slices.Contains(privileged, selected) {
		return selected, false
	}

	err := r.probe(ctx, selected)
	if err == nil {
		return selected, false
	}
	if !errors.IsFatal(err) {
		r.logger.Debug("Pinger check inconclusive, keeping selection", "pinger", selected, "error", err)
		return selected, false
	}

	fallback := FallbackPinger()
	if fallback == selected {
		fallback = config.PingerCombined
	}
	r.logger.Info("Selected pinger is unavailable, falling back",
		"pinger", selected, "fallback", fallback, "error", err)
	r.metrics.IncrementPingerFallback(selected, fallback)

	r.mu.Lock()
	r.cfg.SelectedPinger = fallback
	r.mu.Unlock()
	return fallback, true
}

func (r *Registry) probe(ctx context.Context, id string) error {
	p, err := r.create(id, checkTimeout)
	if err != nil {
		return err
	}
	defer p.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 2*checkTimeout)
	defer cancel()
	subject := scanning.NewSubject(netip.AddrFrom4([4]byte{127, 0, 0, 1}), r.cfg)
	if _, err = p.Ping(checkCtx, subject, 1); err == nil {
		return nil
	}

	code := errors.CodePingerUnavailable
	if ctx.Err() != nil {
		// the caller went away, which says nothing about the pinger
		code = errors.CodeCanceled
	}
	se := errors.WrapScanError(code, "loopback check failed", err).WithContext("pinger", id)
	se.Target = subject.String()
	return se
}
