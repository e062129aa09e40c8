package scanning

import (
	"context"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/workers"
)

const (
	// progressInterval limits how often progress is reported.
	progressInterval = time.Second
	// fullPoolWait is the pause while every worker is busy and no thread
	// delay is configured.
	fullPoolWait = time.Millisecond
	// drainPercent is reported while waiting for the last hosts.
	drainPercent = 99
)

// ResultCallback receives rows as hosts are dispatched and finished.
type ResultCallback interface {
	// PrepareForResults is called before the host is scanned.
	PrepareForResults(result *Result)
	// ConsumeResults is called once every fetcher ran.
	ConsumeResults(result *Result)
}

// ProgressFunc receives the last dispatched address, the number of hosts
// being scanned and the completion percentage. The address is the zero Addr
// while the last hosts are drained.
type ProgressFunc func(current netip.Addr, activeWorkers int, percent float64)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Config   *config.ScannerConfig
	Feeder   Feeder
	Scanner  *Scanner
	Machine  *StateMachine
	Results  *ResultList
	Callback ResultCallback
	Progress ProgressFunc
	Metrics  metrics.Recorder
	Logger   *logging.Logger
}

// Dispatcher pulls subjects from a feeder and runs each through the scanner
// on a bounded pool, until the feeder is exhausted or the scan is stopped.
type Dispatcher struct {
	cfg      *config.ScannerConfig
	feeder   Feeder
	scanner  *Scanner
	machine  *StateMachine
	results  *ResultList
	callback ResultCallback
	progress ProgressFunc
	metrics  metrics.Recorder
	logger   *logging.Logger

	pool   *workers.Pool
	ctx    context.Context
	cancel context.CancelFunc

	scanning atomic.Bool
	killed   atomic.Bool

	progressEvery time.Duration
}

// NewDispatcher prepares a dispatcher for a scan that is about to enter
// SCANNING. Killing the scan cancels ctx for every running probe.
func NewDispatcher(ctx context.Context, dc DispatcherConfig) (*Dispatcher, error) {
	if dc.Config == nil || dc.Feeder == nil || dc.Scanner == nil || dc.Machine == nil || dc.Results == nil {
		return nil, fmt.Errorf("dispatcher requires config, feeder, scanner, state machine and results")
	}
	if dc.Metrics == nil {
		dc.Metrics = metrics.Nop{}
	}
	if dc.Logger == nil {
		dc.Logger = logging.Default()
	}
	if dc.Progress == nil {
		dc.Progress = func(netip.Addr, int, float64) {}
	}
	if dc.Callback == nil {
		dc.Callback = registeringCallback{list: dc.Results}
	}

	d := &Dispatcher{
		cfg:           dc.Config,
		feeder:        dc.Feeder,
		scanner:       dc.Scanner,
		machine:       dc.Machine,
		results:       dc.Results,
		callback:      dc.Callback,
		progress:      dc.Progress,
		metrics:       dc.Metrics,
		logger:        dc.Logger.WithFields("stage", "dispatch"),
		progressEvery: progressInterval,
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	pool, err := workers.New(d.ctx, workers.Config{Size: d.cfg.MaxThreads})
	if err != nil {
		d.cancel()
		return nil, err
	}
	d.pool = pool

	d.scanning.Store(true)
	d.machine.AddListener(d)
	return d, nil
}

// TransitionTo stops dispatching once the scan leaves SCANNING and
// interrupts running probes on KILLING.
func (d *Dispatcher) TransitionTo(state State, _ Transition) {
	if state != StateScanning {
		d.scanning.Store(false)
	}
	if state == StateKilling && d.killed.CompareAndSwap(false, true) {
		d.logger.Info("Killing running probes", "active", d.pool.Running())
		d.cancel()
		d.pool.Cancel()
	}
}

// Running returns the number of hosts being scanned.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Run dispatches the whole feeder and completes the scan. It blocks until
// every submitted host finished.
func (d *Dispatcher) Run() {
	defer d.machine.RemoveListener(d)
	defer d.cancel()

	d.logger.Info("Dispatching", "range", d.feeder.Info(), "max_threads", d.cfg.MaxThreads)

	var (
		last       netip.Addr
		lastNotify time.Time
	)

	for d.feeder.HasNext() && d.scanning.Load() {
		if !d.sleep(d.cfg.ThreadDelay) {
			break
		}

		if d.pool.Running() < d.cfg.MaxThreads {
			subject := d.feeder.Next()
			last = subject.Addr()

			if d.cfg.SkipBroadcastAddresses && IsLikelyBroadcast(subject.Addr()) {
				continue
			}
			if !d.scanning.Load() {
				break
			}

			result := d.results.CreateResult(subject.Addr())
			d.callback.PrepareForResults(result)

			if err := d.pool.Submit(d.task(subject, result)); err != nil {
				d.logger.Error("Failed to submit host", "target", subject.String(), "error", err)
				break
			}
			d.metrics.SetActiveWorkers(d.pool.Running())
		} else if d.cfg.ThreadDelay <= 0 {
			d.sleep(fullPoolWait)
		}

		if now := time.Now(); now.Sub(lastNotify) >= d.progressEvery && last.IsValid() {
			lastNotify = now
			d.progress(last, d.pool.Running(), d.feeder.PercentComplete())
		}
	}

	// no more addresses: no-op unless still SCANNING
	d.machine.Stop()

	d.pool.Shutdown()
	for !d.pool.AwaitTermination(d.progressEvery) {
		d.progress(netip.Addr{}, d.pool.Running(), drainPercent)
	}
	d.metrics.SetActiveWorkers(0)

	d.scanner.Cleanup()
	d.logger.Info("Dispatch finished", "range", d.feeder.Info(), "killed", d.killed.Load())

	d.machine.Complete()
}

// sleep waits for delay and reports false when the scan was killed.
func (d *Dispatcher) sleep(delay time.Duration) bool {
	if delay <= 0 {
		return d.ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) task(subject *Subject, result *Result) workers.Job {
	return workers.JobFunc{
		JobID:   subject.String(),
		JobType: "host",
		Fn: func(ctx context.Context) error {
			d.scanner.Scan(ctx, subject, result)
			d.callback.ConsumeResults(result)
			return nil
		},
	}
}

// registeringCallback only keeps the result list up to date.
type registeringCallback struct {
	list *ResultList
}

func (c registeringCallback) PrepareForResults(r *Result) {
	if !c.list.IsRegistered(r) {
		_ = c.list.Register(r)
	}
}

func (c registeringCallback) ConsumeResults(r *Result) {
	c.list.Update(r)
}
