// Package services provides the scanner service: the facade the CLI, the
// HTTP API and the scheduler use to run scans and read their results.
package services

import (
	"context"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/fetchers"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/pinger"
	"github.com/homiodev/addon-ipscanner/internal/ports"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// Option customizes a ScannerService.
type Option func(*options)

type options struct {
	metrics  metrics.Recorder
	dial     pinger.DialFunc
	factory  map[string]pinger.Factory
	fetchers []scanning.Fetcher
}

// WithMetrics reports scan measurements to rec.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *options) { o.metrics = rec }
}

// WithDialer replaces the dial function of the network fetchers.
func WithDialer(dial pinger.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithPingerFactory overrides how the pinger id is built.
func WithPingerFactory(id string, f pinger.Factory) Option {
	return func(o *options) {
		if o.factory == nil {
			o.factory = make(map[string]pinger.Factory)
		}
		o.factory[id] = f
	}
}

// WithFetchers replaces the built-in fetchers.
func WithFetchers(fs ...scanning.Fetcher) Option {
	return func(o *options) { o.fetchers = fs }
}

// session is one scan, from start request to completion.
type session struct {
	id       string
	kind     scanning.Transition
	feeder   *scanning.RangeFeeder
	progress ProgressSink
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	dispatcher *scanning.Dispatcher
	started    time.Time
	last       *Progress
	stopped    bool
	killed     bool
	completed  bool
	done       chan struct{}
	doneOnce   sync.Once
}

func (s *session) finish() {
	s.doneOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

// ScannerService owns the scanning engine: the state machine, the fetchers,
// the shared pinger and the live result list.
type ScannerService struct {
	cfg     *config.ScannerConfig
	logger  *logging.Logger
	metrics metrics.Recorder

	pingers  *pinger.Registry
	shared   *pinger.Shared
	registry *scanning.FetcherRegistry
	machine  *scanning.StateMachine
	results  *scanning.ResultList
	scanner  *scanning.Scanner

	// serializes requests that change the engine
	opMu sync.Mutex

	mu          sync.Mutex
	session     *session
	startErr    error
	pending     []scanning.FetcherID
	killTimer   *time.Timer
	onComplete  []func(Summary)
	subscribers map[int]func(Event)
	nextSub     int
}

// New builds a service over cfg. cfg is shared with the engine and must only
// be changed through the service.
func New(cfg *config.ScannerConfig, logger *logging.Logger, opts ...Option) (*ScannerService, error) {
	if cfg == nil {
		def := config.DefaultScanner()
		cfg = &def
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := options{metrics: metrics.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &ScannerService{
		cfg:         cfg,
		logger:      logger.WithComponent("scanner"),
		metrics:     o.metrics,
		machine:     scanning.NewStateMachine(),
		subscribers: make(map[int]func(Event)),
	}

	s.pingers = pinger.NewRegistry(cfg, o.metrics)
	for id, f := range o.factory {
		s.pingers.WithFactory(id, f)
	}
	s.shared = pinger.NewShared(s.pingers.NewSelected)

	all := o.fetchers
	if all == nil {
		all = fetchers.All(fetchers.Deps{
			Config:  cfg,
			Pinger:  s.shared,
			Dial:    o.dial,
			Metrics: o.metrics,
			Logger:  logger,
		})
	}
	s.registry = scanning.NewFetcherRegistry(all...)
	if len(cfg.SelectedFetchers) > 0 {
		ids, err := scanning.ParseFetcherIDs(cfg.SelectedFetchers)
		if err != nil {
			return nil, err
		}
		if err := s.registry.Select(ids); err != nil {
			return nil, err
		}
	}

	s.results = scanning.NewResultList(s.registry)
	s.scanner = scanning.NewScanner(s.registry, o.metrics)
	s.machine.AddListener(s)
	return s, nil
}

// Config returns the live scanner configuration.
func (s *ScannerService) Config() *config.ScannerConfig {
	return s.cfg
}

// State returns the engine state.
func (s *ScannerService) State() scanning.State {
	return s.machine.State()
}

// Pinger returns the pinger in use.
func (s *ScannerService) Pinger() string {
	return s.pingers.Selected()
}

// Fetchers returns every available fetcher.
func (s *ScannerService) Fetchers() []scanning.Fetcher {
	return s.registry.All()
}

// SelectedFetchers returns the IDs of the selected fetchers.
func (s *ScannerService) SelectedFetchers() []scanning.FetcherID {
	return s.registry.SelectedIDs()
}

// Columns returns the fetchers of the current or last scan.
func (s *ScannerService) Columns() []scanning.Fetcher {
	return s.results.Fetchers()
}

// StartScan scans the range start..end. A non-empty portSpec replaces the
// configured ports. It fails with a user error when the input is invalid,
// when another scan is still running or when the engine cannot start.
func (s *ScannerService) StartScan(ctx context.Context, start, end, portSpec string, progress ProgressSink) (string, error) {
	return s.begin(ctx, scanning.TransitionStart, start, end, portSpec, progress)
}

// Rescan is StartScan for a repeated scan.
func (s *ScannerService) Rescan(ctx context.Context, start, end, portSpec string, progress ProgressSink) (string, error) {
	return s.begin(ctx, scanning.TransitionRescan, start, end, portSpec, progress)
}

// Continue scans another range keeping the rows of the previous scan.
func (s *ScannerService) Continue(ctx context.Context, start, end, portSpec string, progress ProgressSink) (string, error) {
	return s.begin(ctx, scanning.TransitionContinue, start, end, portSpec, progress)
}

func (s *ScannerService) begin(
	ctx context.Context, kind scanning.Transition, start, end, portSpec string, progress ProgressSink,
) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if st := s.machine.State(); st != scanning.StateIdle {
		return "", errors.ErrScanInProgress(st.String())
	}

	// Nothing is changed until the whole input is known to be valid.
	if portSpec = strings.TrimSpace(portSpec); portSpec != "" {
		if _, err := ports.Parse(portSpec); err != nil {
			return "", errors.ErrInvalidPorts(portSpec, err)
		}
	}

	feeder, err := scanning.NewRangeFeeder(start, end, s.cfg)
	if err != nil {
		return "", err
	}
	if len(s.cfg.Exclude) > 0 {
		excluded, err := scanning.BuildExclusions(s.cfg.Exclude)
		if err != nil {
			return "", err
		}
		feeder.WithExclusions(excluded)
	}

	prevPorts := s.cfg.PortString
	if portSpec != "" {
		s.cfg.PortString = portSpec
	}

	if _, changed := s.pingers.CheckSelected(ctx); changed {
		s.logger.Warn("Using fallback pinger", "pinger", s.pingers.Selected())
	}

	id := uuid.NewString()
	sess := &session{
		id:       id,
		kind:     kind,
		feeder:   feeder,
		progress: progress,
		logger:   s.logger.WithScanID(id),
		done:     make(chan struct{}),
	}
	// the scan outlives the request that started it
	sess.ctx, sess.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.session = sess
	s.startErr = nil
	s.mu.Unlock()

	switch kind {
	case scanning.TransitionRescan:
		s.machine.Rescan()
	case scanning.TransitionContinue:
		s.machine.Continue()
	default:
		s.machine.TransitionToNext()
	}

	s.mu.Lock()
	startErr := s.startErr
	s.mu.Unlock()
	if startErr != nil {
		s.cfg.PortString = prevPorts
		sess.finish()
		sess.logger.ErrorScan("Scan failed to start", feeder.Info(), startErr)
		if errors.IsUserError(startErr) {
			return "", startErr
		}
		return "", errors.WrapUserError(errors.CodeScanFailed, errors.LabelStartFailed,
			"failed to start scan", startErr)
	}

	sess.logger.InfoScan("Scan started", feeder.Info(), "kind", kindName(kind),
		"pinger", s.pingers.Selected(), "fetchers", s.fetcherNames())
	return id, nil
}

// Stop asks a running scan to finish the hosts in flight and stop. It
// reports whether a scan was running.
func (s *ScannerService) Stop() bool {
	if !s.machine.InState(scanning.StateScanning) {
		return false
	}
	s.markSession(func(sess *session) { sess.stopped = true })
	s.machine.Stop()
	return true
}

// Kill interrupts every probe of a running or stopping scan. It reports
// whether there was a scan to kill.
func (s *ScannerService) Kill() bool {
	switch s.machine.State() {
	case scanning.StateScanning, scanning.StateStopping:
	default:
		return false
	}
	s.markSession(func(sess *session) { sess.stopped = true })
	s.machine.Stop()
	s.machine.Kill()
	return true
}

func (s *ScannerService) markSession(fn func(*session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		fn(s.session)
	}
}

// SetSelectedFetchers changes the fetcher selection. While a scan runs the
// change is kept and applied once it completes, reported by applied=false.
func (s *ScannerService) SetSelectedFetchers(ids []scanning.FetcherID) (applied bool, err error) {
	for _, id := range ids {
		if _, ok := s.registry.Get(id); !ok {
			return false, errors.ErrUnknownFetcher(id.String())
		}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.machine.InState(scanning.StateIdle) {
		s.mu.Lock()
		s.pending = append([]scanning.FetcherID(nil), ids...)
		s.mu.Unlock()
		s.logger.Info("Fetcher selection deferred until the scan completes")
		return false, nil
	}
	return true, s.applySelection(ids)
}

func (s *ScannerService) applySelection(ids []scanning.FetcherID) error {
	if err := s.registry.Select(ids); err != nil {
		return err
	}
	names := make([]string, 0, len(ids))
	for _, id := range s.registry.SelectedIDs() {
		names = append(names, id.String())
	}
	s.cfg.SelectedFetchers = names
	return nil
}

// Results returns the rows of the current or last scan. DEAD rows are left
// out unless includeDead.
func (s *ScannerService) Results(includeDead bool) []ResultValue {
	columns := s.results.Fetchers()
	rows := s.results.Results()
	out := make([]ResultValue, 0, len(rows))
	for _, r := range rows {
		if !includeDead && r.Type() == scanning.ResultDead {
			continue
		}
		out = append(out, newResultValue(r, columns))
	}
	return out
}

// Info summarizes the rows of the current or last scan.
func (s *ScannerService) Info() scanning.ScanInfo {
	return s.results.Info()
}

// Status reports the engine state with the current scan, if any.
func (s *ScannerService) Status() Status {
	st := Status{State: s.machine.State().String()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.session; sess != nil {
		st.ScanID = sess.id
		st.Range = sess.feeder.Info()
		st.StartedAt = sess.started
		if sess.last != nil {
			p := *sess.last
			st.Progress = &p
		}
	}
	return st
}

// OnComplete registers fn to run once per finished scan. Callbacks run
// before the engine is back in IDLE and must not start a scan themselves.
func (s *ScannerService) OnComplete(fn func(Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = append(s.onComplete, fn)
}

// Subscribe registers fn for every published event and returns a function
// that unregisters it.
func (s *ScannerService) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Wait blocks until the current scan finished or ctx is done.
func (s *ScannerService) Wait(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close kills a running scan and waits for it to finish.
func (s *ScannerService) Close(ctx context.Context) error {
	s.Kill()
	return s.Wait(ctx)
}

// TransitionTo drives the engine through the scan lifecycle.
func (s *ScannerService) TransitionTo(state scanning.State, transition scanning.Transition) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		s.publish(Event{Type: EventState, ScanID: sess.id, State: state.String(), Transition: transition.String()})
	}
	if sess == nil {
		return
	}

	switch state {
	case scanning.StateStarting, scanning.StateRestarting:
		if err := s.prepare(sess, transition); err != nil {
			s.mu.Lock()
			s.startErr = err
			s.mu.Unlock()
			s.machine.Reset()
			return
		}
		s.machine.StartScanning()

	case scanning.StateScanning:
		go sess.dispatcher.Run()

	case scanning.StateStopping:
		s.scheduleKill(sess)

	case scanning.StateKilling:
		s.mu.Lock()
		sess.killed = true
		s.mu.Unlock()
		sess.logger.Warn("Killing scan")

	case scanning.StateComplete:
		s.complete(sess)

	case scanning.StateIdle:
		s.stopKillTimer()
		sess.finish()
	}
}

func (s *ScannerService) prepare(sess *session, transition scanning.Transition) error {
	if transition != scanning.TransitionContinue {
		s.results.Clear()
	}
	s.results.InitNewScan()

	if err := s.scanner.Init(); err != nil {
		return err
	}

	d, err := scanning.NewDispatcher(sess.ctx, scanning.DispatcherConfig{
		Config:   s.cfg,
		Feeder:   sess.feeder,
		Scanner:  s.scanner,
		Machine:  s.machine,
		Results:  s.results,
		Callback: s,
		Progress: s.progressFunc(sess),
		Metrics:  s.metrics,
		Logger:   sess.logger,
	})
	if err != nil {
		s.scanner.Cleanup()
		return err
	}

	s.mu.Lock()
	sess.dispatcher = d
	sess.started = time.Now()
	s.mu.Unlock()
	return nil
}

// scheduleKill escalates a stop that takes longer than KillDelay.
func (s *ScannerService) scheduleKill(sess *session) {
	delay := s.cfg.KillDelay
	if delay <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killTimer != nil {
		s.killTimer.Stop()
	}
	s.killTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current := s.session
		s.mu.Unlock()
		if current != sess || !s.machine.InState(scanning.StateStopping) {
			return
		}
		sess.logger.Warn("Scan did not stop in time, killing", "delay", delay)
		s.machine.Kill()
	})
}

func (s *ScannerService) stopKillTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killTimer != nil {
		s.killTimer.Stop()
		s.killTimer = nil
	}
}

func (s *ScannerService) complete(sess *session) {
	s.stopKillTimer()
	s.results.MarkFinished()

	s.mu.Lock()
	if sess.completed {
		s.mu.Unlock()
		return
	}
	sess.completed = true
	status := StatusCompleted
	switch {
	case sess.killed:
		status = StatusKilled
	case sess.stopped:
		status = StatusStopped
	}
	callbacks := append([]func(Summary){}, s.onComplete...)
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	info := s.results.Info()
	summary := Summary{
		ScanID:     sess.id,
		Kind:       kindName(sess.kind),
		Status:     status,
		Range:      sess.feeder.Info(),
		Hosts:      info.Hosts,
		Alive:      info.Alive,
		WithPorts:  info.WithPorts,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
		Duration:   info.FinishedAt.Sub(info.StartedAt),
	}

	s.metrics.IncrementScansTotal(summary.Kind, status)
	s.metrics.RecordScanDuration(summary.Kind, summary.Duration)
	sess.logger.Info("Scan complete", "status", status, "hosts", summary.Hosts,
		"alive", summary.Alive, "with_ports", summary.WithPorts, "duration", summary.Duration)

	for _, fn := range callbacks {
		fn(summary)
	}
	s.publish(Event{Type: EventComplete, ScanID: sess.id, Summary: &summary})

	if pending != nil {
		if err := s.applySelection(pending); err != nil {
			sess.logger.Error("Failed to apply deferred fetcher selection", "error", err)
		}
	}
}

func (s *ScannerService) progressFunc(sess *session) scanning.ProgressFunc {
	return func(current netip.Addr, active int, percent float64) {
		p := Progress{ScanID: sess.id, ActiveWorkers: active, Percent: percent}
		if current.IsValid() {
			p.Current = current.String()
		}
		s.mu.Lock()
		sess.last = &p
		s.mu.Unlock()

		if sess.progress != nil {
			sess.progress(p)
		}
		s.publish(Event{Type: EventProgress, ScanID: sess.id, Progress: &p})
	}
}

// PrepareForResults registers the row before its host is scanned.
func (s *ScannerService) PrepareForResults(r *scanning.Result) {
	if !s.results.IsRegistered(r) {
		if err := s.results.Register(r); err != nil {
			s.logger.WithTarget(r.Addr().String()).Debug("Result already registered")
		}
	}
}

// ConsumeResults publishes a finished row.
func (s *ScannerService) ConsumeResults(r *scanning.Result) {
	s.results.Update(r)
	s.metrics.IncrementHosts(r.Type().String())

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	rv := newResultValue(r, s.results.Fetchers())
	s.publish(Event{Type: EventResult, ScanID: sess.id, Result: &rv})
}

func (s *ScannerService) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.mu.Lock()
	subs := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (s *ScannerService) fetcherNames() string {
	ids := s.registry.SelectedIDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return strings.Join(names, ",")
}

func kindName(t scanning.Transition) string {
	return strings.ToLower(t.String())
}
