// Package daemon runs the scanner as a long-lived service. It owns the
// scanning engine, the HTTP API and the schedule of recurring rescans, and
// reacts to process signals.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/homiodev/addon-ipscanner/internal/api"
	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/scheduler"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

const (
	// Extra time a stopping scan gets on top of the kill delay.
	stopGrace = 5 * time.Second

	// Time a killed scan gets to unwind.
	killWait = 5 * time.Second

	closeTimeout = 10 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithConfigPath sets the file re-read on SIGHUP.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// WithPIDFile makes the daemon write its PID to path while running.
func WithPIDFile(path string) Option {
	return func(d *Daemon) { d.pidFile = path }
}

// WithService runs the daemon over an existing scanner service.
func WithService(svc *services.ScannerService) Option {
	return func(d *Daemon) { d.service = svc }
}

// WithMetrics sets the metrics registry shared by the engine and the API.
func WithMetrics(pm *metrics.PrometheusMetrics) Option {
	return func(d *Daemon) { d.metrics = pm }
}

// Daemon represents the main daemon process.
type Daemon struct {
	config     *config.Config
	configPath string
	pidFile    string

	service   *services.ScannerService
	apiServer *api.Server
	scheduler *scheduler.Scheduler
	metrics   *metrics.PrometheusMetrics
	logger    *logging.Logger

	signals   chan os.Signal
	stopGrace time.Duration
	ready     chan struct{}
	done      chan struct{}
	mu        sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) *Daemon {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Daemon{
		config:    cfg,
		logger:    logger.WithComponent("daemon"),
		signals:   make(chan os.Signal, 1),
		stopGrace: stopGrace,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.GetGlobalMetrics()
	}
	return d
}

// Run starts every component and blocks until ctx is done, a stop signal
// arrives or the API server fails. A running scan is stopped, and killed
// when it lingers, before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.removePIDFile()

	if d.service == nil {
		svc, err := services.New(&d.config.Scanner, d.logger, services.WithMetrics(d.metrics))
		if err != nil {
			return fmt.Errorf("failed to initialize scanner: %w", err)
		}
		d.service = svc
	}
	d.service.OnComplete(func(sum services.Summary) {
		d.logger.Info("Scan finished", "scan_id", sum.ScanID, "status", sum.Status,
			"hosts", sum.Hosts, "alive", sum.Alive, "duration", sum.Duration)
	})

	d.scheduler = scheduler.NewScheduler(d.service, d.logger)
	if err := d.scheduler.Start(d.config.Schedule.Jobs); err != nil {
		return err
	}

	apiCtx, stopAPI := context.WithCancel(context.Background())
	defer stopAPI()
	apiErr := make(chan error, 1)
	apiDone := make(chan struct{})
	if err := d.startAPI(apiCtx, apiErr, apiDone); err != nil {
		d.scheduler.Stop()
		return err
	}

	signal.Notify(d.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(d.signals)

	d.logger.Info("Daemon started", "pid", os.Getpid(), "api", d.config.IsAPIEnabled(),
		"scheduled_jobs", len(d.config.Schedule.Jobs))
	close(d.ready)

	defer func() {
		d.scheduler.Stop()
		d.stopScan()
		stopAPI()
		<-apiDone

		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := d.service.Close(closeCtx); cerr != nil {
			d.logger.Error("Scanner did not shut down cleanly", "error", cerr)
		}
		d.logger.Info("Daemon stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Shutdown requested")
			return nil
		case err := <-apiErr:
			d.logger.Error("API server failed", "error", err)
			return err
		case sig := <-d.signals:
			if d.handleSignal(sig) {
				return nil
			}
		}
	}
}

func (d *Daemon) startAPI(ctx context.Context, errCh chan<- error, done chan<- struct{}) error {
	if !d.config.IsAPIEnabled() {
		d.logger.Info("API server disabled")
		close(done)
		return nil
	}

	server, err := api.New(d.config, d.service, d.metrics, d.logger)
	if err != nil {
		close(done)
		return fmt.Errorf("API server creation failed: %w", err)
	}
	d.mu.Lock()
	d.apiServer = server
	d.mu.Unlock()

	go func() {
		defer close(done)
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()
	return nil
}

// handleSignal reacts to sig and reports whether the daemon should stop.
func (d *Daemon) handleSignal(sig os.Signal) bool {
	d.logger.Info("Received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		d.logger.Info("Initiating graceful shutdown")
		return true
	case syscall.SIGHUP:
		if err := d.Reload(); err != nil {
			d.logger.Error("Configuration reload failed", "error", err)
		} else {
			d.logger.Info("Configuration reloaded")
		}
	}
	return false
}

// Reload re-reads the configuration file and replaces the scheduled jobs.
// Other settings take effect on the next start.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no configuration file to reload")
	}
	if d.scheduler == nil {
		return fmt.Errorf("daemon is not running")
	}

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := d.scheduler.Reload(newConfig.Schedule.Jobs); err != nil {
		return err
	}

	d.mu.Lock()
	d.config.Schedule = newConfig.Schedule
	d.mu.Unlock()
	return nil
}

// stopScan stops a running scan and escalates to kill when it does not
// finish in time.
func (d *Daemon) stopScan() {
	svc := d.service
	if svc.State() == scanning.StateIdle {
		return
	}
	d.logger.Info("Stopping running scan", "state", svc.State().String())
	svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), svc.Config().KillDelay+d.stopGrace)
	defer cancel()
	if err := svc.Wait(ctx); err == nil {
		return
	}

	d.logger.Warn("Scan did not stop in time, killing")
	svc.Kill()
	kctx, kcancel := context.WithTimeout(context.Background(), killWait)
	defer kcancel()
	if err := svc.Wait(kctx); err != nil {
		d.logger.Error("Scan did not terminate after kill", "error", err)
	}
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Debug("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID fails when the PID file names a live process and removes
// a stale one.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Error removing PID file", "path", d.pidFile, "error", err)
	}
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Ready is closed once every component is running.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Done is closed when Run has returned.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// APIAddress returns the address the API listens on, or "" when disabled.
func (d *Daemon) APIAddress() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.GetAddress()
}

// Service returns the scanner service, available once Run has started.
func (d *Daemon) Service() *services.ScannerService {
	return d.service
}

// Scheduler returns the rescan scheduler, available once Run has started.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
