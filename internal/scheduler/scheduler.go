// Package scheduler runs recurring rescans of fixed address ranges. Each job
// is a cron entry that starts a rescan when the engine is idle and skips the
// tick otherwise.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/scanning"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// Standard five-field cron expressions plus descriptors such as @hourly.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Runner is the part of the scanner service the scheduler drives.
type Runner interface {
	State() scanning.State
	Rescan(ctx context.Context, start, end, portSpec string, progress services.ProgressSink) (string, error)
}

// Scheduler manages scheduled rescans.
type Scheduler struct {
	runner Runner
	logger *logging.Logger
	cron   *cron.Cron
	jobs   map[string]*ScheduledJob

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// ScheduledJob is a configured job and its run bookkeeping.
type ScheduledJob struct {
	Config     config.ScheduledScan
	CronID     cron.EntryID
	LastRun    time.Time
	LastScanID string
	LastError  string
	Runs       int
	Skips      int
}

// JobInfo is a snapshot of a job for listing.
type JobInfo struct {
	Name       string    `json:"name"`
	Cron       string    `json:"cron"`
	Range      string    `json:"range"`
	Ports      string    `json:"ports,omitempty"`
	NextRun    time.Time `json:"next_run,omitzero"`
	LastRun    time.Time `json:"last_run,omitzero"`
	LastScanID string    `json:"last_scan_id,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Runs       int       `json:"runs"`
	Skips      int       `json:"skips"`
}

// NewScheduler creates a scheduler over runner.
func NewScheduler(runner Runner, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner: runner,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		jobs:   make(map[string]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start loads jobs and begins the cron loop.
func (s *Scheduler) Start(jobs []config.ScheduledScan) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.mu.Unlock()

	if err := s.Reload(jobs); err != nil {
		return fmt.Errorf("failed to load scheduled jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the cron loop and waits for ticks in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Reload replaces every job with jobs. Nothing changes when any job is
// invalid.
func (s *Scheduler) Reload(jobs []config.ScheduledScan) error {
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if err := validateJob(job); err != nil {
			return err
		}
		if _, dup := seen[job.Name]; dup {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"duplicate scheduled job name", "schedule.jobs.name", job.Name)
		}
		seen[job.Name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, job := range s.jobs {
		s.cron.Remove(job.CronID)
		delete(s.jobs, name)
	}
	for _, job := range jobs {
		if err := s.addLocked(job); err != nil {
			return err
		}
	}

	s.logger.Info("Scheduled jobs loaded", "jobs", len(s.jobs))
	return nil
}

// AddJob schedules one more job.
func (s *Scheduler) AddJob(job config.ScheduledScan) error {
	if err := validateJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"duplicate scheduled job name", "schedule.jobs.name", job.Name)
	}
	return s.addLocked(job)
}

// RemoveJob unschedules the named job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return errors.ErrConfigInvalid("schedule.jobs.name", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed scheduled job", "job", name)
	return nil
}

// Jobs lists the scheduled jobs ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		infos = append(infos, JobInfo{
			Name:       job.Config.Name,
			Cron:       job.Config.Cron,
			Range:      job.Config.Start + " - " + job.Config.End,
			Ports:      job.Config.Ports,
			NextRun:    s.cron.Entry(job.CronID).Next,
			LastRun:    job.LastRun,
			LastScanID: job.LastScanID,
			LastError:  job.LastError,
			Runs:       job.Runs,
			Skips:      job.Skips,
		})
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return errors.ErrConfigInvalid("schedule.jobs.name", name)
	}
	s.execute(name)
	return nil
}

func (s *Scheduler) addLocked(job config.ScheduledScan) error {
	name := job.Name
	id, err := s.cron.AddFunc(job.Cron, func() { s.execute(name) })
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression for job %q", name), err)
	}
	s.jobs[name] = &ScheduledJob{Config: job, CronID: id}

	s.logger.Debug("Added scheduled job", "job", name, "cron", job.Cron,
		"range", job.Start+" - "+job.End)
	return nil
}

// execute runs one tick of the named job.
func (s *Scheduler) execute(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	cfg := job.Config
	job.LastRun = time.Now()
	ctx := s.ctx
	s.mu.Unlock()

	logger := s.logger.WithFields("job", name)

	if st := s.runner.State(); st != scanning.StateIdle {
		logger.Info("Skipping scheduled scan, engine busy", "state", st.String())
		s.record(name, func(j *ScheduledJob) { j.Skips++ })
		return
	}

	id, err := s.runner.Rescan(ctx, cfg.Start, cfg.End, cfg.Ports, nil)
	switch {
	case errors.IsCode(err, errors.CodeScanInProgress):
		logger.Info("Skipping scheduled scan, engine busy")
		s.record(name, func(j *ScheduledJob) { j.Skips++ })
	case err != nil:
		logger.Error("Scheduled scan failed to start", "error", err)
		s.record(name, func(j *ScheduledJob) {
			j.Runs++
			j.LastError = err.Error()
		})
	default:
		logger.Info("Scheduled scan started", "scan_id", id)
		s.record(name, func(j *ScheduledJob) {
			j.Runs++
			j.LastScanID = id
			j.LastError = ""
		})
	}
}

func (s *Scheduler) record(name string, fn func(*ScheduledJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[name]; ok {
		fn(job)
	}
}

func validateJob(job config.ScheduledScan) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"scheduled job name is required", "schedule.jobs.name", job.Name)
	}
	if _, err := parser.Parse(job.Cron); err != nil {
		return errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression for job %q", job.Name), err)
	}
	if job.Start == "" || job.End == "" {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"scheduled job range is required", "schedule.jobs.start", job.Name)
	}
	return nil
}

// cronLogger routes cron's own messages into the structured logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
