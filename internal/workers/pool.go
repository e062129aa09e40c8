// Package workers provides the bounded goroutine pool that runs per-host scan
// pipelines. It is backed by ants and adds the bookkeeping the dispatcher
// needs: an exact count of running jobs, orderly shutdown, and a bounded
// wait for termination.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/homiodev/addon-ipscanner/internal/logging"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for logging.
	Type() string
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobID   string
	JobType string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }
func (j JobFunc) ID() string                        { return j.JobID }
func (j JobFunc) Type() string                      { return j.JobType }

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the maximum number of jobs executing at once.
	Size int
	// ExpiryDuration is how long an idle worker goroutine is kept.
	ExpiryDuration time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:           10,
		ExpiryDuration: 10 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Running   int
	Submitted int64
	Completed int64
	Failed    int64
	Panicked  int64
	Closed    bool
}

// Pool manages a bounded set of concurrently executing jobs.
type Pool struct {
	config Config
	ants   *ants.Pool
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	running   atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64

	mu      sync.Mutex
	closed  bool
	release sync.Once
}

// New creates a new worker pool. Jobs receive a context derived from ctx;
// cancelling ctx or calling Cancel interrupts them.
func New(ctx context.Context, config Config) (*Pool, error) {
	if config.Size <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", config.Size)
	}
	if config.ExpiryDuration <= 0 {
		config.ExpiryDuration = DefaultConfig().ExpiryDuration
	}

	p := &Pool{
		config: config,
		logger: logging.Default().WithComponent("workers"),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	pool, err := ants.NewPool(config.Size,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(false),
		ants.WithPanicHandler(func(v any) {
			p.panicked.Add(1)
			p.logger.Error("Worker panicked", "panic", v)
		}),
	)
	if err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.ants = pool

	p.logger.Debug("Worker pool created", "size", config.Size)
	return p, nil
}

// Submit schedules job for execution. It blocks while all workers are busy.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.running.Add(1)
	p.mu.Unlock()

	p.submitted.Add(1)
	err := p.ants.Submit(func() {
		defer p.wg.Done()
		defer p.running.Add(-1)
		p.execute(job)
	})
	if err != nil {
		p.running.Add(-1)
		p.wg.Done()
		return fmt.Errorf("failed to submit job %s: %w", job.ID(), err)
	}
	return nil
}

func (p *Pool) execute(job Job) {
	start := time.Now()
	if err := job.Execute(p.ctx); err != nil {
		p.failed.Add(1)
		p.logger.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", time.Since(start),
			"error", err)
		return
	}
	p.completed.Add(1)
}

// Running returns the number of jobs currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Size returns the configured concurrency limit.
func (p *Pool) Size() int {
	return p.config.Size
}

// Shutdown stops accepting new jobs. Running jobs continue.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.logger.Debug("Worker pool shutting down", "running", p.Running())
}

// Cancel interrupts running jobs through their context.
func (p *Pool) Cancel() {
	p.cancel()
}

// AwaitTermination waits up to timeout for all submitted jobs to finish and
// reports whether they did. Once drained, the underlying workers are released.
func (p *Pool) AwaitTermination(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.release.Do(func() {
			p.ants.Release()
			p.cancel()
		})
		return true
	case <-timer.C:
		return false
	}
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	return Stats{
		Running:   p.Running(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
		Closed:    closed,
	}
}
