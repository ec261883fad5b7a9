// Package scheduler runs the engine's periodic work (auto-sync, queue
// drains, cache sweeps) on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStatus represents the outcome of a job run
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	JobStatusSkipped JobStatus = "SKIPPED"
)

// JobFunc is one unit of periodic work. Returning ErrSkipped marks the run
// as skipped.
type JobFunc func(ctx context.Context) error

// JobRun describes the latest run of a job
type JobRun struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Status      JobStatus  `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	NextRunAt   *time.Time `json:"nextRunAt,omitempty"`
	Runs        int        `json:"runs"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	entryID  cron.EntryID
	running  bool
	last     JobRun
}

// Scheduler manages cron-triggered jobs. A job never overlaps itself: a
// tick that arrives while the previous run is in flight is dropped.
type Scheduler struct {
	config config.SchedulerConfig
	cron   *cron.Cron
	clock  shared.Clock
	logger *zap.Logger

	mu        sync.Mutex
	jobs      map[string]*job
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewScheduler creates a scheduler. Specs accept the standard five-field
// syntax plus descriptors such as "@every 5m" and "@hourly".
func NewScheduler(cfg config.SchedulerConfig, clock shared.Clock, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	log = logger.Component(log, "scheduler")
	return &Scheduler{
		config: cfg,
		clock:  clock,
		logger: log,
		jobs:   make(map[string]*job),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{log.Sugar()}),
			cron.WithChain(cron.Recover(cronLogger{log.Sugar()})),
		),
	}
}

// Register adds a named job on spec. An empty spec registers the job for
// manual triggering only.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	j := &job{name: name, schedule: spec, fn: fn, last: JobRun{Name: name, Schedule: spec}}
	if spec != "" {
		id, err := s.cron.AddFunc(spec, func() { s.tick(j) })
		if err != nil {
			return fmt.Errorf("%w %q for %s: %v", ErrInvalidSchedule, spec, name, err)
		}
		j.entryID = id
	}
	s.jobs[name] = j
	return nil
}

// Start begins firing scheduled jobs. Jobs run with contexts derived from
// ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Strings("jobs", names),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop halts scheduling and waits for in-flight runs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow runs a job immediately and waits for it. It fails with
// ErrJobRunning when the job is already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobRun, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return JobRun{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !s.isRunning {
		s.mu.Unlock()
		return JobRun{}, ErrSchedulerNotRunning
	}
	if j.running {
		s.mu.Unlock()
		return JobRun{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	return s.execute(ctx, j), nil
}

// Runs returns the latest run of every job, ordered by name.
func (s *Scheduler) Runs() []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]JobRun, 0, len(s.jobs))
	for _, j := range s.jobs {
		run := j.last
		if j.entryID != 0 {
			if next := s.cron.Entry(j.entryID).Next; !next.IsZero() {
				next = next.UTC()
				run.NextRunAt = &next
			}
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, k int) bool { return runs[i].Name < runs[k].Name })
	return runs
}

// tick is the cron callback.
func (s *Scheduler) tick(j *job) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	if j.running {
		s.mu.Unlock()
		s.logger.Debug("Job still running, skipping tick", zap.String("job", j.name))
		return
	}
	j.running = true
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.execute(ctx, j)
}

// execute runs j with the job timeout and records the outcome. The caller
// must have set j.running.
func (s *Scheduler) execute(ctx context.Context, j *job) JobRun {
	started := s.clock.Now()
	s.mu.Lock()
	j.last.Status = JobStatusRunning
	j.last.Error = ""
	j.last.StartedAt = &started
	j.last.CompletedAt = nil
	s.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	log := s.logger.With(zap.String("job", j.name))
	log.Debug("Job started")
	err := s.invoke(jobCtx, j)

	completed := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	j.last.Runs++
	j.last.CompletedAt = &completed
	switch {
	case err == nil:
		j.last.Status = JobStatusSuccess
		log.Info("Job completed", zap.Duration("duration", completed.Sub(started)))
	case errors.Is(err, ErrSkipped):
		j.last.Status = JobStatusSkipped
		j.last.Error = err.Error()
		log.Debug("Job skipped", zap.String("reason", err.Error()))
	default:
		j.last.Status = JobStatusFailed
		j.last.Error = err.Error()
		log.Error("Job failed", zap.Error(err))
	}
	return j.last
}

func (s *Scheduler) invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.fn(ctx)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
