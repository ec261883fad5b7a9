package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when triggering a job on a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobNotFound is returned for an unregistered job name
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when a job name is registered twice
	ErrDuplicateJob = errors.New("job already registered")

	// ErrJobRunning is returned when a job is triggered while a run is in flight
	ErrJobRunning = errors.New("job already running")

	// ErrInvalidSchedule is returned for an unparsable cron spec
	ErrInvalidSchedule = errors.New("invalid cron schedule")

	// ErrSkipped is returned by a job that decided not to do any work.
	// The run is recorded as skipped rather than failed.
	ErrSkipped = errors.New("job skipped")
)
