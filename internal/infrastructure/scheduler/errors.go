package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrSyncAlreadyRunning is returned when a sync sweep is already in progress
	ErrSyncAlreadyRunning = errors.New("sync sweep already in progress")

	// ErrRefreshAlreadyRunning is returned when a delivery sweep is already in progress
	ErrRefreshAlreadyRunning = errors.New("delivery sweep already in progress")
)
