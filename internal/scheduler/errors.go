package scheduler

import "errors"

var (
	// ErrQueueEmpty is returned by Next when nothing is pending.
	// It is an expected condition during backpressure, not a fault.
	ErrQueueEmpty = errors.New("request queue is empty")

	// ErrSchedulerClosed is returned when a scheduler that is not running
	// (never started, or already closed) is used.
	ErrSchedulerClosed = errors.New("scheduler is not running")

	// ErrSchedulerRunning is returned by Start on a running scheduler.
	ErrSchedulerRunning = errors.New("scheduler is already running")
)
