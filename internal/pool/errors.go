package pool

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the pool is not stopped.
	ErrAlreadyRunning = errors.New("pool is already running")

	// ErrPoolNotRunning is returned by Submit and Stop when the pool is not running.
	ErrPoolNotRunning = errors.New("pool is not running")

	// ErrPoolExhausted is returned by Submit when every worker slot is in
	// use and the chosen inbox is full. The caller may retry later.
	ErrPoolExhausted = errors.New("pool is exhausted")

	// ErrTaskCancelled resolves a Handle whose task never ran because it
	// was cancelled or the pool stopped first.
	ErrTaskCancelled = errors.New("task cancelled before start")

	// ErrTaskPanicked resolves a Handle whose task panicked.
	ErrTaskPanicked = errors.New("task panicked")
)
