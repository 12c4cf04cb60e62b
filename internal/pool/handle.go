package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is a unit of work. It must return promptly once ctx is cancelled.
type Task func(ctx context.Context) (any, error)

const (
	handlePending int32 = iota
	handleRunning
	handleDone
)

// Handle tracks one submitted task.
type Handle struct {
	task   Task
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	state atomic.Int32
	done  chan struct{}

	mu        sync.Mutex
	value     any
	err       error
	callbacks []func(*Handle)
}

func newHandle(parent context.Context, task Task, logger *slog.Logger, callbacks []func(*Handle)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		task:      task,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		done:      make(chan struct{}),
		callbacks: callbacks,
	}
}

// Done is closed once the task has finished, failed or been cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the task outcome. It is only meaningful after Done is closed.
func (h *Handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

// Err returns the task error after completion.
func (h *Handle) Err() error {
	_, err := h.Result()
	return err
}

// Cancel cancels the task. A task that has not started resolves with
// ErrTaskCancelled and never runs; a running task sees its context
// cancelled and is expected to return.
func (h *Handle) Cancel() {
	if h.state.CompareAndSwap(handlePending, handleDone) {
		h.resolve(nil, ErrTaskCancelled)
	}
	h.cancel()
}

// Cancelled reports whether the task resolved without running.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.done:
		return errors.Is(h.Err(), ErrTaskCancelled)
	default:
		return false
	}
}

// claim marks the handle as running. It fails when the handle was
// cancelled while queued.
func (h *Handle) claim() bool {
	return h.state.CompareAndSwap(handlePending, handleRunning)
}

func (h *Handle) resolve(value any, err error) {
	h.mu.Lock()
	h.value = value
	h.err = err
	callbacks := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	h.state.Store(handleDone)
	close(h.done)
	h.cancel()

	for _, cb := range callbacks {
		h.runCallback(cb)
	}
}

func (h *Handle) runCallback(cb func(*Handle)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("done callback panicked", "panic", r)
		}
	}()
	cb(h)
}
