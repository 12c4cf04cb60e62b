package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Pool.
type State int32

const (
	// StateStopped is the initial and final state.
	StateStopped State = iota
	// StateRunning accepts submissions.
	StateRunning
	// StateStopping rejects submissions while workers exit.
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Pool is a bounded task execution pool.
type Pool struct {
	maxWorkers     int
	idleTimeout    time.Duration
	inboxSize      int
	releaseDrained bool
	logger         *slog.Logger

	mu      sync.Mutex
	state   State
	workers map[int]*worker
	nextID  int
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	quit    chan struct{}

	wg   sync.WaitGroup
	live atomic.Int64
	peak atomic.Int64
}

// New creates a stopped pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		maxWorkers:  DefaultMaxWorkers,
		idleTimeout: DefaultIdleTimeout,
		inboxSize:   DefaultInboxSize,
		logger:      slog.Default(),
		workers:     make(map[int]*worker),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	close(p.stopped)
	return p
}

// Start transitions the pool from STOPPED to RUNNING and starts the
// maintenance loop.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return ErrAlreadyRunning
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.stopped = make(chan struct{})
	p.quit = make(chan struct{})
	p.state = StateRunning

	p.wg.Add(1)
	go p.maintain(p.quit)

	p.logger.Debug("pool started", "max_workers", p.maxWorkers, "idle_timeout", p.idleTimeout)
	return nil
}

// Submit queues task and returns its handle. done callbacks run after the
// task resolves, in the goroutine that resolved it.
func (p *Pool) Submit(task Task, done ...func(*Handle)) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return nil, ErrPoolNotRunning
	}

	w := p.pickLocked()
	if w == nil {
		return nil, ErrPoolExhausted
	}

	h := newHandle(p.ctx, task, p.logger, done)
	w.pending.Add(1)
	select {
	case w.inbox <- h:
	default:
		w.pending.Add(-1)
		return nil, fmt.Errorf("%w: inbox of worker %d is full", ErrPoolExhausted, w.id)
	}
	return h, nil
}

// Go submits a task that only returns an error.
func (p *Pool) Go(fn func(ctx context.Context) error, done ...func(*Handle)) (*Handle, error) {
	return p.Submit(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}, done...)
}

// pickLocked chooses the worker for the next task: an idle worker if one
// exists, else a new worker while under the cap, else the worker with the
// shortest backlog.
func (p *Pool) pickLocked() *worker {
	var shortest *worker
	for _, w := range p.workers {
		n := w.pending.Load()
		if n == 0 {
			return w
		}
		if shortest == nil || n < shortest.pending.Load() {
			shortest = w
		}
	}
	if int(p.live.Load()) < p.maxWorkers {
		return p.spawnLocked()
	}
	return shortest
}

func (p *Pool) spawnLocked() *worker {
	p.nextID++
	w := newWorker(p.nextID, p.inboxSize)
	p.workers[w.id] = w

	n := p.live.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	p.wg.Add(1)
	go p.run(w)
	return w
}

// retireLocked removes w from the pool and closes its inbox. The worker
// exits once it has consumed what is already queued.
func (p *Pool) retireLocked(w *worker) {
	if _, ok := p.workers[w.id]; !ok {
		return
	}
	delete(p.workers, w.id)
	close(w.inbox)
}

func (p *Pool) run(w *worker) {
	defer func() {
		p.live.Add(-1)
		p.wg.Done()
	}()

	for h := range w.inbox {
		p.execute(w, h)

		if p.releaseDrained && w.pending.Load() == 0 {
			p.mu.Lock()
			if w.pending.Load() == 0 {
				p.retireLocked(w)
			}
			p.mu.Unlock()
		}
	}
}

// execute runs one task. The worker backlog is decremented before the
// handle resolves so a waiter that submits again sees this worker idle.
func (p *Pool) execute(w *worker, h *Handle) {
	finish := func(value any, err error) {
		w.pending.Add(-1)
		w.touch()
		h.resolve(value, err)
	}

	if !h.claim() {
		w.pending.Add(-1)
		return
	}
	if h.ctx.Err() != nil {
		finish(nil, ErrTaskCancelled)
		return
	}

	value, err := p.call(h)
	if err != nil {
		p.logger.Warn("task failed", "worker", w.id, "error", err)
	}
	finish(value, err)
}

func (p *Pool) call(h *Handle) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			value = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return h.task(h.ctx)
}

// maintain retires workers idle for longer than the idle timeout.
// It runs every idle-timeout interval until the pool stops.
func (p *Pool) maintain(quit <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case now := <-ticker.C:
			p.reap(now)
		}
	}
}

func (p *Pool) reap(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	retired := 0
	for _, w := range p.workers {
		if w.pending.Load() == 0 && now.Sub(w.lastActiveTime()) >= p.idleTimeout {
			p.retireLocked(w)
			retired++
		}
	}
	if retired > 0 {
		p.logger.Debug("retired idle workers", "count", retired, "remaining", len(p.workers))
	}
}

// Stop transitions RUNNING to STOPPING, cancels queued and running tasks,
// waits for every worker to exit and then transitions to STOPPED.
func (p *Pool) Stop() error {
	return p.Shutdown(context.Background())
}

// Shutdown is Stop bounded by ctx. When ctx expires first the pool keeps
// stopping in the background and IsStopped(true) can be used to wait.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrPoolNotRunning
	}
	p.state = StateStopping
	p.cancel()
	close(p.quit)
	for _, w := range p.workers {
		p.retireLocked(w)
	}
	stopped := p.stopped
	p.mu.Unlock()

	go func() {
		p.wg.Wait()
		p.mu.Lock()
		p.state = StateStopped
		close(stopped)
		p.mu.Unlock()
		p.logger.Debug("pool stopped")
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsRunning reports whether the pool accepts submissions.
func (p *Pool) IsRunning() bool {
	return p.State() == StateRunning
}

// IsStopped reports whether the pool is stopped. With wait it blocks until
// the pool reaches STOPPED.
func (p *Pool) IsStopped(wait bool) bool {
	p.mu.Lock()
	stopped := p.stopped
	state := p.state
	p.mu.Unlock()

	if !wait {
		return state == StateStopped
	}
	<-stopped
	return true
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	return int(p.live.Load())
}

// Pending returns the number of tasks queued or running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int64
	for _, w := range p.workers {
		n += int64(w.pending.Load())
	}
	return int(n)
}
