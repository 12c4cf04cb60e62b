package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/sprite/internal/middleware"
	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/pool"
	"github.com/nao1215/sprite/internal/scheduler"
	"github.com/nao1215/sprite/internal/spider"
	"github.com/nao1215/sprite/internal/stats"
)

// DefaultBackoff is how long an idle crawl loop sleeps before polling
// an empty scheduler again.
const DefaultBackoff = 50 * time.Millisecond

// Downloader fetches requests. *download.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, req *model.Request) (*model.Response, error)
	Close()
}

// Engine drives one crawl.
type Engine struct {
	id         string
	spider     spider.Spider
	sched      scheduler.Scheduler
	downloader Downloader
	mw         *middleware.Manager
	pool       *pool.Pool
	slot       *scheduler.Slot
	workerNum  int
	counter    *stats.CrawlerCounter
	metrics    *stats.Metrics
	logger     *slog.Logger
	backoff    time.Duration
	closers    []func() error

	mu     sync.Mutex
	state  State
	resume chan struct{}

	ownPool   bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPool runs the crawl loops on p. A pool that is not running is
// started by Run and stopped by Close.
func WithPool(p *pool.Pool) Option {
	return func(e *Engine) {
		if p != nil {
			e.pool = p
		}
	}
}

// WithSlot shares an in-flight tracker between engines.
func WithSlot(s *scheduler.Slot) Option {
	return func(e *Engine) {
		if s != nil {
			e.slot = s
		}
	}
}

// WithWorkerNum sets the number of concurrent crawl loops.
func WithWorkerNum(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workerNum = n
		}
	}
}

// WithCounter sets the crawl counter.
func WithCounter(c *stats.CrawlerCounter) Option {
	return func(e *Engine) {
		if c != nil {
			e.counter = c
		}
	}
}

// WithMetrics exports queue and pool gauges to m.
func WithMetrics(m *stats.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBackoff sets the empty-queue poll interval.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoff = d
		}
	}
}

// WithCloser registers a function run at the end of Close, for
// resources built alongside the engine such as a redis client.
func WithCloser(fn func() error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.closers = append(e.closers, fn)
		}
	}
}

// New creates a stopped engine. mw may be nil.
func New(s spider.Spider, sched scheduler.Scheduler, d Downloader, mw *middleware.Manager, opts ...Option) *Engine {
	if mw == nil {
		mw = middleware.NewManager()
	}
	e := &Engine{
		id:         uuid.NewString(),
		spider:     s,
		sched:      sched,
		downloader: d,
		mw:         mw,
		workerNum:  1,
		logger:     slog.Default(),
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.slot == nil {
		e.slot = scheduler.NewSlot()
	}
	if e.counter == nil {
		e.counter = stats.NewCrawlerCounter(s.Name(), stats.WithMetrics(e.metrics), stats.WithCounterLogger(e.logger))
	}
	if e.pool == nil {
		e.pool = pool.New(pool.WithMaxWorkers(e.workerNum), pool.WithLogger(e.logger))
	}
	e.logger = e.logger.With("spider", s.Name(), "crawl_id", e.id)
	return e
}

// ID returns the crawl identifier.
func (e *Engine) ID() string {
	return e.id
}

// Name returns the spider name.
func (e *Engine) Name() string {
	return e.spider.Name()
}

// Summary returns the crawl counts so far.
func (e *Engine) Summary() stats.Summary {
	return e.counter.Summary()
}

// Counter returns the crawl counter.
func (e *Engine) Counter() *stats.CrawlerCounter {
	return e.counter
}

// Run starts the crawl and blocks until it finishes, is stopped or ctx
// is done. Run closes the engine before returning; an Engine runs once.
func (e *Engine) Run(ctx context.Context) error {
	e.mustTransition(StateRunning, StateStopped)
	return e.run(ctx)
}

// run is the body of Run for an engine already moved to StateRunning.
func (e *Engine) run(ctx context.Context) (err error) {
	e.counter.Start()
	e.logger.Info("crawl started", "workers", e.workerNum)

	defer func() {
		closeErr := e.Close(context.WithoutCancel(ctx))
		err = errors.Join(err, closeErr)
		s := e.counter.Summary()
		e.logger.Info("crawl finished",
			"downloaded", s.Downloaded,
			"failed", s.Failed,
			"items", s.Items,
			"duration", s.Duration(),
		)
	}()

	if !e.pool.IsRunning() {
		if err := e.pool.Start(); err != nil {
			return fmt.Errorf("start pool: %w", err)
		}
		e.ownPool = true
	}
	if err := e.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := e.mw.ProcessSpiderStart(ctx, e.spider); err != nil {
		return fmt.Errorf("spider start hooks: %w", err)
	}

	e.handle(ctx, e.spider.StartRequests(ctx), nil)
	if !e.sched.HasPending(ctx) {
		return ErrNoStartRequests
	}

	handles, err := e.startLoops(ctx)
	for _, h := range handles {
		if _, werr := h.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			err = errors.Join(err, werr)
		}
	}
	return err
}

// startLoops submits the crawl loops, retrying while the pool is
// exhausted.
func (e *Engine) startLoops(ctx context.Context) ([]*pool.Handle, error) {
	handles := make([]*pool.Handle, 0, e.workerNum)
	for i := range e.workerNum {
		for {
			h, err := e.pool.Go(func(taskCtx context.Context) error {
				loopCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				stop := context.AfterFunc(taskCtx, cancel)
				defer stop()
				return e.loop(loopCtx, i)
			})
			if err == nil {
				handles = append(handles, h)
				break
			}
			if !errors.Is(err, pool.ErrPoolExhausted) {
				return handles, fmt.Errorf("submit crawl loop: %w", err)
			}
			if serr := sleep(ctx, e.backoff); serr != nil {
				return handles, serr
			}
		}
	}
	return handles, nil
}

// loop pulls and crawls requests until the engine stops or the crawl is
// exhausted: the scheduler is empty and no request is in flight.
func (e *Engine) loop(ctx context.Context, id int) error {
	name := e.spider.Name()
	logger := e.logger.With("loop", id)
	logger.Debug("crawl loop started")
	defer logger.Debug("crawl loop exited")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch e.waitRunnable(ctx) {
		case StateStopped:
			return nil
		case StatePaused:
			return ctx.Err()
		}

		// The slot is held across Next so a concurrent loop never sees
		// an empty queue and zero in-flight while a popped request is
		// about to be crawled.
		e.slot.Begin(name)
		req, err := e.sched.Next(ctx)
		if err != nil {
			e.slot.End(name)
			if errors.Is(err, scheduler.ErrQueueEmpty) {
				if e.slot.Pending(name) == 0 && !e.sched.HasPending(ctx) {
					return nil
				}
				if serr := sleep(ctx, e.backoff); serr != nil {
					return serr
				}
				continue
			}
			if errors.Is(err, scheduler.ErrSchedulerClosed) {
				return nil
			}
			logger.Error("scheduler failed", "error", err)
			if serr := sleep(ctx, e.backoff); serr != nil {
				return serr
			}
			continue
		}

		e.crawl(ctx, req)
		e.slot.End(name)
		e.metrics.SetQueue(name, e.sched.Len(ctx), e.slot.Pending(name))
		e.metrics.SetWorkers(e.pool.Workers())
	}
}

// waitRunnable blocks while the engine is paused and returns the state
// it observed last. StatePaused is returned only when ctx ends the wait.
func (e *Engine) waitRunnable(ctx context.Context) State {
	for {
		e.mu.Lock()
		state, resume := e.state, e.resume
		e.mu.Unlock()

		if state != StatePaused {
			return state
		}
		select {
		case <-resume:
		case <-ctx.Done():
			return StatePaused
		}
	}
}

// Stop asks the crawl loops to exit after their current request.
// It panics unless the engine is running or paused.
func (e *Engine) Stop() {
	e.mustTransition(StateStopped, StateRunning, StatePaused)
	e.logger.Info("crawl stopping")
}

// Pause suspends the crawl loops before their next request.
// It panics unless the engine is running.
func (e *Engine) Pause() {
	e.mustTransition(StatePaused, StateRunning)
	e.logger.Info("crawl paused")
}

// Reduction resumes a paused crawl.
// It panics unless the engine is paused.
func (e *Engine) Reduction() {
	e.mustTransition(StateRunning, StatePaused)
	e.logger.Info("crawl resumed")
}

// Close shuts the crawl down: it stops the scheduler (persisting what is
// left when enabled), waits for in-flight requests, closes the
// downloader, runs the spider close hooks and stops the pool. Only the
// first call does anything.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.transition(StateStopped, StateRunning, StatePaused)
		name := e.spider.Name()

		var errs []error
		if err := e.sched.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close scheduler: %w", err))
		}
		if err := e.slot.Drain(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
		e.downloader.Close()
		if err := e.mw.ProcessSpiderClose(ctx, e.spider); err != nil {
			errs = append(errs, fmt.Errorf("spider close hooks: %w", err))
		}
		if e.ownPool {
			if err := e.pool.Shutdown(ctx); err != nil && !errors.Is(err, pool.ErrPoolNotRunning) {
				errs = append(errs, fmt.Errorf("stop pool: %w", err))
			}
		}
		for _, fn := range e.closers {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		e.counter.Finish()
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
