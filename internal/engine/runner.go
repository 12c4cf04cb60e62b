package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/sprite/internal/stats"
)

// DefaultConcurrency is the number of engines a Runner runs at once.
const DefaultConcurrency = 10

// Runner runs several engines concurrently.
//
// It uses errgroup to bound how many engines run at once. A failing
// engine does not cancel the others; its error is logged and returned
// joined with the rest once every engine has finished.
type Runner struct {
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	engines []*Engine
	stopped bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets the maximum number of engines running at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates an empty Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers engines to be run by Run.
func (r *Runner) Add(engines ...*Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, engines...)
}

// Engines returns the registered engines.
func (r *Runner) Engines() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Engine, len(r.engines))
	copy(out, r.engines)
	return out
}

// Run runs every registered engine and returns their summaries in
// registration order, including those of engines that failed.
func (r *Runner) Run(ctx context.Context) ([]stats.Summary, error) {
	engines := r.Engines()
	r.logger.Info("starting crawls",
		"total", len(engines),
		"concurrency", r.concurrency,
	)
	start := time.Now()

	summaries := make([]stats.Summary, len(engines))
	errs := make([]error, len(engines))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, e := range engines {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				summaries[i] = r.skip(ctx, e)
				return nil
			}
			if !r.begin(e) {
				summaries[i] = r.skip(ctx, e)
				return nil
			}
			err := e.run(ctx)
			summaries[i] = e.Summary()
			if err != nil {
				r.logger.Warn("crawl failed", "spider", e.Name(), "error", err)
				errs[i] = fmt.Errorf("%s: %w", e.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines record errors in errs

	r.logger.Info("crawls complete",
		"total", len(engines),
		"elapsed", time.Since(start),
	)
	return summaries, errors.Join(errs...)
}

// begin moves e to StateRunning unless StopAll was called.
func (r *Runner) begin(e *Engine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	e.mustTransition(StateRunning, StateStopped)
	return true
}

// skip releases the resources of an engine that never ran.
func (r *Runner) skip(ctx context.Context, e *Engine) stats.Summary {
	if err := e.Close(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("close skipped crawl", "spider", e.Name(), "error", err)
	}
	r.logger.Info("crawl skipped", "spider", e.Name())
	return e.Summary()
}

// StopAll stops every running or paused engine. Engines that have not
// started yet are skipped by Run.
func (r *Runner) StopAll() {
	r.mu.Lock()
	r.stopped = true
	engines := make([]*Engine, len(r.engines))
	copy(engines, r.engines)
	r.mu.Unlock()

	for _, e := range engines {
		e.transition(StateStopped, StateRunning, StatePaused)
	}
}

// PauseAll pauses every running engine.
func (r *Runner) PauseAll() {
	for _, e := range r.Engines() {
		e.transition(StatePaused, StateRunning)
	}
}

// ResumeAll resumes every paused engine.
func (r *Runner) ResumeAll() {
	for _, e := range r.Engines() {
		e.transition(StateRunning, StatePaused)
	}
}

// States returns the state of each engine keyed by engine ID.
func (r *Runner) States() map[string]State {
	engines := r.Engines()
	out := make(map[string]State, len(engines))
	for _, e := range engines {
		out[e.ID()] = e.State()
	}
	return out
}
