package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nao1215/sprite/internal/middleware"
	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
)

// ErrDropItem is returned (usually wrapped with a reason) by a step that
// discards an item. It is not treated as a failure.
var ErrDropItem = errors.New("item dropped")

// Step is one stage of item processing.
type Step interface {
	// Do processes item for the named spider and returns the item for
	// the next step. A nil item drops it.
	Do(ctx context.Context, item model.Item, spiderName string) (model.Item, error)

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline runs steps over items.
//
// Design decision: A step ends the chain for an item by returning nil or
// an error wrapping ErrDropItem, and later steps never see that item. A
// drop is logged at debug level and counted by the engine, not reported
// as a failure, so dedup and validation steps stay quiet.
type Pipeline struct {
	steps []Step

	logger *slog.Logger

	// continueOnError keeps passing the item on after a step fails.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError makes a failing step log its error and hand the
// unchanged item to the next step instead of aborting the item.
//
// Design decision: The default aborts, because a storage step that fails
// usually means later steps would write partial data. Export pipelines
// that write the same item to several sinks turn this on so one broken
// sink does not starve the others.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Process runs every step on item. It returns nil, nil when a step
// drops the item. The context is checked before each step.
func (p *Pipeline) Process(ctx context.Context, item model.Item, s spider.Spider) (model.Item, error) {
	name := ""
	if s != nil {
		name = s.Name()
	}

	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"spider", name,
				"reason", ctx.Err(),
			)
			return nil, ctx.Err()
		default:
		}

		out, err := step.Do(ctx, item, name)
		if errors.Is(err, ErrDropItem) {
			p.logger.Debug("item dropped",
				"step", step.Name(),
				"spider", name,
				"reason", err,
			)
			return nil, nil
		}
		if err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"spider", name,
				"error", err,
			)
			if !p.continueOnError {
				return nil, err
			}
			continue
		}
		if out == nil {
			p.logger.Debug("item dropped", "step", step.Name(), "spider", name)
			return nil, nil
		}
		item = out
	}
	return item, nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}

// Hook registers the pipeline as an item hook.
func (p *Pipeline) Hook() middleware.ItemHook {
	return p.Process
}
