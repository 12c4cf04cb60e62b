package scheduler

import (
	"context"

	"github.com/nao1215/sprite/internal/model"
)

// Scheduler is the request queue contract used by the engine.
type Scheduler interface {
	// Start prepares the scheduler and reloads persisted requests.
	Start(ctx context.Context) error

	// Enqueue adds a request. accepted is false when the request was
	// dropped as a duplicate, which is not an error.
	Enqueue(ctx context.Context, req *model.Request) (accepted bool, err error)

	// Next pops the next request, or returns ErrQueueEmpty.
	Next(ctx context.Context) (*model.Request, error)

	// HasPending reports whether any request is queued.
	HasPending(ctx context.Context) bool

	// Len returns the number of queued requests.
	Len(ctx context.Context) int

	// Close stops the scheduler and persists what is left when
	// persistence is enabled. Closing twice is a no-op.
	Close(ctx context.Context) error
}

// CallbackResolver reports whether a callback name still exists on the
// spider. Reloaded requests whose callback does not resolve are dropped.
type CallbackResolver func(name string) bool

type state int

const (
	stateIdle state = iota
	stateRunning
	stateClosed
)
