package spider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nao1215/sprite/internal/model"
)

// DefaultCallback is the callback used by requests that name none.
const DefaultCallback = "parse"

// Callback handles the response to a request.
// It is called for error responses too; check resp.Err.
type Callback func(ctx context.Context, resp *model.Response) model.Result

// Spider is the crawl definition the engine drives.
type Spider interface {
	// Name identifies the spider in logs, snapshots and stored runs.
	Name() string

	// StartRequests returns the seed requests, usually as a sequence.
	StartRequests(ctx context.Context) model.Result

	// Callback resolves a callback by name. The empty name selects
	// DefaultCallback.
	Callback(name string) (Callback, bool)
}

// Base is an embeddable Spider with a static seed list.
type Base struct {
	name      string
	startURLs []string

	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewBase creates a Base.
func NewBase(name string, startURLs ...string) *Base {
	return &Base{
		name:      name,
		startURLs: startURLs,
		callbacks: make(map[string]Callback),
	}
}

// Name implements Spider.
func (b *Base) Name() string {
	return b.name
}

// StartURLs returns the seed URLs.
func (b *Base) StartURLs() []string {
	return b.startURLs
}

// Register installs cb under name. Empty and already registered names
// are rejected.
func (b *Base) Register(name string, cb Callback) error {
	if name == "" {
		return ErrEmptyName
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.callbacks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCallback, name)
	}
	b.callbacks[name] = cb
	return nil
}

// Callback implements Spider.
func (b *Base) Callback(name string) (Callback, bool) {
	if name == "" {
		name = DefaultCallback
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	cb, ok := b.callbacks[name]
	return cb, ok
}

// Callbacks returns the registered callback names in sorted order.
func (b *Base) Callbacks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.callbacks))
	for name := range b.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartRequests implements Spider. Each start URL becomes a GET request
// with the default callback. URLs that do not parse are reported as
// error results and the rest are still produced.
func (b *Base) StartRequests(_ context.Context) model.Result {
	return model.Sequence(func(yield func(model.Result) bool) {
		for _, raw := range b.startURLs {
			req, err := model.NewRequest(raw)
			if err != nil {
				if !yield(model.ErrorResult(fmt.Errorf("start url: %w", err))) {
					return
				}
				continue
			}
			if !yield(model.RequestResult(req)) {
				return
			}
		}
	})
}

// Resolve returns the callback for req, or ErrUnknownCallback.
func Resolve(s Spider, req *model.Request) (Callback, error) {
	cb, ok := s.Callback(req.Callback)
	if !ok {
		name := req.Callback
		if name == "" {
			name = DefaultCallback
		}
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownCallback, s.Name(), name)
	}
	return cb, nil
}

// Resolver adapts s to a callback validity check, as used when requests
// are reloaded from a snapshot.
func Resolver(s Spider) func(name string) bool {
	return func(name string) bool {
		_, ok := s.Callback(name)
		return ok
	}
}
