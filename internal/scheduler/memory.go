package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nao1215/sprite/internal/model"
)

const (
	// DefaultCapacity sizes the first filter layer.
	DefaultCapacity = 100000
	// DefaultErrorRate is the filter false-positive target.
	DefaultErrorRate = 0.001
)

// MemoryScheduler is an in-process priority queue with a bloom-filter
// deduplication set. All state is guarded by one mutex.
type MemoryScheduler struct {
	capacity  int
	errorRate float64
	logger    *slog.Logger

	persist  bool
	jobDir   string
	name     string
	resolver CallbackResolver

	mu     sync.Mutex
	state  state
	queue  priorityQueue
	filter *Filter
}

// MemoryOption configures a MemoryScheduler.
type MemoryOption func(*MemoryScheduler)

// WithCapacity sets the initial filter capacity.
func WithCapacity(n int) MemoryOption {
	return func(s *MemoryScheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithErrorRate sets the filter false-positive target.
func WithErrorRate(rate float64) MemoryOption {
	return func(s *MemoryScheduler) {
		if rate > 0 && rate < 1 {
			s.errorRate = rate
		}
	}
}

// WithPersistence enables snapshots in jobDir under name. resolver
// validates callbacks of reloaded requests and may be nil to accept all.
func WithPersistence(jobDir, name string, resolver CallbackResolver) MemoryOption {
	return func(s *MemoryScheduler) {
		s.persist = true
		s.jobDir = jobDir
		s.name = name
		s.resolver = resolver
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemory creates a memory scheduler. It must be started before use.
func NewMemory(opts ...MemoryOption) *MemoryScheduler {
	s := &MemoryScheduler{
		capacity:  DefaultCapacity,
		errorRate: DefaultErrorRate,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start resets the queue and filter, then reloads a snapshot when
// persistence is enabled. Reload problems are logged, never returned.
func (s *MemoryScheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateRunning {
		return ErrSchedulerRunning
	}
	s.queue = priorityQueue{}
	s.filter = NewFilter(s.capacity, s.errorRate)
	s.state = stateRunning

	if s.persist {
		s.restoreLocked()
	}
	return nil
}

func (s *MemoryScheduler) restoreLocked() {
	filterPath := FilterPath(s.jobDir, s.name)
	if f, err := loadFilter(filterPath); err == nil {
		s.filter = f
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to load dedup filter, starting empty", "path", filterPath, "error", err)
	}

	path := SnapshotPath(s.jobDir, s.name)
	reqs, bad, err := LoadSnapshot(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to load scheduler snapshot", "path", path, "error", err)
		}
		if len(reqs) == 0 {
			return
		}
	}
	if bad > 0 {
		s.logger.Warn("skipped undecodable snapshot entries", "path", path, "count", bad)
	}

	// Snapshot entries were marked seen when first enqueued, so they are
	// checked against each other rather than against the restored filter.
	seen := make(map[string]struct{}, len(reqs))
	restored := 0
	for _, r := range reqs {
		if r.Callback != "" && s.resolver != nil && !s.resolver(r.Callback) {
			s.logger.Warn("dropping restored request with unknown callback", "url", r.URL, "callback", r.Callback)
			continue
		}
		if !r.DontFilter {
			fp := r.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			s.filter.Add(fp)
		}
		s.queue.push(r)
		restored++
	}

	for _, p := range []string{path, filterPath} {
		if err := removeIfExists(p); err != nil {
			s.logger.Warn("failed to remove snapshot file", "path", p, "error", err)
		}
	}
	s.logger.Info("restored pending requests", "name", s.name, "count", restored)
}

// Enqueue adds req unless its identity was already seen.
func (s *MemoryScheduler) Enqueue(_ context.Context, req *model.Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return false, ErrSchedulerClosed
	}
	if !req.DontFilter && s.filter.TestAndAdd(req.Fingerprint()) {
		return false, nil
	}
	s.queue.push(req)
	return true, nil
}

// Next pops the highest priority request.
func (s *MemoryScheduler) Next(_ context.Context) (*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil, ErrSchedulerClosed
	}
	req, ok := s.queue.pop()
	if !ok {
		return nil, ErrQueueEmpty
	}
	return req, nil
}

// HasPending reports whether any request is queued.
func (s *MemoryScheduler) HasPending(ctx context.Context) bool {
	return s.Len(ctx) > 0
}

// Len returns the number of queued requests.
func (s *MemoryScheduler) Len(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Seen returns the number of identities recorded by the filter.
func (s *MemoryScheduler) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return 0
	}
	return s.filter.Len()
}

// Close stops the scheduler. With persistence the remaining requests and
// the filter are written to the job directory; failures are logged.
func (s *MemoryScheduler) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil
	}
	s.state = stateClosed

	pending := s.queue.drain()
	if !s.persist {
		return nil
	}
	if err := s.persistLocked(pending); err != nil {
		s.logger.Error("failed to persist scheduler state", "name", s.name, "error", err)
	}
	return nil
}

func (s *MemoryScheduler) persistLocked(pending []*model.Request) error {
	if err := saveFilter(FilterPath(s.jobDir, s.name), s.filter); err != nil {
		return fmt.Errorf("save filter: %w", err)
	}
	if len(pending) == 0 {
		return removeIfExists(SnapshotPath(s.jobDir, s.name))
	}
	if err := SaveSnapshot(SnapshotPath(s.jobDir, s.name), pending); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.logger.Info("saved pending requests", "name", s.name, "count", len(pending))
	return nil
}
