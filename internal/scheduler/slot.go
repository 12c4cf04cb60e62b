package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// Slot counts in-flight requests per crawl name.
type Slot struct {
	mu      sync.Mutex
	counts  map[string]int
	waiters map[string]chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{
		counts:  make(map[string]int),
		waiters: make(map[string]chan struct{}),
	}
}

// Begin marks one request of name as in flight.
func (s *Slot) Begin(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[name]++
}

// End marks one request of name as finished. Calling End more often than
// Begin is a programming error and panics.
func (s *Slot) End(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.counts[name]
	if n <= 0 {
		panic(fmt.Sprintf("scheduler: Slot.End(%q) without matching Begin", name))
	}
	n--
	if n > 0 {
		s.counts[name] = n
		return
	}
	delete(s.counts, name)
	if ch, ok := s.waiters[name]; ok {
		close(ch)
		delete(s.waiters, name)
	}
}

// Pending returns the in-flight count of name.
func (s *Slot) Pending(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// Len returns the in-flight count across all names.
func (s *Slot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Drain blocks until the in-flight count of name reaches zero or ctx is done.
func (s *Slot) Drain(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.counts[name] == 0 {
		s.mu.Unlock()
		return nil
	}
	ch, ok := s.waiters[name]
	if !ok {
		ch = make(chan struct{})
		s.waiters[name] = ch
	}
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
