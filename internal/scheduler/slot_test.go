package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSlotDrain(t *testing.T) {
	t.Parallel()

	t.Run("drain waits until every request ended", func(t *testing.T) {
		t.Parallel()

		s := NewSlot()
		const n = 5
		for i := 0; i < n; i++ {
			s.Begin("crawl")
		}

		done := make(chan error, 1)
		go func() { done <- s.Drain(context.Background(), "crawl") }()

		for i := 0; i < n-1; i++ {
			s.End("crawl")
		}
		select {
		case <-done:
			t.Fatal("drain returned before the last request ended")
		case <-time.After(30 * time.Millisecond):
		}

		s.End("crawl")
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("drain did not return after the count reached zero")
		}
	})

	t.Run("drain on idle name returns immediately", func(t *testing.T) {
		t.Parallel()
		if err := NewSlot().Drain(context.Background(), "idle"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("drain honours context", func(t *testing.T) {
		t.Parallel()
		s := NewSlot()
		s.Begin("crawl")
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := s.Drain(ctx, "crawl"); err == nil {
			t.Error("expected context error")
		}
	})

	t.Run("names are independent", func(t *testing.T) {
		t.Parallel()
		s := NewSlot()
		s.Begin("a")
		s.Begin("b")
		s.End("a")
		if err := s.Drain(context.Background(), "a"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if s.Pending("b") != 1 || s.Len() != 1 {
			t.Errorf("expected b to stay in flight, pending=%d len=%d", s.Pending("b"), s.Len())
		}
	})
}

func TestSlotConcurrentBeginEnd(t *testing.T) {
	t.Parallel()

	s := NewSlot()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Begin("crawl")
				s.End("crawl")
			}
		}()
	}
	wg.Wait()
	if s.Len() != 0 {
		t.Errorf("expected zero in flight, got %d", s.Len())
	}
}

func TestSlotEndWithoutBeginPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewSlot().End("crawl")
}
