package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/sprite/internal/log"
)

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()

	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	p := New(opts...)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if p.IsRunning() {
			_ = p.Stop()
		}
	})
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPoolLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("submit before start returns ErrPoolNotRunning", func(t *testing.T) {
		t.Parallel()
		p := New(WithLogger(log.Discard()))
		if _, err := p.Submit(func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrPoolNotRunning) {
			t.Errorf("expected ErrPoolNotRunning, got %v", err)
		}
		if err := p.Stop(); !errors.Is(err, ErrPoolNotRunning) {
			t.Errorf("expected ErrPoolNotRunning from Stop, got %v", err)
		}
		if !p.IsStopped(false) {
			t.Error("new pool should be stopped")
		}
	})

	t.Run("start twice returns ErrAlreadyRunning", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t)
		if err := p.Start(); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("expected ErrAlreadyRunning, got %v", err)
		}
	})

	t.Run("pool can be restarted after stop", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t)
		if err := p.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if p.State() != StateStopped {
			t.Fatalf("expected STOPPED, got %s", p.State())
		}
		if err := p.Start(); err != nil {
			t.Fatalf("restart: %v", err)
		}
		h, err := p.Submit(func(context.Context) (any, error) { return 7, nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if v, err := h.Wait(t.Context()); err != nil || v != 7 {
			t.Errorf("expected 7, got %v %v", v, err)
		}
	})

	t.Run("submit after stop returns ErrPoolNotRunning", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t)
		if err := p.Stop(); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if _, err := p.Submit(func(context.Context) (any, error) { return nil, nil }); !errors.Is(err, ErrPoolNotRunning) {
			t.Errorf("expected ErrPoolNotRunning, got %v", err)
		}
	})
}

func TestPoolSubmit(t *testing.T) {
	t.Parallel()

	t.Run("returns the task result", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t)
		h, err := p.Submit(func(context.Context) (any, error) { return "ok", nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		v, err := h.Wait(t.Context())
		if err != nil || v != "ok" {
			t.Errorf("expected ok, got %v %v", v, err)
		}
	})

	t.Run("task error does not stop the worker", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t, WithMaxWorkers(1))
		boom := errors.New("boom")

		h1, err := p.Submit(func(context.Context) (any, error) { return nil, boom })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		h2, err := p.Go(func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := h1.Wait(t.Context()); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if _, err := h2.Wait(t.Context()); err != nil {
			t.Errorf("expected second task to succeed, got %v", err)
		}
	})

	t.Run("panicking task resolves with ErrTaskPanicked", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t, WithMaxWorkers(1))

		h1, err := p.Submit(func(context.Context) (any, error) { panic("bad page") })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		h2, err := p.Submit(func(context.Context) (any, error) { return 1, nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := h1.Wait(t.Context()); !errors.Is(err, ErrTaskPanicked) {
			t.Errorf("expected ErrTaskPanicked, got %v", err)
		}
		if v, err := h2.Wait(t.Context()); err != nil || v != 1 {
			t.Errorf("worker should survive a panic, got %v %v", v, err)
		}
	})

	t.Run("done callback runs once", func(t *testing.T) {
		t.Parallel()
		p := newTestPool(t)

		var calls atomic.Int32
		called := make(chan struct{})
		_, err := p.Submit(func(context.Context) (any, error) { return nil, nil }, func(h *Handle) {
			if calls.Add(1) == 1 {
				close(called)
			}
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		select {
		case <-called:
		case <-time.After(2 * time.Second):
			t.Fatal("done callback was not called")
		}
		time.Sleep(20 * time.Millisecond)
		if n := calls.Load(); n != 1 {
			t.Errorf("expected 1 callback, got %d", n)
		}
	})
}

func TestPoolNeverExceedsMaxWorkers(t *testing.T) {
	t.Parallel()

	const maxWorkers = 16
	p := newTestPool(t, WithMaxWorkers(maxWorkers))

	var wg sync.WaitGroup
	var ran atomic.Int64
	for i := 0; i < 10000; i++ {
		wg.Add(1)
		_, err := p.Submit(func(context.Context) (any, error) {
			ran.Add(1)
			return nil, nil
		}, func(*Handle) { wg.Done() })
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if n := p.Workers(); n > maxWorkers {
			t.Fatalf("worker count %d exceeds max %d", n, maxWorkers)
		}
	}
	wg.Wait()

	if got := ran.Load(); got != 10000 {
		t.Errorf("expected 10000 tasks to run, got %d", got)
	}
	if peak := p.peak.Load(); peak > maxWorkers {
		t.Errorf("peak worker count %d exceeds max %d", peak, maxWorkers)
	}
}

func TestPoolRetiresIdleWorkers(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithIdleTimeout(50*time.Millisecond))

	h, err := p.Submit(func(context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.Wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return p.Workers() == 0 }) {
		t.Errorf("expected idle worker to be retired, still have %d", p.Workers())
	}
}

func TestPoolReleaseDrained(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithIdleTimeout(time.Hour), WithReleaseDrained(true))

	h, err := p.Submit(func(context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.Wait(t.Context()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return p.Workers() == 0 }) {
		t.Errorf("expected drained worker to exit, still have %d", p.Workers())
	}
}

func TestPoolReusesIdleWorker(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithIdleTimeout(time.Hour))
	for i := 0; i < 5; i++ {
		h, err := p.Submit(func(context.Context) (any, error) { return nil, nil })
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := h.Wait(t.Context()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if n := p.Workers(); n != 1 {
		t.Errorf("sequential tasks should reuse one idle worker, got %d", n)
	}
}

func TestPoolStopCancelsOutstandingTasks(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithMaxWorkers(1))

	started := make(chan struct{})
	running, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	var queuedRan atomic.Bool
	queued, err := p.Submit(func(context.Context) (any, error) {
		queuedRan.Store(true)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !p.IsStopped(false) {
		t.Error("expected pool to be stopped")
	}
	if _, err := running.Wait(t.Context()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected running task to see cancellation, got %v", err)
	}
	if _, err := queued.Wait(t.Context()); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("expected queued task to be cancelled, got %v", err)
	}
	if queuedRan.Load() {
		t.Error("queued task must not run after stop")
	}
	if n := p.Workers(); n != 0 {
		t.Errorf("expected no workers after stop, got %d", n)
	}
}

func TestPoolIsStoppedWaits(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	release := make(chan struct{})
	if _, err := p.Submit(func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waited := make(chan struct{})
	go func() {
		p.IsStopped(true)
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("IsStopped(true) returned before Stop")
	case <-time.After(30 * time.Millisecond):
	}

	stopErr := make(chan error, 1)
	go func() { stopErr <- p.Stop() }()

	select {
	case <-waited:
		t.Fatal("IsStopped(true) returned while a worker was still busy")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("IsStopped(true) did not return after stop")
	}
	if err := <-stopErr; err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestHandleCancel(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithMaxWorkers(1))

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := p.Submit(func(context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	var ran atomic.Bool
	h, err := p.Submit(func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.Cancel()
	close(release)

	if _, err := h.Wait(t.Context()); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("expected ErrTaskCancelled, got %v", err)
	}
	if !h.Cancelled() {
		t.Error("expected handle to report cancellation")
	}

	probe, err := p.Submit(func(context.Context) (any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := probe.Wait(t.Context()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if ran.Load() {
		t.Error("cancelled task must not run")
	}
}

func TestPoolExhausted(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, WithMaxWorkers(1), WithInboxSize(1))

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	block := func(context.Context) (any, error) {
		<-release
		return nil, nil
	}

	if _, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		return block(ctx)
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if _, err := p.Submit(block); err != nil {
		t.Fatalf("second submit should fit the inbox: %v", err)
	}
	if _, err := p.Submit(block); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateStopped:  "STOPPED",
		StateRunning:  "RUNNING",
		StateStopping: "STOPPING",
		State(42):     "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
