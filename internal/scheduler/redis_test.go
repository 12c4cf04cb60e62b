package scheduler

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/sprite/internal/log"
	"github.com/nao1215/sprite/internal/model"
)

func newRedisScheduler(t *testing.T, mr *miniredis.Miniredis, opts ...RedisOption) *RedisScheduler {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]RedisOption{WithRedisLogger(log.Discard())}, opts...)
	s := NewRedis(client, "quotes", opts...)
	if err := s.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestRedisSchedulerOrderAndDedup(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := newRedisScheduler(t, mr)

	mustEnqueue(t, s, model.MustRequest("http://example.test/zero-1"))
	mustEnqueue(t, s, model.MustRequest("http://example.test/pos", model.WithPriority(3)))
	mustEnqueue(t, s, model.MustRequest("http://example.test/neg", model.WithPriority(-2)))
	mustEnqueue(t, s, model.MustRequest("http://example.test/zero-2"))
	if mustEnqueue(t, s, model.MustRequest("http://example.test/zero-1")) {
		t.Error("duplicate should be dropped")
	}
	if !mustEnqueue(t, s, model.MustRequest("http://example.test/zero-1", model.WithDontFilter(true))) {
		t.Error("exempt duplicate should be accepted")
	}

	if n := s.Len(t.Context()); n != 5 {
		t.Errorf("expected 5 queued, got %d", n)
	}

	want := []string{
		"http://example.test/neg",
		"http://example.test/zero-1",
		"http://example.test/zero-2",
		"http://example.test/zero-1",
		"http://example.test/pos",
	}
	got := drainURLs(t, s)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRedisSchedulerResume(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	first := newRedisScheduler(t, mr)
	mustEnqueue(t, first, model.MustRequest("http://example.test/a", model.WithCallback("detail")))
	if err := first.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := first.Enqueue(t.Context(), model.MustRequest("http://example.test/b")); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("expected ErrSchedulerClosed, got %v", err)
	}

	second := newRedisScheduler(t, mr)
	req, err := second.Next(t.Context())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if req.URL != "http://example.test/a" || req.Callback != "detail" {
		t.Errorf("unexpected resumed request %+v", req)
	}
	if mustEnqueue(t, second, model.MustRequest("http://example.test/a")) {
		t.Error("seen set should survive a restart")
	}

	fresh := newRedisScheduler(t, mr, WithResetOnStart(true))
	if fresh.HasPending(t.Context()) {
		t.Error("reset should clear the queue")
	}
	if !mustEnqueue(t, fresh, model.MustRequest("http://example.test/a")) {
		t.Error("reset should clear the seen set")
	}
}

func TestRedisSchedulerUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	s := NewRedis(client, "down", WithRedisLogger(log.Discard()))
	if err := s.Start(t.Context()); err == nil {
		t.Error("expected connection error")
	}
}

func TestRedisSchedulerForgetsIdentityOnPushFailure(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := newRedisScheduler(t, mr)

	// A non-integer sequence key makes INCR fail after SADD succeeded.
	if err := mr.Set(s.key("seq"), "not-a-number"); err != nil {
		t.Fatalf("set seq: %v", err)
	}
	req := model.MustRequest("http://example.test/retry")
	if _, err := s.Enqueue(t.Context(), req); err == nil {
		t.Fatal("expected sequence error")
	}
	if members, _ := mr.Members(s.key("seen")); len(members) != 0 {
		t.Errorf("seen set = %v, want empty after failed push", members)
	}

	mr.Del(s.key("seq"))
	if !mustEnqueue(t, s, req) {
		t.Error("retried request was dropped as a duplicate")
	}
	if got := drainURLs(t, s); len(got) != 1 || got[0] != req.URL {
		t.Errorf("queued = %v, want [%s]", got, req.URL)
	}
}

func TestRedisSchedulerClampedPriorities(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := newRedisScheduler(t, mr)

	mustEnqueue(t, s, model.MustRequest("http://example.test/huge-1", model.WithPriority(1<<30)))
	mustEnqueue(t, s, model.MustRequest("http://example.test/huge-2", model.WithPriority(1<<21)))
	mustEnqueue(t, s, model.MustRequest("http://example.test/zero"))
	mustEnqueue(t, s, model.MustRequest("http://example.test/tiny", model.WithPriority(-(1 << 30))))

	want := []string{
		"http://example.test/tiny",
		"http://example.test/zero",
		"http://example.test/huge-1",
		"http://example.test/huge-2",
	}
	got := drainURLs(t, s)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestScore(t *testing.T) {
	t.Parallel()

	if !(score(-1, 100) < score(0, 1)) {
		t.Error("negative priority must sort before zero")
	}
	if !(score(0, 1) < score(0, 2)) {
		t.Error("equal priority must keep sequence order")
	}
	if !(score(0, 99999) < score(1, 1)) {
		t.Error("lower priority must sort before higher")
	}
	if score(1<<30, 1) != score(maxRedisPriority, 1) {
		t.Error("priority should be clamped")
	}
}
