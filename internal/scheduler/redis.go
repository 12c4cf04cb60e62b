package scheduler

import (
	"context"
	"crypto/sha1" //nolint:gosec // used as a compact identity digest, not for security
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/sprite/internal/model"
)

// maxRedisPriority bounds priorities so that priority and sequence fit in
// the exact integer range of a float64 sorted-set score.
const maxRedisPriority = 1 << 20

const seqSpan = 1 << 32

// RedisScheduler keeps the queue in a sorted set and the seen identities
// in a set. Keys are "<prefix>:<name>:queue", ":seen" and ":seq".
//
// Priorities are clamped to [-2^20, 2^20] so that the score stays exact.
// Requests beyond either bound share the bound's priority and are served
// among themselves in enqueue order; the memory scheduler has no bound.
type RedisScheduler struct {
	client redis.UniversalClient
	prefix string
	name   string
	reset  bool
	logger *slog.Logger

	mu    sync.Mutex
	state state
}

// RedisOption configures a RedisScheduler.
type RedisOption func(*RedisScheduler)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisScheduler) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithResetOnStart deletes the queue and seen set on Start, for crawls
// that should not resume.
func WithResetOnStart(v bool) RedisOption {
	return func(s *RedisScheduler) {
		s.reset = v
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedis creates a redis scheduler for the crawl name.
func NewRedis(client redis.UniversalClient, name string, opts ...RedisOption) *RedisScheduler {
	s := &RedisScheduler{
		client: client,
		prefix: "sprite",
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisScheduler) key(suffix string) string {
	return s.prefix + ":" + s.name + ":" + suffix
}

// Start checks connectivity and optionally clears previous state.
func (s *RedisScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateRunning {
		return ErrSchedulerRunning
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	if s.reset {
		if err := s.client.Del(ctx, s.key("queue"), s.key("seen"), s.key("seq")).Err(); err != nil {
			return fmt.Errorf("reset redis scheduler: %w", err)
		}
	} else if n, err := s.client.ZCard(ctx, s.key("queue")).Result(); err == nil && n > 0 {
		s.logger.Info("resuming pending requests", "name", s.name, "count", n)
	}
	s.state = stateRunning
	return nil
}

func (s *RedisScheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Enqueue adds req unless its identity is already in the seen set. When
// the push fails after the identity was recorded, the identity is removed
// again so a retry is not dropped as a duplicate.
func (s *RedisScheduler) Enqueue(ctx context.Context, req *model.Request) (bool, error) {
	if !s.running() {
		return false, ErrSchedulerClosed
	}

	var identity string
	if !req.DontFilter {
		digest := sha1.Sum([]byte(req.Fingerprint())) //nolint:gosec // identity digest
		identity = hex.EncodeToString(digest[:])
		added, err := s.client.SAdd(ctx, s.key("seen"), identity).Result()
		if err != nil {
			return false, fmt.Errorf("record request identity: %w", err)
		}
		if added == 0 {
			return false, nil
		}
	}

	if err := s.push(ctx, req); err != nil {
		if identity != "" {
			if ferr := s.client.SRem(context.WithoutCancel(ctx), s.key("seen"), identity).Err(); ferr != nil {
				s.logger.Warn("failed to forget request identity", "url", req.URL, "error", ferr)
			}
		}
		return false, err
	}
	return true, nil
}

func (s *RedisScheduler) push(ctx context.Context, req *model.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.URL, err)
	}
	seq, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	member := strconv.FormatInt(seq, 10) + ":" + string(body)
	if err := s.client.ZAdd(ctx, s.key("queue"), redis.Z{Score: score(req.Priority, seq), Member: member}).Err(); err != nil {
		return fmt.Errorf("push request %s: %w", req.URL, err)
	}
	return nil
}

// score orders by priority first and sequence second.
func score(priority int, seq int64) float64 {
	if priority > maxRedisPriority {
		priority = maxRedisPriority
	}
	if priority < -maxRedisPriority {
		priority = -maxRedisPriority
	}
	return float64(int64(priority)*seqSpan + seq%seqSpan)
}

// Next pops the member with the lowest score.
func (s *RedisScheduler) Next(ctx context.Context) (*model.Request, error) {
	if !s.running() {
		return nil, ErrSchedulerClosed
	}

	zs, err := s.client.ZPopMin(ctx, s.key("queue"), 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("pop request: %w", err)
	}
	if len(zs) == 0 {
		return nil, ErrQueueEmpty
	}

	member, ok := zs[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member type %T", zs[0].Member)
	}
	_, body, found := strings.Cut(member, ":")
	if !found {
		return nil, fmt.Errorf("malformed queue member %q", member)
	}
	var req model.Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// HasPending reports whether the queue is non-empty.
func (s *RedisScheduler) HasPending(ctx context.Context) bool {
	return s.Len(ctx) > 0
}

// Len returns the queue length, or 0 when redis cannot be reached.
func (s *RedisScheduler) Len(ctx context.Context) int {
	n, err := s.client.ZCard(ctx, s.key("queue")).Result()
	if err != nil {
		s.logger.Warn("failed to read queue length", "name", s.name, "error", err)
		return 0
	}
	return int(n)
}

// Close stops the scheduler. Pending requests stay in redis.
func (s *RedisScheduler) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	return nil
}
