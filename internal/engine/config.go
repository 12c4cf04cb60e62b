package engine

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/download"
	"github.com/nao1215/sprite/internal/middleware"
	"github.com/nao1215/sprite/internal/pool"
	"github.com/nao1215/sprite/internal/scheduler"
	"github.com/nao1215/sprite/internal/spider"
	"github.com/nao1215/sprite/internal/stats"
)

// NewFromConfig builds an engine with the scheduler, downloader, pool
// and counters described by cfg. Extra options are applied last.
func NewFromConfig(cfg *config.Config, s spider.Spider, mw *middleware.Manager, logger *slog.Logger, metrics *stats.Metrics, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sched, closeSched, err := newScheduler(cfg, s, logger)
	if err != nil {
		return nil, err
	}

	dl, err := download.NewFromConfig(cfg, logger)
	if err != nil {
		if closeSched != nil {
			_ = closeSched() //nolint:errcheck // construction already failed
		}
		return nil, fmt.Errorf("create downloader: %w", err)
	}

	p := pool.New(
		pool.WithMaxWorkers(cfg.MaxWorkers),
		pool.WithIdleTimeout(cfg.WorkerIdleTime),
		pool.WithReleaseDrained(cfg.ReleaseDrainedWorkers),
		pool.WithLogger(logger),
	)

	counter := stats.NewCrawlerCounter(s.Name(),
		stats.WithUnits(cfg.ItemCounterUnit, cfg.ResponseCounterUnit),
		stats.WithCounterLogger(logger),
		stats.WithMetrics(metrics),
	)

	base := []Option{
		WithPool(p),
		WithWorkerNum(cfg.WorkerNum),
		WithCounter(counter),
		WithMetrics(metrics),
		WithLogger(logger),
		WithCloser(closeSched),
	}
	return New(s, sched, dl, mw, append(base, opts...)...), nil
}

// newScheduler returns the configured scheduler and, for redis, a
// function closing the client.
func newScheduler(cfg *config.Config, s spider.Spider, logger *slog.Logger) (scheduler.Scheduler, func() error, error) {
	switch cfg.Scheduler {
	case "", config.SchedulerMemory:
		opts := []scheduler.MemoryOption{
			scheduler.WithCapacity(cfg.InitialCapacity),
			scheduler.WithErrorRate(cfg.ErrorRate),
			scheduler.WithLogger(logger),
		}
		if cfg.Persist {
			opts = append(opts, scheduler.WithPersistence(cfg.ResolvedJobDir(), s.Name(), spider.Resolver(s)))
		}
		return scheduler.NewMemory(opts...), nil, nil
	case config.SchedulerRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		sched := scheduler.NewRedis(client, s.Name(),
			scheduler.WithKeyPrefix(cfg.RedisPrefix),
			scheduler.WithResetOnStart(!cfg.Persist),
			scheduler.WithRedisLogger(logger),
		)
		return sched, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownScheduler, cfg.Scheduler)
	}
}
