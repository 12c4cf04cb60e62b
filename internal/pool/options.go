package pool

import (
	"log/slog"
	"time"
)

const (
	// DefaultMaxWorkers is the worker cap.
	DefaultMaxWorkers = 256 * 1024

	// DefaultIdleTimeout is how long a worker may stay idle before retirement.
	DefaultIdleTimeout = 10 * time.Second

	// DefaultInboxSize is the buffer of each worker inbox.
	DefaultInboxSize = 1024
)

// Option configures a Pool.
type Option func(*Pool)

// WithMaxWorkers sets the worker cap. Values below 1 are ignored.
func WithMaxWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// WithIdleTimeout sets the idle threshold and the maintenance interval.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.idleTimeout = d
		}
	}
}

// WithInboxSize sets the per-worker inbox buffer.
func WithInboxSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.inboxSize = n
		}
	}
}

// WithReleaseDrained retires a worker as soon as its inbox drains,
// instead of waiting for the maintenance loop.
func WithReleaseDrained(v bool) Option {
	return func(p *Pool) {
		p.releaseDrained = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}
