package download

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/model"
)

// Fetcher performs one download. *Session is the production Fetcher.
type Fetcher interface {
	Do(ctx context.Context, req *model.Request) (*model.Response, error)
	Close()
}

// Downloader bounds concurrent downloads and applies pacing before each
// request reaches the Fetcher.
type Downloader struct {
	fetcher      Fetcher
	maxDownloads int
	sem          *semaphore.Weighted
	delay        time.Duration
	timeout      time.Duration
	limiter      *RateLimiter
	hosts        *HostLimiter
	logger       *slog.Logger

	active atomic.Int64
	closed atomic.Bool
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithMaxDownloads sets how many downloads may run at once.
func WithMaxDownloads(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxDownloads = n
		}
	}
}

// WithDelay sets a pause before every download.
func WithDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		if delay >= 0 {
			d.delay = delay
		}
	}
}

// WithTimeout bounds each download, retries and redirects included.
// Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		if timeout >= 0 {
			d.timeout = timeout
		}
	}
}

// WithRateLimiter sets the URL pattern rate limiter.
func WithRateLimiter(l *RateLimiter) Option {
	return func(d *Downloader) {
		d.limiter = l
	}
}

// WithHostLimiter sets the per-host limiter.
func WithHostLimiter(h *HostLimiter) Option {
	return func(d *Downloader) {
		d.hosts = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Downloader.
func New(fetcher Fetcher, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher:      fetcher,
		maxDownloads: config.DefaultMaxDownloads,
		timeout:      config.DefaultTimeout,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.NewWeighted(int64(d.maxDownloads))
	return d
}

// NewFromConfig builds a Session and a Downloader from crawl settings.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Downloader, error) {
	session, err := NewSessionFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	limiter, err := NewRateLimiterFromConfig(cfg.Limits)
	if err != nil {
		return nil, err
	}
	return New(session,
		WithMaxDownloads(cfg.MaxDownloads),
		WithDelay(cfg.Delay),
		WithTimeout(cfg.Timeout),
		WithRateLimiter(limiter),
		WithHostLimiter(NewHostLimiter(cfg.HostRate, cfg.HostBurst)),
		WithLogger(logger),
	), nil
}

// Download fetches req.
//
// Connection errors and timeouts yield a Response with Err set and
// Status model.StatusError, and a nil error. Any other failure, such as a
// malformed URL, a redirect loop or cancellation of ctx, is returned as
// an error with a nil Response.
func (d *Downloader) Download(ctx context.Context, req *model.Request) (*model.Response, error) {
	if d.closed.Load() {
		return nil, ErrDownloaderClosed
	}
	if err := sleep(ctx, d.delay); err != nil {
		return nil, err
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)
	d.active.Add(1)
	defer d.active.Add(-1)

	if err := d.limiter.Notify(ctx, req.FullURL()); err != nil {
		return nil, err
	}
	if err := d.hosts.Wait(ctx, req.Host()); err != nil {
		return nil, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.fetcher.Do(ctx, req)
	if err != nil {
		if IsTransportError(err) {
			d.logger.Warn("download failed", "url", req.URL, "error", err, "elapsed", time.Since(start))
			return model.NewErrorResponse(req, err), nil
		}
		return nil, err
	}
	d.logger.Debug("downloaded", "url", resp.URL, "status", resp.Status,
		"bytes", len(resp.Body), "elapsed", time.Since(start))
	return resp, nil
}

// Active returns the number of downloads holding a permit.
func (d *Downloader) Active() int {
	return int(d.active.Load())
}

// MaxDownloads returns the concurrency bound.
func (d *Downloader) MaxDownloads() int {
	return d.maxDownloads
}

// Close rejects further downloads and closes the fetcher's connections.
// Closing twice is a no-op.
func (d *Downloader) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.fetcher.Close()
}
