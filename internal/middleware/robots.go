package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/nao1215/sprite/internal/download"
	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// Robots enforces robots.txt rules. The file of each origin is fetched
// once and cached for the life of the Robots value.
type Robots struct {
	fetcher   download.Fetcher
	userAgent string
	logger    *slog.Logger

	flight singleflight.Group
	mu    sync.RWMutex
	cache map[string]*robotstxt.Group
}

// RobotsOption configures Robots.
type RobotsOption func(*Robots)

// WithRobotsLogger sets the logger.
func WithRobotsLogger(logger *slog.Logger) RobotsOption {
	return func(r *Robots) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRobots creates a robots.txt checker that downloads files through
// fetcher and matches rules for userAgent.
func NewRobots(fetcher download.Fetcher, userAgent string, opts ...RobotsOption) *Robots {
	r := &Robots{
		fetcher:   fetcher,
		userAgent: userAgent,
		logger:    slog.New(slog.DiscardHandler),
		cache:     make(map[string]*robotstxt.Group),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hook returns the request hook. A disallowed request is answered with
// a synthetic 403 response carrying ErrDisallowed.
func (r *Robots) Hook() RequestHook {
	return r.ProcessRequest
}

// ProcessRequest implements RequestHook.
func (r *Robots) ProcessRequest(ctx context.Context, req *model.Request, _ spider.Spider) (any, error) {
	u, err := url.Parse(req.URL)
	if err != nil || u.Path == "/robots.txt" {
		return nil, nil
	}
	group := r.rules(ctx, u)
	if group == nil {
		return nil, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if group.Test(path) {
		return nil, nil
	}

	r.logger.Debug("request disallowed by robots.txt", "url", req.URL)
	return &model.Response{
		URL:     req.URL,
		Status:  http.StatusForbidden,
		Headers: make(model.Headers),
		Request: req,
		Err:     fmt.Errorf("%w: %s", ErrDisallowed, req.URL),
	}, nil
}

// Allowed reports whether rawURL may be fetched. Origins whose
// robots.txt cannot be fetched allow everything.
func (r *Robots) Allowed(ctx context.Context, rawURL string) bool {
	req, err := model.NewRequest(rawURL)
	if err != nil {
		return false
	}
	out, _ := r.ProcessRequest(ctx, req, nil)
	return out == nil
}

// rules returns the rule group for the origin of u, fetching robots.txt
// on first use. nil means no restrictions.
func (r *Robots) rules(ctx context.Context, u *url.URL) *robotstxt.Group {
	origin := u.Scheme + "://" + u.Host

	r.mu.RLock()
	g, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return g
	}

	v, _, _ := r.flight.Do(origin, func() (any, error) {
		g := r.fetch(ctx, origin)
		r.mu.Lock()
		r.cache[origin] = g
		r.mu.Unlock()
		return g, nil
	})
	g, _ = v.(*robotstxt.Group)
	return g
}

func (r *Robots) fetch(ctx context.Context, origin string) *robotstxt.Group {
	req, err := model.NewRequest(origin+"/robots.txt", model.WithDontFilter(true))
	if err != nil {
		return nil
	}
	resp, err := r.fetcher.Do(ctx, req)
	if err != nil {
		r.logger.Debug("robots.txt unavailable", "origin", origin, "error", err)
		return nil
	}
	if resp.Err != nil {
		r.logger.Debug("robots.txt unavailable", "origin", origin, "error", resp.Err)
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.Status, resp.Body)
	if err != nil {
		r.logger.Debug("robots.txt unparsable", "origin", origin, "error", err)
		return nil
	}
	return data.FindGroup(r.userAgent)
}
