package spider

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/model"
	"golang.org/x/net/html"
)

// Meta keys set by LinkSpider on the requests it produces.
const (
	MetaDepth = "depth"
)

// LinkSpider crawls a site by following same-host links.
// Every visited page becomes an item with the fields url, status,
// title, links and depth. Pages that fail to download also carry an
// error field.
type LinkSpider struct {
	*Base

	maxDepth int
	maxPages int
	filter   *URLFilter
	sites    *config.File
	logger   *slog.Logger

	mu        sync.Mutex
	scheduled map[string]bool
}

// LinkOption configures a LinkSpider.
type LinkOption func(*LinkSpider)

// WithMaxDepth bounds how many links away from a seed the spider goes.
// Zero visits the seeds only.
func WithMaxDepth(depth int) LinkOption {
	return func(s *LinkSpider) {
		s.maxDepth = depth
	}
}

// WithMaxPages bounds the number of requests the spider produces,
// seeds included. Zero or less means unlimited.
func WithMaxPages(n int) LinkOption {
	return func(s *LinkSpider) {
		s.maxPages = n
	}
}

// WithPatterns sets the follow and ignore globs applied to discovered
// links.
func WithPatterns(follow, ignore []string) LinkOption {
	return func(s *LinkSpider) {
		s.filter = NewURLFilter(follow, ignore)
	}
}

// WithSiteConfigs lets per-host depth and patterns from a config file
// override the spider-wide settings.
func WithSiteConfigs(file *config.File) LinkOption {
	return func(s *LinkSpider) {
		s.sites = file
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LinkOption {
	return func(s *LinkSpider) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewLinkSpider creates a link spider.
func NewLinkSpider(name string, startURLs []string, opts ...LinkOption) (*LinkSpider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if len(startURLs) == 0 {
		return nil, ErrNoStartURLs
	}
	s := &LinkSpider{
		Base:      NewBase(name, startURLs...),
		maxDepth:  config.DefaultMaxDepth,
		maxPages:  config.DefaultMaxPages,
		filter:    NewURLFilter(nil, nil),
		logger:    slog.New(slog.DiscardHandler),
		scheduled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Register(DefaultCallback, s.parse); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLinkSpiderFromConfig creates a link spider from crawl settings.
func NewLinkSpiderFromConfig(name string, cfg *config.Config, sites *config.File, logger *slog.Logger) (*LinkSpider, error) {
	return NewLinkSpider(name, cfg.Targets,
		WithMaxDepth(cfg.MaxDepth),
		WithMaxPages(cfg.MaxPages),
		WithPatterns(cfg.FollowPatterns, cfg.IgnorePatterns),
		WithSiteConfigs(sites),
		WithLogger(logger),
	)
}

// StartRequests implements Spider. Seeds count toward the page limit.
func (s *LinkSpider) StartRequests(_ context.Context) model.Result {
	return model.Sequence(func(yield func(model.Result) bool) {
		for _, raw := range s.StartURLs() {
			req, err := model.NewRequest(raw, model.WithMeta(MetaDepth, 0))
			if err != nil {
				if !yield(model.ErrorResult(err)) {
					return
				}
				continue
			}
			if !s.reserve(req.URL) {
				continue
			}
			if !yield(model.RequestResult(req)) {
				return
			}
		}
	})
}

// Pages returns how many requests the spider has produced.
func (s *LinkSpider) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// reserve claims a page slot for rawURL. It fails for URLs already
// produced and once the page limit is reached.
func (s *LinkSpider) reserve(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduled[rawURL] {
		return false
	}
	if s.maxPages > 0 && len(s.scheduled) >= s.maxPages {
		return false
	}
	s.scheduled[rawURL] = true
	return true
}

func (s *LinkSpider) parse(_ context.Context, resp *model.Response) model.Result {
	depth := 0
	if resp.Request != nil {
		depth = resp.Request.MetaInt(MetaDepth)
	}

	item := model.Item{
		"type":   "page",
		"url":    resp.URL,
		"status": resp.Status,
		"title":  "",
		"links":  []string{},
		"depth":  depth,
	}
	if resp.Err != nil {
		item["error"] = resp.Err.Error()
		return model.ItemResult(item)
	}

	parsed := s.extract(resp)
	if parsed == nil {
		return model.ItemResult(item)
	}
	item["title"] = parsed.Title
	item["links"] = parsed.Links

	results := []model.Result{model.ItemResult(item)}
	if parsed.RobotsNoFollow() {
		return model.Results(results...)
	}

	host := hostOf(resp.URL)
	maxDepth, filter := s.siteRules(host)
	if depth >= maxDepth {
		return model.Results(results...)
	}

	for _, link := range parsed.InternalLinks {
		if parsed.NoFollow[link] || !filter.Allow(link) {
			continue
		}
		if !s.reserve(link) {
			continue
		}
		req, err := model.NewRequest(link,
			model.WithMeta(MetaDepth, depth+1),
			model.WithPriority(depth+1),
		)
		if err != nil {
			s.logger.Debug("skipping link", "url", link, "error", err)
			continue
		}
		results = append(results, model.RequestResult(req))
	}
	return model.Results(results...)
}

// extract parses the HTML of resp, reusing the document decoded by the
// html codec when there is one.
func (s *LinkSpider) extract(resp *model.Response) *ParseResult {
	p, err := NewParser(resp.URL)
	if err != nil {
		return nil
	}
	if doc, ok := resp.Decoded.(*html.Node); ok {
		return p.ParseNode(doc)
	}
	if !strings.Contains(resp.ContentType(), "html") || resp.Text == "" {
		return nil
	}
	result, err := p.Parse(strings.NewReader(resp.Text))
	if err != nil {
		s.logger.Debug("parse failed", "url", resp.URL, "error", err)
		return nil
	}
	return result
}

// siteRules returns the depth limit and link filter for host.
func (s *LinkSpider) siteRules(host string) (int, *URLFilter) {
	if s.sites == nil {
		return s.maxDepth, s.filter
	}
	site := s.sites.GetSiteConfig(host)
	depth := s.maxDepth
	if site.Depth > 0 {
		depth = site.Depth
	}
	filter := s.filter
	if len(site.FollowPatterns) > 0 || len(site.IgnorePatterns) > 0 {
		follow, ignore := site.FollowPatterns, site.IgnorePatterns
		if len(follow) == 0 {
			follow = s.filter.follow
		}
		if len(ignore) == 0 {
			ignore = s.filter.ignore
		}
		filter = NewURLFilter(follow, ignore)
	}
	return depth, filter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
