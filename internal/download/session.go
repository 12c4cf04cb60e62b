package download

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/model"
)

// RetryStrategy sets how often a request is re-issued.
type RetryStrategy struct {
	// NetworkFailures maps a method to the retries allowed after a
	// connection error or timeout.
	NetworkFailures map[string]int

	// Responses maps a status code to the retries allowed when that
	// status is received.
	Responses map[int]int
}

// Session sends requests over pooled connections. It owns the cookie jar
// and the default headers shared by every request of a crawl.
type Session struct {
	hub             *Hub
	wire            WireCodec
	codecs          *CodecRegistry
	headers         model.Headers
	jar             *cookiejar.Jar
	keepAlive       bool
	followRedirects bool
	maxRedirects    int
	retry           RetryStrategy
	tlsConfig       *tls.Config
	proxy           string
	maxBody         int64
	logger          *slog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDefaultHeaders sets headers sent with every request.
func WithDefaultHeaders(h map[string]string) SessionOption {
	return func(s *Session) {
		s.headers = model.NewHeaders(h)
	}
}

// WithSessionKeepAlive controls connection reuse.
func WithSessionKeepAlive(keep bool) SessionOption {
	return func(s *Session) {
		s.keepAlive = keep
	}
}

// WithRedirects enables redirect following with a budget of max hops.
func WithRedirects(follow bool, max int) SessionOption {
	return func(s *Session) {
		s.followRedirects = follow
		if max >= 0 {
			s.maxRedirects = max
		}
	}
}

// WithRetry sets the retry strategy.
func WithRetry(r RetryStrategy) SessionOption {
	return func(s *Session) {
		s.retry = r
	}
}

// WithTLSConfig sets the TLS configuration for https destinations.
func WithTLSConfig(cfg *tls.Config) SessionOption {
	return func(s *Session) {
		s.tlsConfig = cfg
	}
}

// WithProxy routes requests without a "proxy" meta entry through proxyURL.
func WithProxy(proxyURL string) SessionOption {
	return func(s *Session) {
		s.proxy = proxyURL
	}
}

// WithMaxBodySize bounds decoded response bodies. Zero means unbounded.
func WithMaxBodySize(n int64) SessionOption {
	return func(s *Session) {
		if n >= 0 {
			s.maxBody = n
		}
	}
}

// WithCodecs replaces the body codec registry.
func WithCodecs(r *CodecRegistry) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.codecs = r
		}
	}
}

// WithWireCodec replaces the HTTP framing.
func WithWireCodec(c WireCodec) SessionOption {
	return func(s *Session) {
		if c != nil {
			s.wire = c
		}
	}
}

// WithHub shares a connection hub between sessions.
func WithHub(h *Hub) SessionOption {
	return func(s *Session) {
		if h != nil {
			s.hub = h
		}
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a session with an empty cookie jar.
func NewSession(opts ...SessionOption) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	s := &Session{
		wire:         HTTP11,
		codecs:       DefaultCodecs(),
		headers:      model.NewHeaders(config.DefaultHeaders()),
		jar:          jar,
		keepAlive:    true,
		maxRedirects: config.DefaultMaxRedirects,
		retry:        RetryStrategy{NetworkFailures: map[string]int{http.MethodGet: 1}},
		maxBody:      config.DefaultMaxBodySize,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(WithHubKeepAlive(s.keepAlive), WithHubLogger(s.logger))
	}
	return s, nil
}

// NewSessionFromConfig creates a session from crawl settings.
func NewSessionFromConfig(cfg *config.Config, logger *slog.Logger) (*Session, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureTLS, //nolint:gosec // opt-in for self-signed crawl targets
	}
	return NewSession(
		WithDefaultHeaders(cfg.Headers),
		WithSessionKeepAlive(cfg.KeepAlive),
		WithRedirects(cfg.FollowRedirects, cfg.MaxRedirects),
		WithRetry(RetryStrategy{
			NetworkFailures: cfg.Retry.NetworkFailures,
			Responses:       cfg.Retry.Responses,
		}),
		WithTLSConfig(tlsConfig),
		WithProxy(cfg.Proxy),
		WithMaxBodySize(cfg.MaxBodySize),
		WithSessionLogger(logger),
	)
}

// Hub returns the connection hub.
func (s *Session) Hub() *Hub {
	return s.hub
}

// Cookies returns the jar's cookies for rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.jar.Cookies(u)
}

// Do sends req, applying retries and redirects. The returned Response
// carries req as its Request and the final URL as its URL.
func (s *Session) Do(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := s.follow(ctx, req, s.maxRedirects)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

// Close closes every pooled connection.
func (s *Session) Close() {
	s.hub.CloseAll()
}

func (s *Session) follow(ctx context.Context, req *model.Request, redirects int) (*model.Response, error) {
	resp, err := s.retrying(ctx, req)
	if err != nil {
		return nil, err
	}
	if !s.followRedirects || !isRedirectStatus(resp.Status) {
		return resp, nil
	}
	if redirects <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrTooManyRedirects, req.URL)
	}
	loc := resp.Headers.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("%w: %d from %s", ErrMissingLocation, resp.Status, resp.URL)
	}
	next, err := resolveLocation(resp.URL, loc)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("following redirect", "from", resp.URL, "to", next, "status", resp.Status)
	return s.follow(ctx, redirectRequest(req, next), redirects-1)
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveLocation(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: redirect base %q: %w", ErrInvalidResponse, base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(loc))
	if err != nil {
		return "", fmt.Errorf("%w: location %q: %w", ErrInvalidResponse, loc, err)
	}
	return b.ResolveReference(ref).String(), nil
}

// redirectRequest builds the follow-up request: a bodyless GET to next,
// whatever the redirect status.
func redirectRequest(req *model.Request, next string) *model.Request {
	r := req.Clone()
	r.URL = next
	r.Query = nil
	r.Method = http.MethodGet
	r.Form = nil
	r.Body = nil
	r.Headers.Del("Content-Type")
	return r
}

func (s *Session) retrying(ctx context.Context, req *model.Request) (*model.Response, error) {
	method := req.HTTPMethod()
	networkLeft := s.retry.NetworkFailures[method]
	responseLeft := make(map[int]int, len(s.retry.Responses))
	for status, n := range s.retry.Responses {
		responseLeft[status] = n
	}

	for {
		resp, err := s.exchange(ctx, req)
		if err != nil {
			if IsTransportError(err) && networkLeft > 0 && ctx.Err() == nil {
				networkLeft--
				s.logger.Info("retrying request", "url", req.URL, "reason", err.Error(), "left", networkLeft)
				continue
			}
			return nil, err
		}
		if left := responseLeft[resp.Status]; left > 0 {
			responseLeft[resp.Status] = left - 1
			s.logger.Info("retrying request", "url", req.URL, "status", resp.Status, "left", left-1)
			continue
		}
		return resp, nil
	}
}

// exchange performs one request/response round trip.
func (s *Session) exchange(ctx context.Context, req *model.Request) (*model.Response, error) {
	full := req.FullURL()
	u, err := url.Parse(full)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", full, err)
	}
	scheme := strings.ToLower(u.Scheme)
	port, err := defaultPort(scheme, u.Port())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, full)
	}

	proxyURL := req.MetaString("proxy")
	if proxyURL == "" {
		proxyURL = s.proxy
	}
	pool, err := s.hub.Pool(scheme, u.Hostname(), port, proxyURL)
	if err != nil {
		return nil, err
	}

	wreq := s.wireRequest(req, u, pool)

	conn, err := pool.Acquire(ctx, s.tlsConfig)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl) //nolint:errcheck // surfaces on read
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now()) //nolint:errcheck // unblocks pending IO
	})

	wresp, err := s.roundTrip(conn, wreq)
	interrupted := !stop()
	if err != nil {
		pool.Release(conn, false)
		return nil, classify(ctx, req.HTTPMethod()+" "+full, err)
	}
	_ = conn.SetDeadline(time.Time{}) //nolint:errcheck // next user sets its own
	pool.Release(conn, wresp.KeepAlive && s.keepAlive && !interrupted)

	return s.buildResponse(req, u, wresp)
}

func (s *Session) roundTrip(conn *Conn, wreq *WireRequest) (*WireResponse, error) {
	if err := s.wire.WriteRequest(conn, wreq); err != nil {
		return nil, err
	}
	return s.wire.ReadResponse(conn.Reader(), wreq.Method, s.maxBody)
}

func defaultPort(scheme, port string) (int, error) {
	switch scheme {
	case "":
		return 0, ErrMissingScheme
	case "http", "https":
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	if port == "" {
		if scheme == "https" {
			return 443, nil
		}
		return 80, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%w: port %q", ErrInvalidRequest, port)
	}
	return n, nil
}

func (s *Session) wireRequest(req *model.Request, u *url.URL, pool *ConnectionPool) *WireRequest {
	headers := s.headers.Clone()
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	if !s.keepAlive || !pool.keepAlive {
		headers.Set("Connection", "close")
	}
	if auth := pool.ProxyAuthorization(); auth != "" {
		headers.Set("Proxy-Authorization", auth)
	}
	if cookie := s.cookieHeader(u, req.Cookies, headers.Get("Cookie")); cookie != "" {
		headers.Set("Cookie", cookie)
	}

	body := req.Body
	if len(req.Form) > 0 {
		body = []byte(req.Form.Encode())
		headers.SetDefault("Content-Type", "application/x-www-form-urlencoded")
	}

	target := u.RequestURI()
	if pool.Forward() {
		abs := *u
		abs.Fragment = ""
		abs.RawFragment = ""
		target = abs.String()
	}

	return &WireRequest{
		Method:  req.HTTPMethod(),
		Target:  target,
		Host:    u.Host,
		Headers: headers,
		Body:    body,
	}
}

// cookieHeader merges jar cookies, per-request cookies and an explicit
// Cookie header. Per-request cookies win over jar cookies of the same name.
func (s *Session) cookieHeader(u *url.URL, extra map[string]string, explicit string) string {
	values := make(map[string]string)
	var order []string
	for _, c := range s.jar.Cookies(u) {
		if _, ok := values[c.Name]; !ok {
			order = append(order, c.Name)
		}
		values[c.Name] = c.Value
	}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := values[name]; !ok {
			order = append(order, name)
		}
		values[name] = extra[name]
	}

	parts := make([]string, 0, len(order)+1)
	if explicit != "" {
		parts = append(parts, explicit)
	}
	for _, name := range order {
		parts = append(parts, name+"="+values[name])
	}
	return strings.Join(parts, "; ")
}

func (s *Session) buildResponse(req *model.Request, u *url.URL, wresp *WireResponse) (*model.Response, error) {
	cookies := make(map[string]string, len(wresp.SetCookies))
	if len(wresp.SetCookies) > 0 {
		parsed := make([]*http.Cookie, 0, len(wresp.SetCookies))
		for _, line := range wresp.SetCookies {
			c, err := http.ParseSetCookie(line)
			if err != nil {
				s.logger.Debug("ignoring malformed cookie", "url", u.String(), "error", err)
				continue
			}
			parsed = append(parsed, c)
			cookies[c.Name] = c.Value
		}
		s.jar.SetCookies(u, parsed)
	}

	body, err := decodeContent(wresp.Body, wresp.Headers.Get("Content-Encoding"), s.maxBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.String(), err)
	}

	text, decoded, err := s.codecs.decodeBody(body, wresp.Headers.Get("Content-Type"), req.Encoding)
	if err != nil {
		s.logger.Debug("body decode failed", "url", u.String(), "error", err)
	}

	return &model.Response{
		URL:     u.String(),
		Status:  wresp.Status,
		Headers: wresp.Headers,
		Cookies: cookies,
		Body:    body,
		Text:    text,
		Decoded: decoded,
		Request: req,
	}, nil
}
