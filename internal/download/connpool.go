package download

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultDialTimeout bounds a single TCP dial when the context has no
// earlier deadline.
const DefaultDialTimeout = 30 * time.Second

// ConnectionPool holds reusable connections to one destination.
//
// Idle connections are kept most recently released first, and Acquire
// hands out the front of that list after a liveness probe. A connection
// taken from the pool belongs to the caller until Release.
type ConnectionPool struct {
	scheme    string
	host      string
	port      int
	addr      string
	dialer    proxy.ContextDialer
	keepAlive bool
	logger    *slog.Logger

	// tunnel is set for https through an HTTP proxy, forward for plain
	// http through one.
	tunnel    bool
	forward   bool
	proxyAuth string

	mu     sync.Mutex
	idle   []*Conn
	open   map[*Conn]struct{}
	closed bool
}

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithDialer replaces the dialer used for new connections.
func WithDialer(d proxy.ContextDialer) PoolOption {
	return func(p *ConnectionPool) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithKeepAlive controls whether released connections are kept.
func WithKeepAlive(keep bool) PoolOption {
	return func(p *ConnectionPool) {
		p.keepAlive = keep
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *ConnectionPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// withHTTPProxy routes the pool through an HTTP proxy.
func withHTTPProxy(u *url.URL) PoolOption {
	return func(p *ConnectionPool) {
		p.addr = proxyAddr(u)
		p.proxyAuth = proxyAuthorization(u)
		if p.scheme == "https" {
			p.tunnel = true
		} else {
			p.forward = true
		}
	}
}

// NewConnectionPool creates a pool for scheme://host:port.
func NewConnectionPool(scheme, host string, port int, opts ...PoolOption) *ConnectionPool {
	p := &ConnectionPool{
		scheme:    strings.ToLower(scheme),
		host:      host,
		port:      port,
		addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		dialer:    &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: 30 * time.Second},
		keepAlive: true,
		logger:    slog.New(slog.DiscardHandler),
		open:      make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns an idle connection that passes the liveness probe, or
// dials a new one. tlsConfig is used for https destinations; nil selects
// a default configuration.
func (p *ConnectionPool) Acquire(ctx context.Context, tlsConfig *tls.Config) (*Conn, error) {
	for {
		c, err := p.popIdle()
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		if c.Alive() {
			return c, nil
		}
		p.logger.Debug("discarding stale connection", "addr", p.addr)
		_ = c.Close() //nolint:errcheck // stale connection
	}
	return p.dial(ctx, tlsConfig)
}

func (p *ConnectionPool) popIdle() (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.idle) == 0 {
		return nil, nil
	}
	c := p.idle[0]
	p.idle = p.idle[1:]
	return c, nil
}

func (p *ConnectionPool) dial(ctx context.Context, tlsConfig *tls.Config) (*Conn, error) {
	raw, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, classify(ctx, "dial "+p.addr, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl) //nolint:errcheck // reported by the next read
	}

	if p.tunnel {
		if err := connectTunnel(raw, p.Target(), p.proxyAuth); err != nil {
			_ = raw.Close() //nolint:errcheck // tunnel failed
			return nil, classify(ctx, "connect "+p.Target(), err)
		}
	}

	if p.scheme == "https" {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		cfg = cfg.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = p.host
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = raw.Close() //nolint:errcheck // handshake failed
			return nil, classify(ctx, "tls handshake "+p.host, err)
		}
		raw = tc
	}
	_ = raw.SetDeadline(time.Time{}) //nolint:errcheck // reported by the next read

	c := newConn(raw, p)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = raw.Close() //nolint:errcheck // pool closed while dialing
		return nil, ErrPoolClosed
	}
	p.open[c] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("opened connection", "addr", p.addr, "scheme", p.scheme)
	return c, nil
}

// Release returns c to the pool. The connection is closed instead when
// keepAlive is false, when the pool does not keep connections, or when
// the pool is closed.
func (p *ConnectionPool) Release(c *Conn, keepAlive bool) {
	if c == nil || c.Closed() {
		return
	}
	p.mu.Lock()
	if !keepAlive || !p.keepAlive || p.closed {
		p.mu.Unlock()
		_ = c.Close() //nolint:errcheck // not reusable
		return
	}
	p.idle = append([]*Conn{c}, p.idle...)
	p.mu.Unlock()
}

// forget drops c from the tracking sets. Called by Conn.Close.
func (p *ConnectionPool) forget(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, c)
	for i, ic := range p.idle {
		if ic == c {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
}

// CloseAll closes every connection of the pool, idle or checked out, and
// makes further Acquire calls fail with ErrPoolClosed.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	conns := make([]*Conn, 0, len(p.open))
	for c := range p.open {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close() //nolint:errcheck // shutting down
	}
}

// Idle returns the number of idle connections.
func (p *ConnectionPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Open returns the number of live connections, idle or checked out.
func (p *ConnectionPool) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// Target returns host:port of the destination.
func (p *ConnectionPool) Target() string {
	return net.JoinHostPort(p.host, strconv.Itoa(p.port))
}

// Forward reports whether requests go through an HTTP proxy in absolute
// form.
func (p *ConnectionPool) Forward() bool {
	return p.forward
}

// ProxyAuthorization returns the Proxy-Authorization header for forward
// proxies, or "".
func (p *ConnectionPool) ProxyAuthorization() string {
	if !p.forward {
		return ""
	}
	return p.proxyAuth
}

type poolKey struct {
	scheme string
	host   string
	port   int
	proxy  string
}

// Hub maps destinations to connection pools. Pools are created on first
// use and live until CloseAll.
type Hub struct {
	keepAlive bool
	dialer    *net.Dialer
	logger    *slog.Logger

	mu    sync.Mutex
	pools map[poolKey]*ConnectionPool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubKeepAlive controls connection reuse for every pool of the hub.
func WithHubKeepAlive(keep bool) HubOption {
	return func(h *Hub) {
		h.keepAlive = keep
	}
}

// WithHubDialer replaces the base dialer.
func WithHubDialer(d *net.Dialer) HubOption {
	return func(h *Hub) {
		if d != nil {
			h.dialer = d
		}
	}
}

// WithHubLogger sets the logger handed to every pool.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		keepAlive: true,
		dialer:    &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: 30 * time.Second},
		logger:    slog.New(slog.DiscardHandler),
		pools:     make(map[poolKey]*ConnectionPool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Pool returns the pool for the destination, creating it when needed.
// proxyURL may be empty. Proxied pools never keep connections alive.
func (h *Hub) Pool(scheme, host string, port int, proxyURL string) (*ConnectionPool, error) {
	key := poolKey{scheme: strings.ToLower(scheme), host: strings.ToLower(host), port: port, proxy: proxyURL}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[key]; ok {
		return p, nil
	}

	opts := []PoolOption{
		WithDialer(h.dialer),
		WithKeepAlive(h.keepAlive),
		WithPoolLogger(h.logger),
	}
	if proxyURL != "" {
		u, err := normalizeProxy(proxyURL)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "socks5", "socks5h":
			d, err := socksDialer(u, h.dialer)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithDialer(d))
		default:
			opts = append(opts, withHTTPProxy(u))
		}
		opts = append(opts, WithKeepAlive(false))
		h.logger.Debug("using proxy", "proxy", u.Redacted(), "host", host)
	}

	p := NewConnectionPool(key.scheme, key.host, port, opts...)
	h.pools[key] = p
	return p, nil
}

// Len returns the number of pools.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pools)
}

// CloseAll closes every pool and forgets them.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	pools := h.pools
	h.pools = make(map[poolKey]*ConnectionPool)
	h.mu.Unlock()

	for _, p := range pools {
		p.CloseAll()
	}
}

// String implements fmt.Stringer.
func (p *ConnectionPool) String() string {
	return fmt.Sprintf("<ConnectionPool %s://%s idle=%d open=%d>", p.scheme, p.Target(), p.Idle(), p.Open())
}
