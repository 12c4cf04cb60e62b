package download

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// normalizeProxy parses a proxy URL, prepending http:// when the scheme
// is missing ("127.0.0.1:8080" is an HTTP proxy).
func normalizeProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidProxy, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidProxy, raw)
	}
	switch u.Scheme {
	case "http", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidProxy, u.Scheme)
	}
	return u, nil
}

// proxyAddr returns host:port of the proxy, defaulting the port by scheme.
func proxyAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return net.JoinHostPort(u.Hostname(), "1080")
}

// proxyAuthorization returns the Proxy-Authorization value for the
// userinfo of u, or "" when u carries no credentials.
func proxyAuthorization(u *url.URL) string {
	if u.User == nil || u.User.Username() == "" {
		return ""
	}
	pass, _ := u.User.Password()
	cred := u.User.Username() + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}

// socksDialer returns a dialer that reaches every address through the
// SOCKS5 proxy u.
func socksDialer(u *url.URL, forward *net.Dialer) (proxy.ContextDialer, error) {
	d, err := proxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidProxy, u.Redacted(), err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialer{d: d}, nil
}

// contextDialer adds context support to a proxy.Dialer. When ctx ends
// first, the pending dial is left to finish in the background and its
// connection is closed.
type contextDialer struct {
	d proxy.Dialer
}

func (c contextDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := c.d.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.conn != nil {
				_ = r.conn.Close() //nolint:errcheck // dial outlived its context
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.conn, r.err
	}
}

// connectTunnel asks an HTTP proxy to open a tunnel to target.
func connectTunnel(conn net.Conn, target, auth string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if auth != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", auth)
	}
	b.WriteString("\r\n")
	if _, err := io.WriteString(conn, b.String()); err != nil {
		return err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	_ = resp.Body.Close() //nolint:errcheck // CONNECT responses carry no body
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", ErrProxyRefused, target, resp.Status)
	}
	return nil
}
