package download

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConnection wraps failures to dial, write to or read from a peer.
	ErrConnection = errors.New("connection error")

	// ErrTimeout is returned when a download exceeds its deadline.
	ErrTimeout = errors.New("download timed out")

	// ErrTooManyRedirects is returned when a redirect arrives after the
	// redirect budget is spent.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrMissingLocation is returned for a redirect status without a
	// Location header.
	ErrMissingLocation = errors.New("redirect response has no location")

	// ErrMissingScheme is returned for a request URL without a scheme.
	ErrMissingScheme = errors.New("request url has no scheme")

	// ErrUnsupportedScheme is returned for schemes other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrInvalidResponse is returned when the peer sends a response that
	// cannot be framed.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrInvalidRequest is returned when a request cannot be written, for
	// example because a header value contains a line break.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBodyTooLarge is returned when a body exceeds the size limit.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrUnknownEncoding is returned for a Content-Encoding with no filter.
	ErrUnknownEncoding = errors.New("unknown content encoding")

	// ErrDuplicateCodec is returned when a codec id or name is registered twice.
	ErrDuplicateCodec = errors.New("codec already registered")

	// ErrInvalidCodecID is returned when a codec is registered with id 0.
	ErrInvalidCodecID = errors.New("codec id must not be zero")

	// ErrUnknownCodec is returned when a codec lookup fails.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrPoolClosed is returned by Acquire after CloseAll.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrDownloaderClosed is returned by Download after Close.
	ErrDownloaderClosed = errors.New("downloader is closed")

	// ErrInvalidRule is returned for a rate limit rule with a non-positive
	// count or period, or a pattern that does not compile.
	ErrInvalidRule = errors.New("invalid rate limit rule")

	// ErrInvalidProxy is returned for a proxy URL without a host or with a
	// scheme other than http, socks5 and socks5h.
	ErrInvalidProxy = errors.New("invalid proxy url")

	// ErrProxyRefused is returned when an HTTP proxy rejects a CONNECT.
	ErrProxyRefused = errors.New("proxy refused tunnel")
)

// IsTransportError reports whether err is a connection error or a timeout.
// Those are the failures the downloader turns into error responses.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}

// classify wraps a raw network error as ErrTimeout or ErrConnection.
// Cancellation of ctx is passed through unchanged so callers can tell a
// stopped crawl from a broken peer.
func classify(ctx context.Context, op string, err error) error {
	if err == nil || IsTransportError(err) {
		return err
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrBodyTooLarge) || errors.Is(err, ErrProxyRefused) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, op)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnection, op, err)
}
