package download

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// EncodingFilter wraps r with a reader that removes one content coding.
type EncodingFilter func(r io.Reader) (io.Reader, error)

var (
	encodingMu sync.RWMutex
	encodings  = map[string]EncodingFilter{
		"identity": func(r io.Reader) (io.Reader, error) { return r, nil },
		"gzip":     gzipFilter,
		"x-gzip":   gzipFilter,
		"deflate":  deflateFilter,
		"br":       brotliFilter,
	}
)

// RegisterEncoding installs or replaces the filter for a Content-Encoding
// token.
func RegisterEncoding(name string, filter EncodingFilter) {
	encodingMu.Lock()
	defer encodingMu.Unlock()
	encodings[strings.ToLower(name)] = filter
}

// Encodings returns the registered Content-Encoding tokens.
func Encodings() []string {
	encodingMu.RLock()
	defer encodingMu.RUnlock()
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		names = append(names, name)
	}
	return names
}

func lookupEncoding(name string) (EncodingFilter, bool) {
	encodingMu.RLock()
	defer encodingMu.RUnlock()
	f, ok := encodings[name]
	return f, ok
}

func gzipFilter(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

// deflateFilter accepts both zlib-wrapped and raw deflate streams; servers
// send either for "deflate".
func deflateFilter(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	hdr, err := br.Peek(2)
	if err == nil && hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func brotliFilter(r io.Reader) (io.Reader, error) {
	return brotli.NewReader(r), nil
}

// decodeContent removes the codings listed in a Content-Encoding header,
// last applied first. The decoded size is bounded by maxBody when it is
// positive.
func decodeContent(body []byte, header string, maxBody int64) ([]byte, error) {
	if header == "" || len(body) == 0 {
		return body, nil
	}
	tokens := strings.Split(header, ",")
	for i := len(tokens) - 1; i >= 0; i-- {
		name := strings.ToLower(strings.TrimSpace(tokens[i]))
		if name == "" || name == "identity" {
			continue
		}
		filter, ok := lookupEncoding(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
		}
		r, err := filter(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, name, err)
		}
		decoded, err := readLimited(r, maxBody)
		if c, ok := r.(io.Closer); ok {
			_ = c.Close() //nolint:errcheck // in-memory source
		}
		if err != nil {
			if errors.Is(err, ErrBodyTooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, name, err)
		}
		body = decoded
	}
	return body, nil
}
