package download

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func compress(t *testing.T, coding string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	switch coding {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "zlib":
		w = zlib.NewWriter(&buf)
	case "flate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			t.Fatalf("flate writer: %v", err)
		}
		w = fw
	case "br":
		w = brotli.NewWriter(&buf)
	default:
		t.Fatalf("unknown coding %q", coding)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeContent(t *testing.T) {
	t.Parallel()

	plain := []byte(strings.Repeat("sprite crawls the web. ", 50))
	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{name: "gzip", header: "gzip", body: compress(t, "gzip", plain)},
		{name: "x-gzip", header: "x-gzip", body: compress(t, "gzip", plain)},
		{name: "deflate with zlib wrapper", header: "deflate", body: compress(t, "zlib", plain)},
		{name: "raw deflate", header: "deflate", body: compress(t, "flate", plain)},
		{name: "brotli", header: "br", body: compress(t, "br", plain)},
		{name: "identity", header: "identity", body: plain},
		{name: "no header", header: "", body: plain},
		{name: "stacked codings", header: "gzip, br", body: compress(t, "br", compress(t, "gzip", plain))},
		{name: "case insensitive", header: "GZIP", body: compress(t, "gzip", plain)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := decodeContent(tt.body, tt.header, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("decoded %d bytes, want %d bytes of original", len(got), len(plain))
			}
		})
	}
}

func TestDecodeContentErrors(t *testing.T) {
	t.Parallel()

	t.Run("unknown coding", func(t *testing.T) {
		t.Parallel()

		_, err := decodeContent([]byte("x"), "compress", 0)
		if !errors.Is(err, ErrUnknownEncoding) {
			t.Errorf("expected ErrUnknownEncoding, got %v", err)
		}
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		t.Parallel()

		_, err := decodeContent([]byte("not gzip at all"), "gzip", 0)
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("expected ErrInvalidResponse, got %v", err)
		}
	})

	t.Run("decompression bomb is bounded", func(t *testing.T) {
		t.Parallel()

		body := compress(t, "gzip", make([]byte, 1<<20))
		_, err := decodeContent(body, "gzip", 1024)
		if !errors.Is(err, ErrBodyTooLarge) {
			t.Errorf("expected ErrBodyTooLarge, got %v", err)
		}
	})
}

func TestRegisterEncoding(t *testing.T) {
	t.Parallel()

	RegisterEncoding("X-Upper", func(r io.Reader) (io.Reader, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return strings.NewReader(strings.ToLower(string(data))), nil
	})

	got, err := decodeContent([]byte("HELLO"), "x-upper", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	found := false
	for _, name := range Encodings() {
		if name == "x-upper" {
			found = true
		}
	}
	if !found {
		t.Error("registered encoding missing from Encodings()")
	}
}
