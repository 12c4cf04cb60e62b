package model

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()

	t.Run("defaults to GET with no callback", func(t *testing.T) {
		t.Parallel()
		r, err := NewRequest("http://example.test/a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Callback != "" {
			t.Errorf("expected empty callback, got %q", r.Callback)
		}
		if r.Priority != 0 {
			t.Errorf("expected priority 0, got %d", r.Priority)
		}
	})

	t.Run("rejects relative url", func(t *testing.T) {
		t.Parallel()
		_, err := NewRequest("/a")
		if !errors.Is(err, ErrMissingScheme) {
			t.Errorf("expected ErrMissingScheme, got %v", err)
		}
	})

	t.Run("rejects url without host", func(t *testing.T) {
		t.Parallel()
		_, err := NewRequest("http://")
		if !errors.Is(err, ErrMissingHost) {
			t.Errorf("expected ErrMissingHost, got %v", err)
		}
	})

	t.Run("form switches method to POST", func(t *testing.T) {
		t.Parallel()
		r := MustRequest("http://example.test/", WithForm(url.Values{"a": {"1"}}))
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
	})

	t.Run("options are applied", func(t *testing.T) {
		t.Parallel()
		r := MustRequest("http://example.test/",
			WithPriority(-3),
			WithDontFilter(true),
			WithCallback("detail"),
			WithHeader("x-token", "abc"),
			WithMeta("depth", 2),
		)
		if r.Priority != -3 || !r.DontFilter || r.Callback != "detail" {
			t.Errorf("options not applied: %+v", r)
		}
		if r.Headers.Get("X-Token") != "abc" {
			t.Errorf("expected header to be stored canonically, got %v", r.Headers)
		}
		if r.MetaInt("depth") != 2 {
			t.Errorf("expected depth 2, got %d", r.MetaInt("depth"))
		}
	})
}

func TestRequestFingerprint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    *Request
		b    *Request
		same bool
	}{
		{
			name: "fragment is ignored",
			a:    MustRequest("http://example.test/a#top"),
			b:    MustRequest("http://example.test/a"),
			same: true,
		},
		{
			name: "host case is ignored",
			a:    MustRequest("http://EXAMPLE.test/a"),
			b:    MustRequest("http://example.test/a"),
			same: true,
		},
		{
			name: "query order is ignored",
			a:    MustRequest("http://example.test/a?b=2&a=1"),
			b:    MustRequest("http://example.test/a?a=1&b=2"),
			same: true,
		},
		{
			name: "query option merges with url",
			a:    MustRequest("http://example.test/a", WithQuery(url.Values{"a": {"1"}})),
			b:    MustRequest("http://example.test/a?a=1"),
			same: true,
		},
		{
			name: "method is part of identity",
			a:    MustRequest("http://example.test/a", WithMethod("POST")),
			b:    MustRequest("http://example.test/a"),
			same: false,
		},
		{
			name: "form data is part of identity",
			a:    MustRequest("http://example.test/a", WithForm(url.Values{"q": {"x"}})),
			b:    MustRequest("http://example.test/a", WithForm(url.Values{"q": {"y"}})),
			same: false,
		},
		{
			name: "different paths differ",
			a:    MustRequest("http://example.test/a"),
			b:    MustRequest("http://example.test/b"),
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.a.Fingerprint() == tt.b.Fingerprint()
			if got != tt.same {
				t.Errorf("fingerprints %q and %q: expected same=%v", tt.a.Fingerprint(), tt.b.Fingerprint(), tt.same)
			}
		})
	}
}

func TestRequestReplace(t *testing.T) {
	t.Parallel()

	orig := MustRequest("http://example.test/a",
		WithHeader("Accept", "text/html"),
		WithMeta("k", "v"),
	)
	next := orig.Replace(WithMethod("GET"), WithHeader("Accept", "application/json"), WithMeta("k", "w"))

	if orig.Headers.Get("Accept") != "text/html" {
		t.Errorf("original headers mutated: %v", orig.Headers)
	}
	if orig.MetaString("k") != "v" {
		t.Errorf("original meta mutated: %v", orig.Meta)
	}
	if next.Headers.Get("Accept") != "application/json" || next.MetaString("k") != "w" {
		t.Errorf("replacement not applied: %+v", next)
	}
}

func TestRequestHost(t *testing.T) {
	t.Parallel()

	r := MustRequest("https://Example.Test:8443/x")
	if got := r.Host(); got != "example.test" {
		t.Errorf("expected example.test, got %q", got)
	}
}
