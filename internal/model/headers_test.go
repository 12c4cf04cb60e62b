package model

import "testing"

func TestHeadersCaseInsensitive(t *testing.T) {
	t.Parallel()

	h := NewHeaders(map[string]string{"content-type": "text/html"})
	if got := h.Get("Content-Type"); got != "text/html" {
		t.Errorf("expected text/html, got %q", got)
	}
	h.SetDefault("CONTENT-TYPE", "application/json")
	if got := h.Get("content-type"); got != "text/html" {
		t.Errorf("SetDefault must not overwrite, got %q", got)
	}
	h.Del("Content-type")
	if h.Has("content-type") {
		t.Error("expected header to be removed")
	}

	var nilHeaders Headers
	if nilHeaders.Get("x") != "" || nilHeaders.Has("x") {
		t.Error("nil headers must read as empty")
	}
}
