package model

import (
	"net/textproto"
	"sort"
)

// Headers is a case-insensitive header mapping.
// Keys are stored in canonical MIME form so "content-type" and
// "Content-Type" address the same entry. Multi-valued headers are not
// modelled; the last value set wins, matching how requests are built.
type Headers map[string]string

// NewHeaders builds Headers from a plain map, canonicalizing keys.
func NewHeaders(m map[string]string) Headers {
	h := make(Headers, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

// Get returns the value for key, or "" when absent.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Set stores value under the canonical form of key.
func (h Headers) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Del removes key.
func (h Headers) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// SetDefault stores value only when key is not already present.
func (h Headers) SetDefault(key, value string) {
	if !h.Has(key) {
		h.Set(key, value)
	}
}

// Clone returns an independent copy. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Keys returns the header names in sorted order.
func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
