package model

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one fetch the engine should perform.
//
// A Request is treated as immutable once it has been handed to a scheduler.
// Retry and redirect logic produce replacement values with Replace rather
// than editing the original in place.
type Request struct {
	// URL is the absolute target URL. Query parameters may live either here
	// or in Query; FullURL merges both.
	URL string `json:"url"`

	// Method is the HTTP method. Empty means GET.
	Method string `json:"method"`

	// Headers are sent in addition to the session defaults.
	Headers Headers `json:"headers,omitempty"`

	// Query holds extra query parameters appended to URL.
	Query url.Values `json:"query,omitempty"`

	// Form is sent as an application/x-www-form-urlencoded body.
	// It takes precedence over Body.
	Form url.Values `json:"form,omitempty"`

	// Body is the raw request body, used when Form is empty.
	Body []byte `json:"body,omitempty"`

	// Cookies are sent with this request only, merged over the session jar.
	Cookies map[string]string `json:"cookies,omitempty"`

	// Priority orders delivery from the scheduler: lower values are served
	// first, and equal priorities are served in enqueue order.
	Priority int `json:"priority"`

	// DontFilter bypasses deduplication.
	DontFilter bool `json:"dont_filter,omitempty"`

	// Meta is a free-form bag carried from request to response.
	// The "proxy" key selects a proxy URL for this request.
	Meta map[string]any `json:"meta,omitempty"`

	// Callback names the spider callback that receives the response.
	// Empty selects the spider's default callback.
	Callback string `json:"callback,omitempty"`

	// Encoding overrides the charset used to decode the response text.
	Encoding string `json:"encoding,omitempty"`
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// WithMethod sets the HTTP method.
func WithMethod(method string) RequestOption {
	return func(r *Request) {
		r.Method = strings.ToUpper(method)
	}
}

// WithHeader sets a single header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(Headers)
		}
		r.Headers.Set(key, value)
	}
}

// WithHeaders merges the given headers into the request.
func WithHeaders(h map[string]string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(Headers, len(h))
		}
		for k, v := range h {
			r.Headers.Set(k, v)
		}
	}
}

// WithQuery sets extra query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *Request) {
		r.Query = q
	}
}

// WithForm sets form data and switches the method to POST when it is
// still the default.
func WithForm(form url.Values) RequestOption {
	return func(r *Request) {
		r.Form = form
		if r.Method == "" || r.Method == http.MethodGet {
			r.Method = http.MethodPost
		}
	}
}

// WithBody sets the raw body.
func WithBody(body []byte) RequestOption {
	return func(r *Request) {
		r.Body = body
	}
}

// WithCookies sets per-request cookies.
func WithCookies(c map[string]string) RequestOption {
	return func(r *Request) {
		r.Cookies = c
	}
}

// WithPriority sets the scheduling priority.
func WithPriority(p int) RequestOption {
	return func(r *Request) {
		r.Priority = p
	}
}

// WithDontFilter exempts the request from deduplication.
func WithDontFilter(v bool) RequestOption {
	return func(r *Request) {
		r.DontFilter = v
	}
}

// WithMeta stores a metadata value.
func WithMeta(key string, value any) RequestOption {
	return func(r *Request) {
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[key] = value
	}
}

// WithCallback names the callback that receives the response.
func WithCallback(name string) RequestOption {
	return func(r *Request) {
		r.Callback = name
	}
}

// WithEncoding sets the response text charset.
func WithEncoding(enc string) RequestOption {
	return func(r *Request) {
		r.Encoding = enc
	}
}

// NewRequest builds a GET request for rawURL and applies opts.
// The URL must be absolute.
func NewRequest(rawURL string, opts ...RequestOption) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingScheme, rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingHost, rawURL)
	}

	r := &Request{
		URL:    rawURL,
		Method: http.MethodGet,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	return r, nil
}

// MustRequest is like NewRequest but panics on error.
// It is meant for static seed lists and tests.
func MustRequest(rawURL string, opts ...RequestOption) *Request {
	r, err := NewRequest(rawURL, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// HTTPMethod returns the method, defaulting to GET.
func (r *Request) HTTPMethod() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// FullURL returns URL with Query merged into its query string.
func (r *Request) FullURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for k, vs := range r.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fingerprint returns the deduplication identity of the request.
//
// For GET requests the identity is the canonical URL: the fragment is
// dropped, scheme and host are lowercased and query parameters are
// sorted. Other methods prefix the method and append the sorted form
// data, or the raw body when there is no form.
func (r *Request) Fingerprint() string {
	canonical := canonicalURL(r.FullURL())
	method := r.HTTPMethod()
	if method == http.MethodGet {
		return canonical
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(canonical)
	if len(r.Form) > 0 {
		b.WriteByte(' ')
		b.WriteString(r.Form.Encode())
	} else if len(r.Body) > 0 {
		b.WriteByte(' ')
		b.Write(r.Body)
	}
	return b.String()
}

// Host returns the lowercased host (without port) of the request URL.
func (r *Request) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Query != nil {
		c.Query = cloneValues(r.Query)
	}
	if r.Form != nil {
		c.Form = cloneValues(r.Form)
	}
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	if r.Cookies != nil {
		c.Cookies = maps.Clone(r.Cookies)
	}
	if r.Meta != nil {
		c.Meta = maps.Clone(r.Meta)
	}
	return &c
}

// Replace returns a copy of the request with opts applied.
func (r *Request) Replace(opts ...RequestOption) *Request {
	c := r.Clone()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MetaString returns Meta[key] when it is a string.
func (r *Request) MetaString(key string) string {
	if r.Meta == nil {
		return ""
	}
	s, _ := r.Meta[key].(string)
	return s
}

// MetaInt returns Meta[key] as an int. JSON-decoded numbers are accepted.
func (r *Request) MetaInt(key string) int {
	if r.Meta == nil {
		return 0
	}
	switch v := r.Meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// String implements fmt.Stringer.
func (r *Request) String() string {
	return fmt.Sprintf("<Request %s %s>", r.HTTPMethod(), r.URL)
}

func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
