package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
)

// StatusError is the status code forced onto a Response that carries a
// transport error (connection reset, timeout).
const StatusError = http.StatusBadRequest

// Response is the result of downloading a Request.
// It is never mutated after the downloader returns it; use Replace to
// derive a modified copy.
type Response struct {
	// URL is the final URL after any redirects.
	URL string

	// Status is the HTTP status code, or StatusError when Err is set.
	Status int

	// Headers are the response headers.
	Headers Headers

	// Cookies are the cookies set by this response.
	Cookies map[string]string

	// Body is the decoded (content-encoding removed) body.
	Body []byte

	// Text is Body decoded with the response charset. Empty for binary
	// content types.
	Text string

	// Decoded is the value produced by the body codec registered for the
	// response content type (for example the parsed JSON document).
	Decoded any

	// Request is the request that produced this response.
	Request *Request

	// Err is the transport error, if any.
	Err error
}

// ResponseOption configures a derived Response.
type ResponseOption func(*Response)

// WithStatus overrides the status code.
func WithStatus(status int) ResponseOption {
	return func(r *Response) {
		r.Status = status
	}
}

// WithResponseBody overrides the body and text.
func WithResponseBody(body []byte) ResponseOption {
	return func(r *Response) {
		r.Body = body
		r.Text = string(body)
	}
}

// WithResponseRequest overrides the originating request.
func WithResponseRequest(req *Request) ResponseOption {
	return func(r *Response) {
		r.Request = req
	}
}

// NewErrorResponse builds the response returned for a transport failure.
func NewErrorResponse(req *Request, err error) *Response {
	return &Response{
		URL:     req.URL,
		Status:  StatusError,
		Headers: make(Headers),
		Request: req,
		Err:     err,
	}
}

// OK reports whether the response has no error and a 2xx status.
func (r *Response) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// IsRedirect reports whether the response points elsewhere.
func (r *Response) IsRedirect() bool {
	return r.Err == nil && r.Status >= 300 && r.Status < 400 && r.Headers.Has("Location")
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Headers.Get("Content-Type")
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return ErrNotJSON
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode json response from %s: %w", r.URL, err)
	}
	return nil
}

// Replace returns a shallow copy of the response with opts applied.
func (r *Response) Replace(opts ...ResponseOption) *Response {
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Cookies != nil {
		c.Cookies = maps.Clone(r.Cookies)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// String implements fmt.Stringer.
func (r *Response) String() string {
	return fmt.Sprintf("<Response %d %s>", r.Status, r.URL)
}
