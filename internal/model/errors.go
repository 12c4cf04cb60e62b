package model

import "errors"

var (
	// ErrMissingScheme is returned when a request URL has no scheme.
	// Relative URLs must be resolved against the response they came from
	// before a Request is built.
	ErrMissingScheme = errors.New("request url has no scheme")

	// ErrMissingHost is returned when a request URL has no host.
	ErrMissingHost = errors.New("request url has no host")

	// ErrNotJSON is returned by Response.JSON when the body is empty.
	ErrNotJSON = errors.New("response body is empty")
)
