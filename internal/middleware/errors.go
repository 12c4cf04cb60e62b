package middleware

import "errors"

var (
	// ErrInvalidHook is returned when a hook does not have the shape
	// required by its registration point.
	ErrInvalidHook = errors.New("invalid hook signature")

	// ErrUnknownHookPoint is returned for a registration point that does
	// not exist.
	ErrUnknownHookPoint = errors.New("unknown hook point")

	// ErrInvalidHookResult is returned when a request or response hook
	// returns something other than nil, a *model.Request or a
	// *model.Response.
	ErrInvalidHookResult = errors.New("invalid hook result")

	// ErrDisallowed is attached to the synthetic response produced for a
	// request blocked by robots.txt.
	ErrDisallowed = errors.New("disallowed by robots.txt")

	// ErrFilteredStatus is attached to responses dropped by StatusFilter.
	ErrFilteredStatus = errors.New("response status filtered")
)
