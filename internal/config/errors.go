package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() so callers can use
// errors.Is() to tell which option is wrong.
//
// Design decision: Validate returns the first sentinel it hits instead of
// joining every problem, which keeps CLI error messages to one line.
var (
	// ErrNoTarget is returned when no seed URL is given.
	ErrNoTarget = errors.New("no target specified: provide at least one seed url")

	// ErrInvalidWorkerNum is returned when the number of crawl workers is not positive.
	ErrInvalidWorkerNum = errors.New("invalid worker number: must be positive")

	// ErrInvalidMaxWorkers is returned when the task pool cap is lower than
	// the number of crawl workers, which would starve the engine.
	ErrInvalidMaxWorkers = errors.New("invalid max workers: must be at least the worker number")

	// ErrInvalidMaxDownloads is returned when the concurrent download cap is not positive.
	ErrInvalidMaxDownloads = errors.New("invalid max downloads: must be positive")

	// ErrInvalidTimeout is returned when the timeout is negative.
	// Zero disables the timeout.
	ErrInvalidTimeout = errors.New("invalid timeout: must be non-negative")

	// ErrInvalidDelay is returned when the inter-request delay is negative.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrInvalidIdleTime is returned when the worker idle timeout is not positive.
	ErrInvalidIdleTime = errors.New("invalid worker idle time: must be positive")

	// ErrInvalidMaxRedirects is returned when the redirect cap is negative.
	ErrInvalidMaxRedirects = errors.New("invalid max redirects: must be non-negative")

	// ErrInvalidErrorRate is returned when the filter error rate is outside (0, 1).
	ErrInvalidErrorRate = errors.New("invalid error rate: must be between 0 and 1")

	// ErrInvalidCapacity is returned when the filter capacity is not positive.
	ErrInvalidCapacity = errors.New("invalid initial capacity: must be positive")

	// ErrInvalidLimit is returned when a rate limit rule has a non-positive
	// count or period, or a pattern that does not compile.
	ErrInvalidLimit = errors.New("invalid rate limit rule")

	// ErrUnknownScheduler is returned when the scheduler kind is neither
	// "memory" nor "redis".
	ErrUnknownScheduler = errors.New("unknown scheduler: must be memory or redis")

	// ErrInvalidRedisAddr is returned when the redis scheduler is selected
	// without an address.
	ErrInvalidRedisAddr = errors.New("invalid redis address: required for the redis scheduler")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidMaxDepth is returned when the link depth limit is negative.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be non-negative")

	// ErrConflictingProxy is returned when both a proxy and the embedded
	// Tor daemon are requested.
	ErrConflictingProxy = errors.New("conflicting proxies: --tor cannot be used with a proxy")
)
