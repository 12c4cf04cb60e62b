// Package engine drives crawls.
//
// An Engine owns one crawl: it seeds the scheduler from the spider,
// runs a fixed number of crawl loops on a task execution pool, and
// routes every request through the middleware hooks, the downloader and
// the spider callback. Callback results are handled recursively: nested
// sequences are walked, suspended operations are awaited, requests go
// back to the scheduler and items go to the pipeline hooks.
//
// The lifecycle is STOPPED -> RUNNING <-> PAUSE -> STOPPED. Run starts
// the crawl, Pause and Reduction suspend and resume it, and Stop asks
// the loops to finish their current request and exit. Transitions that
// are not allowed from the current state panic with ErrInvalidTransition.
//
// Runner runs several engines side by side and is the surface a remote
// control server would drive.
package engine
