// Package download fetches requests over HTTP/1.1 on pooled connections.
//
// A Hub keeps one ConnectionPool per (scheme, host, port, proxy)
// destination. A Session writes requests and reads responses on those
// connections with a WireCodec, follows redirects, retries failures,
// keeps a cookie jar and decodes bodies through the encoding filters and
// the CodecRegistry. The Downloader bounds how many downloads run at
// once and applies the configured delay and rate limits before handing
// a request to the Session.
//
// Connection errors and timeouts are not returned as errors by
// Downloader.Download. They come back as a Response whose Err is set and
// whose Status is model.StatusError, so one broken host cannot stop a
// crawl worker.
package download
