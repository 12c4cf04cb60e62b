// Package config provides the settings consumed by the crawl engine and
// its collaborators.
//
// Config holds the flat set of options (worker caps, download limits,
// timeouts, deduplication filter sizing, persistence). File is the YAML
// configuration file that can override those settings and carry
// per-site headers, cookies and proxies.
package config
