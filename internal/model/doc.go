// Package model defines the values that flow through a crawl.
//
// This package contains the following main types:
//   - Request: a single fetch to perform, with its callback name and metadata
//   - Response: the outcome of a fetch, always linked to its Request
//   - Item: an extracted record handed to pipelines
//   - Result: the tagged union returned by spider callbacks
//
// The types live in their own package so the scheduler, downloader,
// middleware and engine packages can share them without import cycles.
package model
