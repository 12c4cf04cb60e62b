// Package stats counts what a crawl does.
//
// Counter measures event speed over fixed units of time and reports once
// per elapsed unit. CrawlerCounter aggregates the download, item and
// status counts of one crawl into a Summary, and Metrics exports the
// same events to Prometheus.
package stats
