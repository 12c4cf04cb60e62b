// Package database provides SQLite storage for crawl output.
//
// ItemDB keeps two tables: items, holding every item that passed the
// pipeline as JSON, and crawl_runs, holding one row per crawl with its
// summary counts. The history command reads crawl_runs to compare runs.
//
// The driver is modernc.org/sqlite, which needs no cgo.
package database
