// Package main provides the entry point for the sprite CLI.
//
// sprite is a web crawler. It follows links from the given seed URLs,
// extracts page items and prints a crawl summary.
//
// Usage:
//
//	sprite crawl <url>...
//	sprite history [spider]
//
// See --help for all available options.
package main

// main is the entry point for sprite.
func main() {
	Execute()
}
