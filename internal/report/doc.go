// Package report renders crawl summaries.
//
// Writers take a *stats.Summary and render it for a destination:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: JSON for other tools
//   - MarkdownWriter: GitHub-flavored Markdown for sharing
//
// MultiWriter fans one summary out to several writers.
package report
