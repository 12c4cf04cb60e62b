package report

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/sprite/internal/stats"
)

// SimpleWriter outputs human-readable text summaries for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty prints the status section even when nothing was
	// downloaded.
	showEmpty bool

	// verbose adds the run ID and status text.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(summary *stats.Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, summary)
	w.writeCounts(&sb, summary)
	w.writeStatuses(&sb, summary)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func rule(sb *strings.Builder, c string) {
	sb.WriteString(strings.Repeat(c, 70))
	sb.WriteString("\n")
}

func section(sb *strings.Builder, title string) {
	rule(sb, "-")
	sb.WriteString(title)
	sb.WriteString("\n")
	rule(sb, "-")
	sb.WriteString("\n")
}

// writeHeader writes the crawl name and timing.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *stats.Summary) {
	sb.WriteString("\n")
	rule(sb, "=")
	sb.WriteString("                          SPRITE CRAWL REPORT\n")
	rule(sb, "=")
	sb.WriteString("\n")

	fmt.Fprintf(sb, "Spider:    %s\n", s.Spider)
	if w.verbose && s.RunID != "" {
		fmt.Fprintf(sb, "Run:       %s\n", s.RunID)
	}
	fmt.Fprintf(sb, "Started:   %s\n", formatTime(s, false))
	fmt.Fprintf(sb, "Finished:  %s\n", formatTime(s, true))
	fmt.Fprintf(sb, "Duration:  %s\n", s.Duration().Round(time.Millisecond))
	sb.WriteString("\n")
}

// writeCounts writes the download and item counters.
func (w *SimpleWriter) writeCounts(sb *strings.Builder, s *stats.Summary) {
	section(sb, "SUMMARY")

	fmt.Fprintf(sb, "  DOWNLOADED: %d\n", s.Downloaded)
	fmt.Fprintf(sb, "  SUCCEEDED:  %d\n", s.Succeeded)
	fmt.Fprintf(sb, "  FAILED:     %d (%.1f%%)\n", s.Failed, failureRate(s))
	fmt.Fprintf(sb, "  ITEMS:      %d\n", s.Items)
	fmt.Fprintf(sb, "  DROPPED:    %d\n", s.Dropped)
	fmt.Fprintf(sb, "  ERRORS:     %d\n", s.Errors)
	sb.WriteString("\n")
}

// writeStatuses writes one line per response status code.
func (w *SimpleWriter) writeStatuses(sb *strings.Builder, s *stats.Summary) {
	if len(s.Status) == 0 && !w.showEmpty {
		return
	}

	section(sb, "RESPONSE STATUS")
	if len(s.Status) == 0 {
		sb.WriteString("  No responses\n\n")
		return
	}
	for _, code := range statusCodes(s) {
		if w.verbose {
			fmt.Fprintf(sb, "  [%d] %-24s %d\n", code, http.StatusText(code), s.Status[code])
			continue
		}
		fmt.Fprintf(sb, "  [%d] %d\n", code, s.Status[code])
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	rule(sb, "=")
	sb.WriteString("Report generated by sprite\n")
	sb.WriteString("https://github.com/nao1215/sprite\n")
	rule(sb, "=")
}
