package report

import (
	"io"
	"sort"

	"github.com/nao1215/sprite/internal/stats"
)

// Writer renders a crawl summary.
type Writer interface {
	// Write outputs the summary to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(summary *stats.Summary) (int, error)
}

// MultiWriter writes to multiple Writers in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the summary to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(summary *stats.Summary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// statusCodes returns the status codes of s in ascending order.
func statusCodes(s *stats.Summary) []int {
	codes := make([]int, 0, len(s.Status))
	for code := range s.Status {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// failureRate returns the share of failed downloads in percent.
func failureRate(s *stats.Summary) float64 {
	if s.Downloaded == 0 {
		return 0
	}
	return float64(s.Failed) * 100 / float64(s.Downloaded)
}

const timeLayout = "2006-01-02 15:04:05 MST"

func formatTime(s *stats.Summary, finished bool) string {
	t := s.Started
	if finished {
		t = s.Finished
	}
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}
