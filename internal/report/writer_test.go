package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/sprite/internal/stats"
)

// createTestSummary creates a summary with sample data for testing.
func createTestSummary() *stats.Summary {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &stats.Summary{
		Spider:     "example",
		RunID:      "0b6c3f0e-run",
		Started:    started,
		Finished:   started.Add(90 * time.Second),
		Downloaded: 10,
		Succeeded:  8,
		Failed:     2,
		Items:      7,
		Dropped:    1,
		Errors:     1,
		Status:     map[int]int{200: 7, 404: 1, 400: 2},
	}
}

// TestSimpleWriter tests the human-readable report writer.
func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes report header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "SPRITE CRAWL REPORT") {
			t.Error("expected output to contain header")
		}
		if !strings.Contains(output, "Spider:    example") {
			t.Error("expected output to contain spider name")
		}
		if !strings.Contains(output, "Duration:  1m30s") {
			t.Errorf("expected output to contain duration, got:\n%s", output)
		}
		if strings.Contains(output, "0b6c3f0e-run") {
			t.Error("run id should only be printed in verbose mode")
		}
	})

	t.Run("writes counters", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"DOWNLOADED: 10", "FAILED:     2 (20.0%)", "ITEMS:      7", "DROPPED:    1"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("writes status codes in order", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		i200 := strings.Index(output, "[200] 7")
		i400 := strings.Index(output, "[400] 2")
		i404 := strings.Index(output, "[404] 1")
		if i200 < 0 || i400 < 0 || i404 < 0 {
			t.Fatalf("missing status lines:\n%s", output)
		}
		if i200 >= i400 || i400 >= i404 {
			t.Error("expected status codes in ascending order")
		}
	})

	t.Run("verbose mode includes run id and status text", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithVerbose(true)).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "Run:       0b6c3f0e-run") {
			t.Error("expected verbose output to contain run id")
		}
		if !strings.Contains(output, "Not Found") {
			t.Error("expected verbose output to contain status text")
		}
	})

	t.Run("hides status section without responses", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(&stats.Summary{Spider: "empty"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "RESPONSE STATUS") {
			t.Error("expected status section to be hidden")
		}
		if !strings.Contains(buf.String(), "Started:   -") {
			t.Error("expected unset times to print as -")
		}
	})

	t.Run("shows empty status section with showEmpty", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithShowEmpty(true)).Write(&stats.Summary{Spider: "empty"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No responses") {
			t.Error("expected empty status section")
		}
	})

	t.Run("returns bytes written", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewSimpleWriter(&buf).Write(createTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("n = %d, want %d", n, buf.Len())
		}
	})
}

// TestJSONWriter tests the JSON report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("outputs valid JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var parsed stats.Summary
		if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if parsed.Spider != "example" || parsed.Items != 7 {
			t.Errorf("parsed = %+v", parsed)
		}
		if parsed.Status[404] != 1 {
			t.Errorf("Status[404] = %d, want 1", parsed.Status[404])
		}
	})

	t.Run("compact output by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := strings.TrimSuffix(buf.String(), "\n")
		if strings.Contains(output, "\n") {
			t.Error("expected compact output on a single line")
		}
	})

	t.Run("pretty print with indent", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"spider\"") {
			t.Errorf("expected two-space indentation, got:\n%s", buf.String())
		}
	})

	t.Run("uses custom prefix and indent", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithIndent("//", "\t")).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n//\t\"spider\"") {
			t.Errorf("expected prefix and tab indentation, got:\n%s", buf.String())
		}
	})

	t.Run("wraps summary with version", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithVersion("v1.2.3")).Write(createTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var parsed JSONReport
		if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if parsed.Version != "v1.2.3" {
			t.Errorf("Version = %q, want v1.2.3", parsed.Version)
		}
		if parsed.FailureRate != 20 {
			t.Errorf("FailureRate = %v, want 20", parsed.FailureRate)
		}
		if parsed.Summary == nil || parsed.Summary.Spider != "example" {
			t.Errorf("Summary = %+v", parsed.Summary)
		}
	})
}

// TestMarkdownWriter tests the Markdown report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, s *stats.Summary) string {
		t.Helper()
		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return buf.String()
	}

	t.Run("writes report header", func(t *testing.T) {
		t.Parallel()

		output := write(t, createTestSummary())
		if !strings.Contains(output, "# Sprite Crawl Report") {
			t.Error("expected output to contain H1 header")
		}
		if !strings.Contains(output, "`example`") {
			t.Error("expected output to contain spider name")
		}
		if !strings.Contains(output, "`0b6c3f0e-run`") {
			t.Error("expected output to contain run id")
		}
	})

	t.Run("writes counters and status table", func(t *testing.T) {
		t.Parallel()

		output := write(t, createTestSummary())
		if !strings.Contains(output, "## Summary") {
			t.Error("expected summary section")
		}
		if !strings.Contains(output, "## Response Status") {
			t.Error("expected status section")
		}
		if !strings.Contains(output, "| 404") {
			t.Error("expected status table row for 404")
		}
	})

	t.Run("includes pie chart for several statuses", func(t *testing.T) {
		t.Parallel()

		output := write(t, createTestSummary())
		if !strings.Contains(output, "mermaid") || !strings.Contains(output, "pie") {
			t.Error("expected output to contain mermaid pie chart")
		}
	})

	t.Run("omits pie chart for a single status", func(t *testing.T) {
		t.Parallel()

		s := createTestSummary()
		s.Status = map[int]int{200: 10}
		if strings.Contains(write(t, s), "mermaid") {
			t.Error("expected no pie chart")
		}
	})

	tests := []struct {
		name    string
		summary *stats.Summary
		want    string
	}{
		{
			name:    "warns on high failure rate",
			summary: createTestSummary(),
			want:    "[!WARNING]",
		},
		{
			name:    "cautions when every download failed",
			summary: &stats.Summary{Downloaded: 3, Failed: 3, Status: map[int]int{400: 3}},
			want:    "[!CAUTION]",
		},
		{
			name:    "notes an empty crawl",
			summary: &stats.Summary{},
			want:    "[!NOTE]",
		},
		{
			name:    "flags callback errors",
			summary: &stats.Summary{Downloaded: 10, Succeeded: 10, Errors: 2, Status: map[int]int{200: 10}},
			want:    "[!IMPORTANT]",
		},
		{
			name:    "tips on a clean crawl",
			summary: &stats.Summary{Downloaded: 10, Succeeded: 10, Status: map[int]int{200: 10}},
			want:    "[!TIP]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if output := write(t, tt.summary); !strings.Contains(output, tt.want) {
				t.Errorf("expected %s alert, got:\n%s", tt.want, output)
			}
		})
	}

	t.Run("writes footer with link", func(t *testing.T) {
		t.Parallel()

		if !strings.Contains(write(t, createTestSummary()), "https://github.com/nao1215/sprite") {
			t.Error("expected footer link")
		}
	})
}

// failingWriter is a Writer that always fails.
type failingWriter struct{ err error }

func (f failingWriter) Write(*stats.Summary) (int, error) { return 0, f.err }

// TestMultiWriter tests writing to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var text, js bytes.Buffer
		w := NewMultiWriter(NewSimpleWriter(&text), NewJSONWriter(&js))
		n, err := w.Write(createTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text.Len() == 0 || js.Len() == 0 {
			t.Error("expected both writers to receive output")
		}
		if n != text.Len()+js.Len() {
			t.Errorf("n = %d, want %d", n, text.Len()+js.Len())
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		errBoom := errors.New("boom")
		var after bytes.Buffer
		w := NewMultiWriter(failingWriter{err: errBoom}, NewSimpleWriter(&after))
		if _, err := w.Write(createTestSummary()); !errors.Is(err, errBoom) {
			t.Fatalf("expected %v, got %v", errBoom, err)
		}
		if after.Len() != 0 {
			t.Error("expected later writers to be skipped")
		}
	})

	t.Run("handles empty writers list", func(t *testing.T) {
		t.Parallel()

		n, err := NewMultiWriter().Write(createTestSummary())
		if err != nil || n != 0 {
			t.Errorf("Write() = %d, %v; want 0, nil", n, err)
		}
	})
}
