package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/sprite/internal/stats"
)

// failureWarnRate is the failure percentage above which the Markdown
// report raises a warning.
const failureWarnRate = 10.0

// MarkdownWriter outputs summaries in GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(summary *stats.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, summary)
	w.writeCounts(md, summary)
	w.writeStatuses(md, summary)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the crawl information table.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *stats.Summary) {
	md.H1("Sprite Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Spider", "`" + s.Spider + "`"},
		{"Started", formatTime(s, false)},
		{"Finished", formatTime(s, true)},
		{"Duration", s.Duration().Round(time.Millisecond).String()},
	}
	if s.RunID != "" {
		rows = append(rows, []string{"Run", "`" + s.RunID + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeCounts writes the counters table and an alert on the failure rate.
func (w *MarkdownWriter) writeCounts(md *markdown.Markdown, s *stats.Summary) {
	md.H2("Summary")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Counter", "Value"},
		Rows: [][]string{
			{"Downloaded", strconv.Itoa(s.Downloaded)},
			{"Succeeded", strconv.Itoa(s.Succeeded)},
			{"Failed", strconv.Itoa(s.Failed)},
			{"Items", strconv.Itoa(s.Items)},
			{"Dropped", strconv.Itoa(s.Dropped)},
			{"Errors", strconv.Itoa(s.Errors)},
		},
	})
	md.PlainText("")

	rate := failureRate(s)
	switch {
	case s.Downloaded == 0:
		md.Note("Nothing was downloaded.")
	case s.Succeeded == 0:
		md.Cautionf("Every download failed (%d of %d).", s.Failed, s.Downloaded)
	case rate > failureWarnRate:
		md.Warningf("%.1f%% of downloads failed.", rate)
	case s.Errors > 0:
		md.Importantf("%d callback or hook error(s) were logged.", s.Errors)
	default:
		md.Tip("Crawl completed without failures.")
	}
	md.PlainText("")
}

// writeStatuses writes the response status table and pie chart.
func (w *MarkdownWriter) writeStatuses(md *markdown.Markdown, s *stats.Summary) {
	md.H2("Response Status")
	md.PlainText("")

	if len(s.Status) == 0 {
		md.PlainText("No responses recorded.")
		md.PlainText("")
		return
	}

	codes := statusCodes(s)
	rows := make([][]string, len(codes))
	for i, code := range codes {
		rows[i] = []string{strconv.Itoa(code), strconv.Itoa(s.Status[code])}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(codes) > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Response Status Distribution"),
			piechart.WithShowData(true),
		)
		for _, code := range codes {
			chart.LabelAndIntValue(strconv.Itoa(code), uint64(s.Status[code]))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [sprite](https://github.com/nao1215/sprite)*")
}
