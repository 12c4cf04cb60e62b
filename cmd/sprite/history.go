package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/database"
	"github.com/nao1215/sprite/internal/stats"
)

// Direction values of a run comparison.
const (
	directionImproved  = "improved"
	directionWorsened  = "worsened"
	directionUnchanged = "unchanged"
)

// historyTimeLayout is the date format of history listings.
const historyTimeLayout = "2006-01-02 15:04:05"

// errNotEnoughRuns is returned when fewer than two finished runs exist.
var errNotEnoughRuns = errors.New("at least two finished runs are required for comparison")

// RunSnapshot holds the counters of one stored run.
type RunSnapshot struct {
	RunID       string  `json:"run_id"`
	Started     string  `json:"started"`
	Downloaded  int     `json:"downloaded"`
	Failed      int     `json:"failed"`
	Items       int     `json:"items"`
	Errors      int     `json:"errors"`
	FailureRate float64 `json:"failure_rate"`
}

// RunChange holds the differences between two runs.
type RunChange struct {
	Direction       string `json:"direction"`
	DownloadedDelta int    `json:"downloaded_delta"`
	FailedDelta     int    `json:"failed_delta"`
	ItemsDelta      int    `json:"items_delta"`
	ErrorsDelta     int    `json:"errors_delta"`
}

// ComparisonResult is the comparison of the latest two runs of a spider.
type ComparisonResult struct {
	Spider   string      `json:"spider"`
	Previous RunSnapshot `json:"previous"`
	Current  RunSnapshot `json:"current"`
	Change   RunChange   `json:"change"`

	// NewStatuses and GoneStatuses list status codes seen in only one run.
	NewStatuses  []int `json:"new_statuses,omitempty"`
	GoneStatuses []int `json:"gone_statuses,omitempty"`
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [spider]",
		Short: "List stored crawl runs",
		Long: `List the crawl runs stored by 'sprite crawl --save'.

Runs are listed newest first. A spider is named after the host of its seed
URL. Use --run to show the items of one run and --compare to see how the
latest run of a spider differs from the one before it.

Examples:
  # List every stored run
  sprite history

  # List the runs of one spider
  sprite history example.com

  # Compare the latest two runs
  sprite history --compare example.com

  # Show the first items of a run
  sprite history --run 6f1c... --items 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", 20,
		"Maximum number of runs to list (0 for no limit)")
	cmd.Flags().BoolP("compare", "C", false,
		"Compare the latest two finished runs of the spider")
	cmd.Flags().StringP("run", "r", "",
		"Show the items of the run with this id")
	cmd.Flags().Int("items", 10,
		"Maximum number of items shown with --run (0 for all)")
	cmd.Flags().String("db-dir", "",
		"Database directory (default: XDG data directory)")
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output comparison as Markdown (mutually exclusive with --json)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	compare, err := flags.GetBool("compare")
	if err != nil {
		return err
	}
	runID, err := flags.GetString("run")
	if err != nil {
		return err
	}
	itemLimit, err := flags.GetInt("items")
	if err != nil {
		return err
	}
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := flags.GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}

	var spiderName string
	if len(args) > 0 {
		spiderName = args[0]
	}

	cfg := config.NewConfig()
	cfg.DBDir = dbDir
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(cfg.ResolvedDBDir(), opts)
	if err != nil {
		return fmt.Errorf("failed to open database (run 'sprite crawl --save' first): %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case runID != "":
		return showRun(ctx, out, db, runID, itemLimit)
	case compare:
		if spiderName == "" {
			return errors.New("--compare requires a spider name")
		}
		result, err := compareLatestRuns(ctx, db, spiderName)
		if err != nil {
			return err
		}
		switch {
		case jsonOutput:
			return outputComparisonJSON(out, result)
		case markdownOutput:
			return outputComparisonMarkdown(out, result)
		default:
			return outputComparisonText(out, result)
		}
	default:
		return listRuns(ctx, out, db, spiderName, limit)
	}
}

// listRuns prints the stored runs newest first.
func listRuns(ctx context.Context, out io.Writer, db *database.ItemDB, spiderName string, limit int) error {
	runs, err := db.ListRuns(ctx, spiderName, limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		if spiderName != "" {
			fmt.Fprintf(out, "No runs found for %s\n", spiderName)
		} else {
			fmt.Fprintln(out, "No runs found in the database.")
		}
		fmt.Fprintln(out, "\nUse 'sprite crawl --save <url>' to store a crawl.")
		return nil
	}

	fmt.Fprintf(out, "Crawl runs (%d):\n\n", len(runs))
	fmt.Fprintf(out, "  %-36s  %-20s  %-24s  %s\n", "ID", "Started", "Spider", "Summary")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 100))
	for _, run := range runs {
		fmt.Fprintf(out, "  %-36s  %-20s  %-24s  %s\n",
			run.ID,
			run.Started.Local().Format(historyTimeLayout),
			run.Spider,
			formatRunSummary(run.Summary),
		)
	}

	if spiderName != "" {
		fmt.Fprintf(out, "\nUse 'sprite history --compare %s' to compare the latest two runs.\n", spiderName)
	}
	fmt.Fprintln(out, "Use 'sprite history --run <id>' to show the items of a run.")
	return nil
}

// formatRunSummary formats the counters of a run on one line.
func formatRunSummary(s *stats.Summary) string {
	if s == nil {
		return "(unfinished)"
	}
	return fmt.Sprintf("%d pages, %d failed, %d items, %s",
		s.Downloaded, s.Failed, s.Items, s.Duration().Round(100*time.Millisecond))
}

// showRun prints one run and its first items.
func showRun(ctx context.Context, out io.Writer, db *database.ItemDB, runID string, itemLimit int) error {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	total, err := db.CountItems(ctx, runID)
	if err != nil {
		return err
	}
	items, err := db.ListItems(ctx, runID, itemLimit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "Spider:   %s\n", run.Spider)
	fmt.Fprintf(out, "Started:  %s\n", run.Started.Local().Format(historyTimeLayout))
	if !run.Finished.IsZero() {
		fmt.Fprintf(out, "Finished: %s\n", run.Finished.Local().Format(historyTimeLayout))
	}
	fmt.Fprintf(out, "Summary:  %s\n", formatRunSummary(run.Summary))

	fmt.Fprintf(out, "\nItems (%d of %d):\n", len(items), total)
	for _, rec := range items {
		data, err := json.Marshal(rec.Item)
		if err != nil {
			return fmt.Errorf("marshal item %d: %w", rec.ID, err)
		}
		fmt.Fprintf(out, "  %s\n      %s\n", rec.URL, data)
	}
	return nil
}

// compareLatestRuns compares the latest two finished runs of a spider.
func compareLatestRuns(ctx context.Context, db *database.ItemDB, spiderName string) (*ComparisonResult, error) {
	runs, err := db.ListRuns(ctx, spiderName, 0)
	if err != nil {
		return nil, err
	}

	finished := make([]database.Run, 0, 2)
	for _, run := range runs {
		if run.Summary != nil {
			finished = append(finished, run)
		}
		if len(finished) == 2 {
			break
		}
	}
	if len(finished) < 2 {
		return nil, fmt.Errorf("%w: %s has %d", errNotEnoughRuns, spiderName, len(finished))
	}
	return compareRuns(spiderName, &finished[1], &finished[0]), nil
}

// compareRuns returns the differences between previous and current.
func compareRuns(spiderName string, previous, current *database.Run) *ComparisonResult {
	result := &ComparisonResult{
		Spider:   spiderName,
		Previous: snapshot(previous),
		Current:  snapshot(current),
	}
	result.Change = calculateChange(result.Previous, result.Current)

	for code := range current.Summary.Status {
		if _, ok := previous.Summary.Status[code]; !ok {
			result.NewStatuses = append(result.NewStatuses, code)
		}
	}
	for code := range previous.Summary.Status {
		if _, ok := current.Summary.Status[code]; !ok {
			result.GoneStatuses = append(result.GoneStatuses, code)
		}
	}
	slices.Sort(result.NewStatuses)
	slices.Sort(result.GoneStatuses)
	return result
}

func snapshot(run *database.Run) RunSnapshot {
	s := run.Summary
	snap := RunSnapshot{
		RunID:      run.ID,
		Started:    run.Started.Local().Format(historyTimeLayout),
		Downloaded: s.Downloaded,
		Failed:     s.Failed,
		Items:      s.Items,
		Errors:     s.Errors,
	}
	if s.Downloaded > 0 {
		snap.FailureRate = float64(s.Failed) / float64(s.Downloaded) * 100
	}
	return snap
}

// calculateChange derives the deltas and the direction. A lower failure
// rate is an improvement; with equal rates fewer errors are.
func calculateChange(previous, current RunSnapshot) RunChange {
	change := RunChange{
		DownloadedDelta: current.Downloaded - previous.Downloaded,
		FailedDelta:     current.Failed - previous.Failed,
		ItemsDelta:      current.Items - previous.Items,
		ErrorsDelta:     current.Errors - previous.Errors,
		Direction:       directionUnchanged,
	}

	switch {
	case current.FailureRate < previous.FailureRate:
		change.Direction = directionImproved
	case current.FailureRate > previous.FailureRate:
		change.Direction = directionWorsened
	case change.ErrorsDelta < 0:
		change.Direction = directionImproved
	case change.ErrorsDelta > 0:
		change.Direction = directionWorsened
	}
	return change
}

// outputComparisonJSON outputs the comparison result in JSON format.
func outputComparisonJSON(out io.Writer, result *ComparisonResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// outputComparisonMarkdown outputs the comparison result in Markdown format.
func outputComparisonMarkdown(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "# Run Comparison: %s\n\n", result.Spider)
	fmt.Fprintln(out, "## Summary")
	fmt.Fprintf(out, "\n**Status:** %s\n\n", formatDirection(result.Change.Direction))

	prev, cur, ch := result.Previous, result.Current, result.Change
	fmt.Fprintln(out, "| Metric | Previous | Current | Change |")
	fmt.Fprintln(out, "|--------|----------|---------|--------|")
	fmt.Fprintf(out, "| Started | %s | %s | - |\n", prev.Started, cur.Started)
	fmt.Fprintf(out, "| Downloaded | %d | %d | %s |\n", prev.Downloaded, cur.Downloaded, formatDelta(ch.DownloadedDelta))
	fmt.Fprintf(out, "| Failed | %d | %d | %s |\n", prev.Failed, cur.Failed, formatDelta(ch.FailedDelta))
	fmt.Fprintf(out, "| Items | %d | %d | %s |\n", prev.Items, cur.Items, formatDelta(ch.ItemsDelta))
	fmt.Fprintf(out, "| Errors | %d | %d | %s |\n", prev.Errors, cur.Errors, formatDelta(ch.ErrorsDelta))
	fmt.Fprintf(out, "| **Failure rate** | **%.1f%%** | **%.1f%%** | - |\n", prev.FailureRate, cur.FailureRate)

	if len(result.NewStatuses) > 0 {
		fmt.Fprintf(out, "\n## New Status Codes (%d)\n\n", len(result.NewStatuses))
		for _, code := range result.NewStatuses {
			fmt.Fprintf(out, "- `%d`\n", code)
		}
	}
	if len(result.GoneStatuses) > 0 {
		fmt.Fprintf(out, "\n## Gone Status Codes (%d)\n\n", len(result.GoneStatuses))
		for _, code := range result.GoneStatuses {
			fmt.Fprintf(out, "- ~~`%d`~~\n", code)
		}
	}
	return nil
}

// outputComparisonText outputs the comparison result in human-readable text format.
func outputComparisonText(out io.Writer, result *ComparisonResult) error {
	fmt.Fprintf(out, "Run Comparison: %s\n", result.Spider)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "\nStatus: %s\n", formatDirection(result.Change.Direction))

	prev, cur, ch := result.Previous, result.Current, result.Change
	fmt.Fprintf(out, "\nPrevious run: %s (%s)\n", prev.Started, prev.RunID)
	fmt.Fprintf(out, "Current run:  %s (%s)\n", cur.Started, cur.RunID)

	fmt.Fprintf(out, "\n  %-12s  %-10s  %-10s  %-10s\n", "Metric", "Previous", "Current", "Change")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 47))
	rows := []struct {
		name      string
		prev, cur int
		delta     int
	}{
		{"Downloaded", prev.Downloaded, cur.Downloaded, ch.DownloadedDelta},
		{"Failed", prev.Failed, cur.Failed, ch.FailedDelta},
		{"Items", prev.Items, cur.Items, ch.ItemsDelta},
		{"Errors", prev.Errors, cur.Errors, ch.ErrorsDelta},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "  %-12s  %-10d  %-10d  %-10s\n", r.name, r.prev, r.cur, formatDelta(r.delta))
	}
	fmt.Fprintln(out, "  "+strings.Repeat("-", 47))
	fmt.Fprintf(out, "  %-12s  %-10s  %-10s\n", "Failure rate",
		fmt.Sprintf("%.1f%%", prev.FailureRate), fmt.Sprintf("%.1f%%", cur.FailureRate))

	if len(result.NewStatuses) > 0 {
		fmt.Fprintf(out, "\nNew status codes: %s\n", joinInts(result.NewStatuses))
	}
	if len(result.GoneStatuses) > 0 {
		fmt.Fprintf(out, "Gone status codes: %s\n", joinInts(result.GoneStatuses))
	}
	return nil
}

// formatDirection formats the change direction for display.
func formatDirection(direction string) string {
	switch direction {
	case directionImproved:
		return "IMPROVED (fewer failures)"
	case directionWorsened:
		return "WORSENED (more failures)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
