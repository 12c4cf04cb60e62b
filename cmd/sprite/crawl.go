package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/database"
	"github.com/nao1215/sprite/internal/download"
	"github.com/nao1215/sprite/internal/engine"
	"github.com/nao1215/sprite/internal/middleware"
	"github.com/nao1215/sprite/internal/pipeline"
	"github.com/nao1215/sprite/internal/report"
	"github.com/nao1215/sprite/internal/spider"
	"github.com/nao1215/sprite/internal/stats"
	"github.com/nao1215/sprite/internal/tor"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl web sites from seed URLs",
		Long: `Crawl follows links from each seed URL and records one item per page.

Every seed host is crawled by its own spider named after the host. Pages
are fetched with bounded concurrency and rate limits, links are followed
up to --depth and --max-pages, and page items go through the item
pipeline: stored in SQLite with --save and written as JSON lines with
--output. A summary report is printed when the crawl ends.

Press Ctrl+C to stop gracefully: in-flight requests finish and, with
--persist, the pending queue is saved and resumed by the next run.

Examples:
  # Crawl a site two levels deep
  sprite crawl --depth 2 https://example.com/

  # Save items to the database and a JSON lines file
  sprite crawl --save -o items.jsonl https://example.com/

  # Crawl several sites, obey robots.txt and print a Markdown report
  sprite crawl --robots --markdown https://a.example https://b.example

  # Share the queue between runs through redis
  sprite crawl --scheduler redis --redis-addr 127.0.0.1:6379 https://example.com/

Configuration file (.sprite) example:
  settings:
    delay: 500ms
    limits:
      - count: 10
        period: 1m
  sites:
    example.com:
      cookie: "session_id=abc123"
      headers:
        Authorization: "Bearer token"
      depth: 5`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .sprite in current or home directory)")

	// Concurrency and pacing
	cmd.Flags().IntP("workers", "w", config.DefaultWorkerNum,
		"Number of concurrent crawl loops per spider")
	cmd.Flags().Int("max-downloads", config.DefaultMaxDownloads,
		"Maximum simultaneous downloads")
	cmd.Flags().Duration("delay", config.DefaultDelay,
		"Pause before every download")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().Int("redirects", config.DefaultMaxRedirects,
		"Follow up to this many redirects (0 disables following)")

	// Link following
	cmd.Flags().IntP("depth", "d", config.DefaultMaxDepth,
		"Maximum link depth from the seed URLs")
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages per spider (0 for no limit)")
	cmd.Flags().StringSlice("follow", nil,
		"Only follow links whose path matches one of these patterns")
	cmd.Flags().StringSlice("ignore", nil,
		"Never follow links whose path matches one of these patterns")
	cmd.Flags().Bool("robots", false,
		"Obey robots.txt")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and crawl through it (required for .onion seeds without a proxy)")

	// Scheduler
	cmd.Flags().Bool("persist", false,
		"Save the pending queue on shutdown and resume it on the next run")
	cmd.Flags().String("job-dir", "",
		"Directory for queue snapshots (default: XDG data directory)")
	cmd.Flags().String("scheduler", config.SchedulerMemory,
		"Scheduler implementation: memory or redis")
	cmd.Flags().String("redis-addr", config.DefaultRedisAddr,
		"Redis address for the redis scheduler")

	// Output
	cmd.Flags().Bool("save", false,
		"Store items and the run summary in the database")
	cmd.Flags().StringP("output", "o", "",
		"Write items as JSON lines to this file")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().String("report", "",
		"Write the report to this file instead of stdout")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g., :9090)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := newCrawl(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.close()

	// The first signal stops the engines gracefully, the second cancels.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		logger.Info("received shutdown signal, stopping crawls...")
		c.runner.StopAll()
		select {
		case <-sigCh:
			logger.Warn("received second signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	summaries, runErr := c.run(ctx)
	if err := outputReports(cmd.OutOrStdout(), cfg, summaries); err != nil {
		logger.Error("report failed", "error", err)
	}
	return runErr
}

// buildConfig creates a Config from the configuration file and the
// command flags. Flags override file settings only when set.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicit path must exist; otherwise an empty file is used.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cf, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cf.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}

	ints := map[string]*int{
		"workers":       &cfg.WorkerNum,
		"max-downloads": &cfg.MaxDownloads,
		"depth":         &cfg.MaxDepth,
		"max-pages":     &cfg.MaxPages,
	}
	for name, dst := range ints {
		if flags.Changed(name) {
			if *dst, err = flags.GetInt(name); err != nil {
				return nil, err
			}
		}
	}

	durations := map[string]*time.Duration{
		"delay":   &cfg.Delay,
		"timeout": &cfg.Timeout,
	}
	for name, dst := range durations {
		if flags.Changed(name) {
			if *dst, err = flags.GetDuration(name); err != nil {
				return nil, err
			}
		}
	}

	if flags.Changed("redirects") {
		if cfg.MaxRedirects, err = flags.GetInt("redirects"); err != nil {
			return nil, err
		}
		cfg.FollowRedirects = cfg.MaxRedirects > 0
	}

	bools := map[string]*bool{
		"robots":  &cfg.ObeyRobots,
		"persist": &cfg.Persist,
		"save":    &cfg.SaveItems,
		"tor":     &cfg.Tor,
	}
	for name, dst := range bools {
		if flags.Changed(name) {
			if *dst, err = flags.GetBool(name); err != nil {
				return nil, err
			}
		}
	}

	strs := map[string]*string{
		"job-dir":    &cfg.JobDir,
		"scheduler":  &cfg.Scheduler,
		"redis-addr": &cfg.RedisAddr,
	}
	for name, dst := range strs {
		if flags.Changed(name) {
			if *dst, err = flags.GetString(name); err != nil {
				return nil, err
			}
		}
	}

	if cfg.FollowPatterns, err = flags.GetStringSlice("follow"); err != nil {
		return nil, err
	}
	if cfg.IgnorePatterns, err = flags.GetStringSlice("ignore"); err != nil {
		return nil, err
	}
	if cfg.ItemsFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("report"); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString("metrics-addr"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	cfg.Targets = args
	return cfg, nil
}

// crawl holds the engines and the resources they share.
type crawl struct {
	cfg    *config.Config
	logger *slog.Logger
	runner *engine.Runner

	db      *database.ItemDB
	items   *os.File
	robots  *download.Session
	metrics *http.Server
	tor     *tor.Daemon
	runIDs  map[string]string
}

// newCrawl builds one engine per seed URL.
func newCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *crawl, err error) {
	c := &crawl{
		cfg:    cfg,
		logger: logger,
		runner: engine.NewRunner(engine.WithConcurrency(len(cfg.Targets)), engine.WithRunnerLogger(logger)),
		runIDs: make(map[string]string),
	}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if err := checkOnionTargets(cfg); err != nil {
		return nil, err
	}
	if cfg.Tor {
		c.tor = tor.NewDaemon(tor.WithStartupTimeout(cfg.TorStartupTimeout), tor.WithLogger(logger))
		if err := c.tor.Start(ctx); err != nil {
			return nil, err
		}
		if cfg.Proxy, err = c.tor.ProxyURL(); err != nil {
			return nil, err
		}
	}

	var metrics *stats.Metrics
	if cfg.MetricsAddr != "" {
		if metrics, err = c.serveMetrics(); err != nil {
			return nil, err
		}
	}

	if cfg.SaveItems {
		c.db, err = database.Open(cfg.ResolvedDBDir(), database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "path", c.db.Path())
	}

	var jsonLines *pipeline.JSONLinesStep
	if cfg.ItemsFile != "" {
		if c.items, err = createFile(cfg.ItemsFile); err != nil {
			return nil, err
		}
		jsonLines = pipeline.NewJSONLinesStep(c.items)
	}

	var robots *middleware.Robots
	if cfg.ObeyRobots {
		if c.robots, err = download.NewSessionFromConfig(cfg, logger); err != nil {
			return nil, fmt.Errorf("create robots session: %w", err)
		}
		robots = middleware.NewRobots(c.robots, cfg.Headers["User-Agent"], middleware.WithRobotsLogger(logger))
	}

	seen := make(map[string]bool)
	for _, target := range cfg.Targets {
		name := spiderName(target)
		if seen[name] {
			return nil, fmt.Errorf("duplicate seed host %q: give one seed url per host", name)
		}
		seen[name] = true

		e, err := c.newEngine(ctx, target, name, metrics, robots, jsonLines)
		if err != nil {
			return nil, err
		}
		c.runner.Add(e)
	}
	return c, nil
}

// newEngine builds the spider, hooks and pipeline for one seed URL.
func (c *crawl) newEngine(ctx context.Context, target, name string, metrics *stats.Metrics, robots *middleware.Robots, jsonLines *pipeline.JSONLinesStep) (*engine.Engine, error) {
	cfg := *c.cfg
	cfg.Targets = []string{target}

	s, err := spider.NewLinkSpiderFromConfig(name, &cfg, cfg.SiteConfigs, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create spider %s: %w", name, err)
	}

	mw := middleware.NewManager()
	if robots != nil {
		mw.UseRequest(robots.Hook())
	}
	mw.UseRequest(middleware.SiteHeaders(cfg.SiteConfigs))

	p := pipeline.New(pipeline.WithLogger(c.logger), pipeline.WithContinueOnError(true))
	p.AddStep(pipeline.NewRequireFieldsStep("url"))

	var runID string
	if c.db != nil {
		if runID, err = c.db.StartRun(ctx, name); err != nil {
			return nil, fmt.Errorf("start run for %s: %w", name, err)
		}
		c.runIDs[name] = runID
		p.AddStep(pipeline.NewStoreStep(c.db, pipeline.WithRunID(runID)))
	}
	if jsonLines != nil {
		p.AddStep(jsonLines)
	}
	if cfg.Verbose {
		p.AddStep(pipeline.NewLogStep(c.logger))
	}
	mw.UseItem(p.Hook())

	e, err := engine.NewFromConfig(&cfg, s, mw, c.logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", name, err)
	}
	if runID != "" {
		e.Counter().SetRunID(runID)
	}
	return e, nil
}

// run runs every engine and records the finished runs.
func (c *crawl) run(ctx context.Context) ([]stats.Summary, error) {
	summaries, err := c.runner.Run(ctx)
	if c.db == nil {
		return summaries, err
	}

	// The run context may be cancelled by a second signal.
	saveCtx := context.WithoutCancel(ctx)
	for _, s := range summaries {
		if s.RunID == "" {
			continue
		}
		if ferr := c.db.FinishRun(saveCtx, s.RunID, s); ferr != nil {
			c.logger.Error("failed to save run", "spider", s.Spider, "error", ferr)
			continue
		}
		c.logger.Info("run saved", "spider", s.Spider, "run_id", s.RunID)
	}
	return summaries, err
}

// close releases the shared resources.
func (c *crawl) close() {
	if c.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.metrics.Shutdown(shutdownCtx) //nolint:errcheck // best effort on exit
	}
	if c.robots != nil {
		c.robots.Close()
	}
	if c.items != nil {
		if err := c.items.Close(); err != nil {
			c.logger.Error("failed to close items file", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("failed to close database", "error", err)
		}
	}
	if c.tor != nil {
		if err := c.tor.Stop(); err != nil {
			c.logger.Error("failed to stop Tor daemon", "error", err)
		}
	}
}

// checkOnionTargets validates onion seed URLs. They can only be reached
// through Tor, which resolves the onion host itself.
func checkOnionTargets(cfg *config.Config) error {
	viaTor := cfg.Tor || strings.HasPrefix(strings.ToLower(cfg.Proxy), "socks5h://")
	for _, target := range cfg.Targets {
		if err := tor.CheckURL(target); err != nil {
			return err
		}
		if tor.IsOnionHost(spiderName(target)) && !viaTor {
			return fmt.Errorf("%w: %s", tor.ErrProxyRequired, target)
		}
	}
	return nil
}

// serveMetrics registers the crawl collectors on a fresh registry and
// serves it on cfg.MetricsAddr.
func (c *crawl) serveMetrics() (*stats.Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := stats.NewMetrics(reg)

	ln, err := net.Listen("tcp", c.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	c.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := c.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()
	c.logger.Info("serving metrics", "addr", ln.Addr().String())
	return metrics, nil
}

// spiderName derives the spider name from the seed URL host.
func spiderName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return target
	}
	return strings.ToLower(u.Hostname())
}

// createFile creates path and its parent directories. Items and reports
// may contain session data, so files are only readable by the owner.
func createFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// outputReports writes one report per summary in the requested format.
func outputReports(stdout io.Writer, cfg *config.Config, summaries []stats.Summary) error {
	output := stdout
	if cfg.ReportFile != "" {
		f, err := createFile(cfg.ReportFile)
		if err != nil {
			return err
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = report.NewSimpleWriter(output, report.WithVerbose(cfg.Verbose))
	}

	for i := range summaries {
		if _, err := w.Write(&summaries[i]); err != nil {
			return err
		}
	}
	return nil
}
