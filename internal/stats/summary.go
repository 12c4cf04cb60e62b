package stats

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Summary is the outcome of one crawl.
type Summary struct {
	Spider     string      `json:"spider"`
	RunID      string      `json:"run_id,omitempty"`
	Started    time.Time   `json:"started"`
	Finished   time.Time   `json:"finished"`
	Downloaded int         `json:"downloaded"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Items      int         `json:"items"`
	Dropped    int         `json:"dropped"`
	Errors     int         `json:"errors"`
	Status     map[int]int `json:"status,omitempty"`
}

// Duration returns how long the crawl ran. An unfinished crawl reports
// zero.
func (s *Summary) Duration() time.Duration {
	if s.Started.IsZero() || s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// CrawlerCounter aggregates the counts of one crawl.
// It is safe for concurrent use.
type CrawlerCounter struct {
	logger    *slog.Logger
	metrics   *Metrics
	items     *Counter
	responses *Counter

	mu      sync.Mutex
	summary Summary
}

// CrawlerCounterOption configures a CrawlerCounter.
type CrawlerCounterOption func(*CrawlerCounter)

// WithUnits sets the item and response speed report units.
func WithUnits(item, response time.Duration) CrawlerCounterOption {
	return func(c *CrawlerCounter) {
		c.items = NewCounter(item)
		c.responses = NewCounter(response)
	}
}

// WithCounterLogger sets the logger that receives speed reports.
func WithCounterLogger(logger *slog.Logger) CrawlerCounterOption {
	return func(c *CrawlerCounter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics mirrors the counts to m.
func WithMetrics(m *Metrics) CrawlerCounterOption {
	return func(c *CrawlerCounter) {
		c.metrics = m
	}
}

// NewCrawlerCounter creates a counter for the named spider.
func NewCrawlerCounter(spider string, opts ...CrawlerCounterOption) *CrawlerCounter {
	c := &CrawlerCounter{
		logger:    slog.New(slog.DiscardHandler),
		items:     NewCounter(time.Minute),
		responses: NewCounter(time.Minute),
		summary: Summary{
			Spider: spider,
			Status: make(map[int]int),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetRunID records the identifier of the run.
func (c *CrawlerCounter) SetRunID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.RunID = id
}

// Start marks the crawl start time.
func (c *CrawlerCounter) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Started = time.Now()
	c.summary.Finished = time.Time{}
}

// Finish marks the crawl end time.
func (c *CrawlerCounter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Finished = time.Now()
}

// RecordSuccess counts a completed download with the given status.
func (c *CrawlerCounter) RecordSuccess(status int, elapsed time.Duration) {
	c.mu.Lock()
	c.summary.Downloaded++
	c.summary.Succeeded++
	c.summary.Status[status]++
	spider := c.summary.Spider
	c.mu.Unlock()

	c.metrics.ObserveDownload(spider, status, elapsed, true)
}

// RecordFailure counts a download that ended in a transport error or
// never produced a response. status is the error status when a response
// exists, zero otherwise.
func (c *CrawlerCounter) RecordFailure(status int, elapsed time.Duration) {
	c.mu.Lock()
	c.summary.Downloaded++
	c.summary.Failed++
	if status != 0 {
		c.summary.Status[status]++
	}
	spider := c.summary.Spider
	c.mu.Unlock()

	c.metrics.ObserveDownload(spider, status, elapsed, false)
}

// RecordDropped counts an item dropped by the pipeline.
func (c *CrawlerCounter) RecordDropped() {
	c.mu.Lock()
	c.summary.Dropped++
	spider := c.summary.Spider
	c.mu.Unlock()

	c.metrics.ObserveDropped(spider)
}

// RecordError counts a callback or hook failure.
func (c *CrawlerCounter) RecordError() {
	c.mu.Lock()
	c.summary.Errors++
	spider := c.summary.Spider
	c.mu.Unlock()

	c.metrics.ObserveError(spider)
}

// ItemDot counts an item that passed the pipeline and logs the item
// speed once per unit.
func (c *CrawlerCounter) ItemDot() {
	c.mu.Lock()
	c.summary.Items++
	spider := c.summary.Spider
	c.mu.Unlock()

	c.metrics.ObserveItem(spider)
	if speed, n, ok := c.items.Dot(); ok {
		c.logger.Info("item speed",
			"spider", spider,
			"per_unit", speed,
			"count", n,
			"unit", c.items.Unit(),
		)
	}
}

// ResponseDot logs the response speed once per unit.
func (c *CrawlerCounter) ResponseDot() {
	if speed, n, ok := c.responses.Dot(); ok {
		c.logger.Info("response speed",
			"spider", c.Spider(),
			"per_unit", speed,
			"count", n,
			"unit", c.responses.Unit(),
		)
	}
}

// Spider returns the spider name.
func (c *CrawlerCounter) Spider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary.Spider
}

// Summary returns a copy of the current counts.
func (c *CrawlerCounter) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summary
	s.Status = maps.Clone(c.summary.Status)
	return s
}
