package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "sprite"

	// DefaultWorkerNum is the number of crawl loops the engine runs
	// concurrently. Each loop pulls one request at a time.
	DefaultWorkerNum = 3

	// DefaultMaxDownloads caps simultaneous downloads across all hosts.
	DefaultMaxDownloads = 3

	// DefaultMaxWorkers caps the task pool. The engine only needs a few
	// workers; the cap protects against callers that submit in bursts.
	DefaultMaxWorkers = 256 * 1024

	// DefaultWorkerIdleTime is how long a pool worker may sit idle before
	// it is retired.
	DefaultWorkerIdleTime = 10 * time.Second

	// DefaultDelay is the pause before every download.
	DefaultDelay = 1 * time.Second

	// DefaultTimeout bounds one request/response exchange.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRedirects is the redirect cap when following is enabled.
	DefaultMaxRedirects = 3

	// DefaultInitialCapacity sizes the first layer of the dedup filter.
	DefaultInitialCapacity = 100000

	// DefaultErrorRate is the target false-positive rate of the dedup filter.
	DefaultErrorRate = 0.001

	// DefaultCounterUnit is the interval over which item and response
	// speeds are reported.
	DefaultCounterUnit = 60 * time.Second

	// DefaultMaxBodySize limits the response body read into memory.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultTorStartupTimeout bounds the embedded Tor bootstrap, which
	// usually takes one to three minutes.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultMaxDepth limits link following for the built-in link spider.
	DefaultMaxDepth = 3

	// DefaultMaxPages limits the number of pages the link spider visits.
	DefaultMaxPages = 100

	// DefaultUserAgent identifies sprite in HTTP requests.
	DefaultUserAgent = "sprite/1.0 (+https://github.com/nao1215/sprite)"

	// DefaultRedisAddr is the address used by the redis scheduler.
	DefaultRedisAddr = "127.0.0.1:6379"

	// DefaultRedisPrefix namespaces the redis scheduler keys.
	DefaultRedisPrefix = AppName

	// SchedulerMemory selects the in-process scheduler.
	SchedulerMemory = "memory"

	// SchedulerRedis selects the redis-backed scheduler.
	SchedulerRedis = "redis"
)

// DefaultHeaders returns the headers sent with every request unless a
// request overrides them.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Encoding": "gzip, deflate, br",
		"Accept-Language": "en-US,en;q=0.9",
		"Connection":      "keep-alive",
		"User-Agent":      DefaultUserAgent,
	}
}

// Limit is one rate limit rule: at most Count requests per Period for
// URLs matching Pattern (all URLs when Pattern is empty).
type Limit struct {
	Count      int           `yaml:"count"`
	Period     time.Duration `yaml:"period"`
	Pattern    string        `yaml:"pattern,omitempty"`
	Optimistic bool          `yaml:"optimistic,omitempty"`
}

// Retry configures how many times failed downloads are re-issued.
type Retry struct {
	// NetworkFailures maps an HTTP method to the number of retries after a
	// connection error or timeout.
	NetworkFailures map[string]int `yaml:"network_failures,omitempty"`

	// Responses maps a status code to the number of retries when a
	// response with that status is received.
	Responses map[int]int `yaml:"responses,omitempty"`
}

// DefaultRetry retries GET requests once after a network failure.
func DefaultRetry() Retry {
	return Retry{
		NetworkFailures: map[string]int{"GET": 1},
		Responses:       map[int]int{},
	}
}

// Config holds all configuration options for a crawl.
// It is populated from defaults, the configuration file and CLI flags,
// then passed to the component constructors.
//
// Design decision: Config is one flat struct shared by every spider of a
// run. Per-host differences such as cookies, headers and link depth live
// in the "sites" section of the configuration file and are looked up by
// host while the engines are built, so components never read the file.
type Config struct {
	// Targets are the seed URLs.
	Targets []string

	// WorkerNum is the number of concurrent crawl loops.
	WorkerNum int

	// MaxWorkers caps the task execution pool.
	MaxWorkers int

	// WorkerIdleTime is the idle threshold after which pool workers are retired.
	WorkerIdleTime time.Duration

	// ReleaseDrainedWorkers retires a pool worker as soon as its inbox
	// drains instead of waiting for the idle threshold.
	ReleaseDrainedWorkers bool

	// MaxDownloads caps simultaneous downloads.
	MaxDownloads int

	// Delay is slept before every download. Zero disables it.
	Delay time.Duration

	// Timeout bounds one request/response exchange. Zero disables it.
	Timeout time.Duration

	// KeepAlive returns connections to the pool after use.
	KeepAlive bool

	// FollowRedirects makes the session follow 3xx responses.
	FollowRedirects bool

	// MaxRedirects caps redirect chains.
	MaxRedirects int

	// Headers are the default request headers.
	Headers map[string]string

	// Limits are the rate limit rules.
	Limits []Limit

	// HostRate is the per-host request rate in requests per second.
	// Zero disables the per-host limiter.
	HostRate float64

	// HostBurst is the per-host token bucket size.
	HostBurst int

	// Retry is the retry strategy.
	Retry Retry

	// InitialCapacity sizes the dedup filter.
	InitialCapacity int

	// ErrorRate is the dedup filter false-positive target.
	ErrorRate float64

	// Persist saves unfinished requests on shutdown and reloads them on start.
	Persist bool

	// JobDir is where scheduler snapshots are written. Empty uses
	// XDGDataDir()/jobs.
	JobDir string

	// Scheduler selects the scheduler implementation.
	Scheduler string

	// RedisAddr, RedisDB and RedisPrefix configure the redis scheduler.
	RedisAddr   string
	RedisDB     int
	RedisPrefix string

	// ItemCounterUnit and ResponseCounterUnit are the speed report intervals.
	ItemCounterUnit     time.Duration
	ResponseCounterUnit time.Duration

	// MaxBodySize limits the body read per response. Zero means the default.
	MaxBodySize int64

	// ObeyRobots drops requests disallowed by robots.txt.
	ObeyRobots bool

	// InsecureTLS skips certificate verification.
	InsecureTLS bool

	// Proxy is the default proxy URL for every request.
	Proxy string

	// Tor starts an embedded Tor daemon and sends every request through
	// its SOCKS port. It cannot be combined with Proxy.
	Tor bool

	// TorStartupTimeout bounds the Tor bootstrap.
	TorStartupTimeout time.Duration

	// MaxDepth and MaxPages bound the built-in link spider.
	MaxDepth int
	MaxPages int

	// FollowPatterns and IgnorePatterns filter discovered links (glob syntax).
	FollowPatterns []string
	IgnorePatterns []string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the explicit configuration file path.
	ConfigFilePath string

	// SiteConfigs holds the loaded configuration file.
	SiteConfigs *File

	// DBDir is the SQLite directory. Empty uses XDGDataDir().
	DBDir string

	// SaveItems stores extracted items and run summaries in the database.
	SaveItems bool

	// ItemsFile receives items as JSON lines when set.
	ItemsFile string

	// JSONReport and MarkdownReport select the summary format.
	JSONReport     bool
	MarkdownReport bool

	// ReportFile receives the summary instead of stdout when set.
	ReportFile string

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		WorkerNum:             DefaultWorkerNum,
		MaxWorkers:            DefaultMaxWorkers,
		WorkerIdleTime:        DefaultWorkerIdleTime,
		ReleaseDrainedWorkers: true,
		MaxDownloads:          DefaultMaxDownloads,
		Delay:                 DefaultDelay,
		Timeout:               DefaultTimeout,
		KeepAlive:             true,
		MaxRedirects:          DefaultMaxRedirects,
		Headers:               DefaultHeaders(),
		HostBurst:             1,
		Retry:                 DefaultRetry(),
		InitialCapacity:       DefaultInitialCapacity,
		ErrorRate:             DefaultErrorRate,
		Scheduler:             SchedulerMemory,
		RedisAddr:             DefaultRedisAddr,
		RedisPrefix:           DefaultRedisPrefix,
		ItemCounterUnit:       DefaultCounterUnit,
		ResponseCounterUnit:   DefaultCounterUnit,
		MaxBodySize:           DefaultMaxBodySize,
		MaxDepth:              DefaultMaxDepth,
		MaxPages:              DefaultMaxPages,
		TorStartupTimeout:     DefaultTorStartupTimeout,
	}
}

// XDGDataDir returns the XDG data directory for sprite.
// On Linux: ~/.local/share/sprite
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for sprite.
// On Linux: ~/.config/sprite
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for sprite.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// ResolvedJobDir returns JobDir, or the default job directory under the
// XDG data directory.
func (c *Config) ResolvedJobDir() string {
	if c.JobDir != "" {
		return c.JobDir
	}
	return filepath.Join(XDGDataDir(), "jobs")
}

// ResolvedDBDir returns DBDir, or the XDG data directory.
func (c *Config) ResolvedDBDir() string {
	if c.DBDir != "" {
		return c.DBDir
	}
	return XDGDataDir()
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.WorkerNum <= 0 {
		return ErrInvalidWorkerNum
	}
	if c.MaxWorkers < c.WorkerNum {
		return ErrInvalidMaxWorkers
	}
	if c.WorkerIdleTime <= 0 {
		return ErrInvalidIdleTime
	}
	if c.MaxDownloads <= 0 {
		return ErrInvalidMaxDownloads
	}
	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Delay < 0 {
		return ErrInvalidDelay
	}
	if c.MaxRedirects < 0 {
		return ErrInvalidMaxRedirects
	}
	if c.InitialCapacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.ErrorRate <= 0 || c.ErrorRate >= 1 {
		return ErrInvalidErrorRate
	}
	for i, l := range c.Limits {
		if err := l.validate(); err != nil {
			return fmt.Errorf("limits[%d]: %w", i, err)
		}
	}
	switch c.Scheduler {
	case SchedulerMemory:
	case SchedulerRedis:
		if c.RedisAddr == "" {
			return ErrInvalidRedisAddr
		}
	default:
		return ErrUnknownScheduler
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if c.Tor && c.Proxy != "" {
		return ErrConflictingProxy
	}
	return nil
}

func (l Limit) validate() error {
	if l.Count <= 0 || l.Period <= 0 {
		return ErrInvalidLimit
	}
	if l.Pattern != "" {
		if _, err := regexp.Compile(l.Pattern); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidLimit, err)
		}
	}
	return nil
}
