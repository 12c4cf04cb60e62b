package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewConfig verifies that NewConfig returns a Config with all expected default values.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	t.Run("default WorkerNum is 3", func(t *testing.T) {
		t.Parallel()
		if cfg.WorkerNum != 3 {
			t.Errorf("expected WorkerNum to be 3, got %d", cfg.WorkerNum)
		}
	})

	t.Run("default MaxDownloads is 3", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxDownloads != 3 {
			t.Errorf("expected MaxDownloads to be 3, got %d", cfg.MaxDownloads)
		}
	})

	t.Run("default MaxWorkers is 256Ki", func(t *testing.T) {
		t.Parallel()
		if cfg.MaxWorkers != 256*1024 {
			t.Errorf("expected MaxWorkers to be 262144, got %d", cfg.MaxWorkers)
		}
	})

	t.Run("default WorkerIdleTime is 10 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.WorkerIdleTime != 10*time.Second {
			t.Errorf("expected WorkerIdleTime to be 10s, got %v", cfg.WorkerIdleTime)
		}
	})

	t.Run("default Timeout is 5 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 5*time.Second {
			t.Errorf("expected Timeout to be 5s, got %v", cfg.Timeout)
		}
	})

	t.Run("default Delay is 1 second", func(t *testing.T) {
		t.Parallel()
		if cfg.Delay != time.Second {
			t.Errorf("expected Delay to be 1s, got %v", cfg.Delay)
		}
	})

	t.Run("redirects are not followed by default", func(t *testing.T) {
		t.Parallel()
		if cfg.FollowRedirects {
			t.Error("expected FollowRedirects to be false")
		}
		if cfg.MaxRedirects != 3 {
			t.Errorf("expected MaxRedirects to be 3, got %d", cfg.MaxRedirects)
		}
	})

	t.Run("keep alive and drained worker release are on", func(t *testing.T) {
		t.Parallel()
		if !cfg.KeepAlive {
			t.Error("expected KeepAlive to be true")
		}
		if !cfg.ReleaseDrainedWorkers {
			t.Error("expected ReleaseDrainedWorkers to be true")
		}
	})

	t.Run("default filter sizing", func(t *testing.T) {
		t.Parallel()
		if cfg.InitialCapacity != 100000 {
			t.Errorf("expected InitialCapacity to be 100000, got %d", cfg.InitialCapacity)
		}
		if cfg.ErrorRate != 0.001 {
			t.Errorf("expected ErrorRate to be 0.001, got %v", cfg.ErrorRate)
		}
	})

	t.Run("persistence is off and scheduler is memory", func(t *testing.T) {
		t.Parallel()
		if cfg.Persist {
			t.Error("expected Persist to be false")
		}
		if cfg.Scheduler != SchedulerMemory {
			t.Errorf("expected memory scheduler, got %q", cfg.Scheduler)
		}
	})

	t.Run("GET is retried once after network failures", func(t *testing.T) {
		t.Parallel()
		if cfg.Retry.NetworkFailures["GET"] != 1 {
			t.Errorf("expected 1 GET retry, got %v", cfg.Retry.NetworkFailures)
		}
	})

	t.Run("default headers advertise compression", func(t *testing.T) {
		t.Parallel()
		if !strings.Contains(cfg.Headers["Accept-Encoding"], "gzip") {
			t.Errorf("expected gzip in Accept-Encoding, got %q", cfg.Headers["Accept-Encoding"])
		}
		if cfg.Headers["User-Agent"] != DefaultUserAgent {
			t.Errorf("expected default user agent, got %q", cfg.Headers["User-Agent"])
		}
	})
}

// TestConfigValidate tests the Validate method with various configurations.
// Each test case breaks exactly one rule.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.Targets = []string{"http://example.test/"}
		return cfg
	}

	t.Run("valid config returns nil", func(t *testing.T) {
		t.Parallel()
		if err := validConfig().Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "no targets", mutate: func(c *Config) { c.Targets = nil }, want: ErrNoTarget},
		{name: "zero workers", mutate: func(c *Config) { c.WorkerNum = 0 }, want: ErrInvalidWorkerNum},
		{name: "pool smaller than workers", mutate: func(c *Config) { c.MaxWorkers = 2 }, want: ErrInvalidMaxWorkers},
		{name: "zero idle time", mutate: func(c *Config) { c.WorkerIdleTime = 0 }, want: ErrInvalidIdleTime},
		{name: "zero downloads", mutate: func(c *Config) { c.MaxDownloads = 0 }, want: ErrInvalidMaxDownloads},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, want: ErrInvalidTimeout},
		{name: "negative delay", mutate: func(c *Config) { c.Delay = -time.Second }, want: ErrInvalidDelay},
		{name: "negative redirects", mutate: func(c *Config) { c.MaxRedirects = -1 }, want: ErrInvalidMaxRedirects},
		{name: "zero capacity", mutate: func(c *Config) { c.InitialCapacity = 0 }, want: ErrInvalidCapacity},
		{name: "error rate of one", mutate: func(c *Config) { c.ErrorRate = 1 }, want: ErrInvalidErrorRate},
		{name: "zero error rate", mutate: func(c *Config) { c.ErrorRate = 0 }, want: ErrInvalidErrorRate},
		{
			name:   "limit without period",
			mutate: func(c *Config) { c.Limits = []Limit{{Count: 2}} },
			want:   ErrInvalidLimit,
		},
		{
			name:   "limit with broken pattern",
			mutate: func(c *Config) { c.Limits = []Limit{{Count: 2, Period: time.Second, Pattern: "("}} },
			want:   ErrInvalidLimit,
		},
		{name: "unknown scheduler", mutate: func(c *Config) { c.Scheduler = "kafka" }, want: ErrUnknownScheduler},
		{
			name:   "redis without address",
			mutate: func(c *Config) { c.Scheduler = SchedulerRedis; c.RedisAddr = "" },
			want:   ErrInvalidRedisAddr,
		},
		{
			name:   "json and markdown",
			mutate: func(c *Config) { c.JSONReport = true; c.MarkdownReport = true },
			want:   ErrConflictingReportFormats,
		},
		{name: "negative body size", mutate: func(c *Config) { c.MaxBodySize = -1 }, want: ErrInvalidMaxBodySize},
		{name: "negative depth", mutate: func(c *Config) { c.MaxDepth = -1 }, want: ErrInvalidMaxDepth},
		{
			name:   "tor and proxy",
			mutate: func(c *Config) { c.Tor = true; c.Proxy = "socks5://127.0.0.1:1080" },
			want:   ErrConflictingProxy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("zero timeout disables the timeout", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Timeout = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})
}

func TestResolvedDirs(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if got := cfg.ResolvedJobDir(); got != filepath.Join(XDGDataDir(), "jobs") {
		t.Errorf("unexpected default job dir %q", got)
	}
	if got := cfg.ResolvedDBDir(); got != XDGDataDir() {
		t.Errorf("unexpected default db dir %q", got)
	}

	cfg.JobDir = "/tmp/jobs"
	cfg.DBDir = "/tmp/db"
	if cfg.ResolvedJobDir() != "/tmp/jobs" || cfg.ResolvedDBDir() != "/tmp/db" {
		t.Error("explicit directories must win")
	}
}

// TestFileGetSiteConfig tests the GetSiteConfig method.
func TestFileGetSiteConfig(t *testing.T) {
	t.Parallel()

	t.Run("returns defaults when site not found", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{Depth: 5, Cookie: "default_cookie=abc"},
			Sites:    map[string]SiteConfig{},
		}

		cfg := file.GetSiteConfig("unknown.test")
		if cfg.Depth != 5 {
			t.Errorf("expected depth 5, got %d", cfg.Depth)
		}
		if cfg.Cookie != "default_cookie=abc" {
			t.Errorf("expected default cookie, got %q", cfg.Cookie)
		}
	})

	t.Run("site overrides defaults", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{
				Cookie:  "default_cookie=abc",
				Proxy:   "http://proxy.test:8080",
				Headers: map[string]string{"X-Default": "1", "Authorization": "default-token"},
			},
			Sites: map[string]SiteConfig{
				"example.test": {
					Cookie:  "session=xyz",
					Proxy:   "socks5://127.0.0.1:1080",
					Headers: map[string]string{"Authorization": "site-token"},
				},
			},
		}

		cfg := file.GetSiteConfig("Example.Test")
		if cfg.Cookie != "session=xyz" {
			t.Errorf("expected site cookie, got %q", cfg.Cookie)
		}
		if cfg.Proxy != "socks5://127.0.0.1:1080" {
			t.Errorf("expected site proxy, got %q", cfg.Proxy)
		}
		if cfg.Headers["X-Default"] != "1" || cfg.Headers["Authorization"] != "site-token" {
			t.Errorf("unexpected merged headers %v", cfg.Headers)
		}
	})

	t.Run("merging does not mutate defaults", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: SiteConfig{Headers: map[string]string{"X-A": "1"}},
			Sites: map[string]SiteConfig{
				"example.test": {Headers: map[string]string{"X-B": "2"}},
			},
		}
		_ = file.GetSiteConfig("example.test")
		if _, ok := file.Defaults.Headers["X-B"]; ok {
			t.Error("site headers leaked into defaults")
		}
	})

	t.Run("nil sites map", func(t *testing.T) {
		t.Parallel()

		file := &File{Defaults: SiteConfig{Depth: 2}}
		if cfg := file.GetSiteConfig("any.test"); cfg.Depth != 2 {
			t.Errorf("expected depth 2, got %d", cfg.Depth)
		}
	})
}

func TestSiteConfigCookies(t *testing.T) {
	t.Parallel()

	got := SiteConfig{Cookie: "a=1; b=2"}.Cookies()
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("unexpected cookies %v", got)
	}
	if (SiteConfig{}).Cookies() != nil {
		t.Error("expected nil for empty cookie")
	}
}

// TestLoadConfigFile tests the LoadConfigFile function.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for missing file", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadConfigFile("/nonexistent/path/.sprite")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config")
		}
	})

	t.Run("loads settings and sites", func(t *testing.T) {
		t.Parallel()

		content := `settings:
  worker_num: 8
  delay: 250ms
  timeout: 0s
  follow_redirects: true
  most_stop: false
  long_save: true
  job_dir: /var/lib/sprite
  headers:
    X-Extra: extra
  limits:
    - count: 2
      period: 1s
      pattern: "https://api\\.example\\.test/.*"
  retry:
    network_failures:
      GET: 3
    responses:
      503: 2
  redis:
    addr: redis.test:6379
sites:
  example.test:
    cookie: "session=abc"
    proxy: "http://127.0.0.1:3128"
`
		dir := t.TempDir()
		path := filepath.Join(dir, ".sprite")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		file, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Settings.WorkerNum != 8 {
			t.Errorf("expected worker_num 8, got %d", file.Settings.WorkerNum)
		}
		if file.Sites["example.test"].Proxy != "http://127.0.0.1:3128" {
			t.Errorf("unexpected site config %+v", file.Sites["example.test"])
		}

		cfg := NewConfig()
		file.Apply(cfg)

		if cfg.WorkerNum != 8 {
			t.Errorf("expected WorkerNum 8, got %d", cfg.WorkerNum)
		}
		if cfg.Delay != 250*time.Millisecond {
			t.Errorf("expected Delay 250ms, got %v", cfg.Delay)
		}
		if cfg.Timeout != 0 {
			t.Errorf("expected explicit zero timeout, got %v", cfg.Timeout)
		}
		if !cfg.FollowRedirects || cfg.ReleaseDrainedWorkers || !cfg.Persist {
			t.Errorf("boolean settings not applied: %+v", cfg)
		}
		if cfg.JobDir != "/var/lib/sprite" {
			t.Errorf("unexpected job dir %q", cfg.JobDir)
		}
		if cfg.Headers["X-Extra"] != "extra" || cfg.Headers["User-Agent"] != DefaultUserAgent {
			t.Errorf("headers must be merged over defaults, got %v", cfg.Headers)
		}
		if len(cfg.Limits) != 1 || cfg.Limits[0].Count != 2 || cfg.Limits[0].Period != time.Second {
			t.Errorf("unexpected limits %+v", cfg.Limits)
		}
		if cfg.Retry.NetworkFailures["GET"] != 3 || cfg.Retry.Responses[503] != 2 {
			t.Errorf("unexpected retry %+v", cfg.Retry)
		}
		if cfg.RedisAddr != "redis.test:6379" || cfg.RedisPrefix != DefaultRedisPrefix {
			t.Errorf("unexpected redis settings %q %q", cfg.RedisAddr, cfg.RedisPrefix)
		}
		if cfg.SiteConfigs != file {
			t.Error("expected SiteConfigs to point at the loaded file")
		}
		cfg.Targets = []string{"http://example.test/"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("applied config should validate, got %v", err)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, ".sprite")
		if err := os.WriteFile(path, []byte("settings: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("empty file yields empty sites map", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, ".sprite")
		if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
			t.Fatal(err)
		}
		file, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if file.Sites == nil {
			t.Error("expected Sites to be initialized")
		}
	})
}

// TestFindConfigFile tests the FindConfigFile function.
func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns explicit path if exists", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "custom.yaml")
		if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
			t.Fatal(err)
		}
		if got := FindConfigFile(path); got != path {
			t.Errorf("expected %q, got %q", path, got)
		}
	})

	t.Run("returns empty for missing explicit path", func(t *testing.T) {
		t.Parallel()
		if got := FindConfigFile("/nonexistent/path/config.yaml"); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}

func TestXDGDirs(t *testing.T) {
	t.Parallel()

	for name, dir := range map[string]string{
		"data":   XDGDataDir(),
		"config": XDGConfigDir(),
		"cache":  XDGCacheDir(),
	} {
		if filepath.Base(dir) != AppName {
			t.Errorf("%s dir %q does not end with %q", name, dir, AppName)
		}
	}
}
