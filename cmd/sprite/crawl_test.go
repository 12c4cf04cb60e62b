package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/report"
	"github.com/nao1215/sprite/internal/stats"
	"github.com/nao1215/sprite/internal/tor"
)

// writeConfig writes a configuration file into a temporary directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".sprite")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// newSiteServer serves three linked pages.
func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<a href="/a">A</a> <a href="/b">B</a></body></html>`)
	})
	for _, page := range []string{"/a", "/b"} {
		mux.HandleFunc(page, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><head><title>%s</title></head><body><a href="/">home</a></body></html>`, page)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("file settings apply", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, `settings:
  worker_num: 4
  delay: 250ms
  obey_robots: true
  scheduler: redis
`)
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, []string{"https://example.com/"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.WorkerNum != 4 {
			t.Errorf("WorkerNum = %d, want 4", cfg.WorkerNum)
		}
		if cfg.Delay != 250*time.Millisecond {
			t.Errorf("Delay = %v, want 250ms", cfg.Delay)
		}
		if !cfg.ObeyRobots {
			t.Error("expected ObeyRobots from file")
		}
		if cfg.Scheduler != config.SchedulerRedis {
			t.Errorf("Scheduler = %q, want redis", cfg.Scheduler)
		}
		if len(cfg.Targets) != 1 || cfg.Targets[0] != "https://example.com/" {
			t.Errorf("Targets = %v", cfg.Targets)
		}
	})

	t.Run("changed flags override the file", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, `settings:
  worker_num: 4
  delay: 250ms
  max_redirects: 5
`)
		cmd := NewCrawlCmd()
		args := []string{
			"--config", path,
			"-w", "8",
			"--delay", "0s",
			"--redirects", "0",
			"--depth", "1",
			"--persist",
			"--follow", "/docs/*",
			"-o", "items.jsonl",
			"--json",
		}
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.WorkerNum != 8 {
			t.Errorf("WorkerNum = %d, want 8", cfg.WorkerNum)
		}
		if cfg.Delay != 0 {
			t.Errorf("Delay = %v, want 0", cfg.Delay)
		}
		if cfg.MaxRedirects != 0 || cfg.FollowRedirects {
			t.Errorf("redirects = %d/%v, want disabled", cfg.MaxRedirects, cfg.FollowRedirects)
		}
		if cfg.MaxDepth != 1 {
			t.Errorf("MaxDepth = %d, want 1", cfg.MaxDepth)
		}
		if !cfg.Persist {
			t.Error("expected Persist")
		}
		if len(cfg.FollowPatterns) != 1 || cfg.FollowPatterns[0] != "/docs/*" {
			t.Errorf("FollowPatterns = %v", cfg.FollowPatterns)
		}
		if cfg.ItemsFile != "items.jsonl" || !cfg.JSONReport {
			t.Errorf("output = %q/%v", cfg.ItemsFile, cfg.JSONReport)
		}
	})

	t.Run("unchanged flags keep defaults", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", writeConfig(t, "sites: {}\n")}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.WorkerNum != config.DefaultWorkerNum {
			t.Errorf("WorkerNum = %d, want %d", cfg.WorkerNum, config.DefaultWorkerNum)
		}
		if cfg.Delay != config.DefaultDelay {
			t.Errorf("Delay = %v, want %v", cfg.Delay, config.DefaultDelay)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		if err := cmd.ParseFlags([]string{"--config", missing}); err != nil {
			t.Fatal(err)
		}
		if _, err := buildConfig(cmd, nil); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", writeConfig(t, "settings: [")}); err != nil {
			t.Fatal(err)
		}
		if _, err := buildConfig(cmd, nil); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestSpiderName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target string
		want   string
	}{
		{"https://Example.com/path", "example.com"},
		{"http://127.0.0.1:8080/", "127.0.0.1"},
		{"not a url", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			if got := spiderName(tt.target); got != tt.want {
				t.Errorf("spiderName(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestCheckOnionTargets(t *testing.T) {
	t.Parallel()

	const onion = "http://aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion/"

	tests := []struct {
		name    string
		cfg     config.Config
		want    error
		wantErr bool
	}{
		{name: "regular targets", cfg: config.Config{Targets: []string{"https://example.com/"}}},
		{name: "onion needs tor", cfg: config.Config{Targets: []string{onion}}, want: tor.ErrProxyRequired, wantErr: true},
		{name: "onion with tor", cfg: config.Config{Targets: []string{onion}, Tor: true}},
		{name: "onion with socks5h proxy", cfg: config.Config{Targets: []string{onion}, Proxy: "socks5h://127.0.0.1:9050"}},
		{
			name: "onion with resolving proxy",
			cfg:  config.Config{Targets: []string{onion}, Proxy: "socks5://127.0.0.1:9050"},
			want: tor.ErrProxyRequired, wantErr: true,
		},
		{name: "invalid onion", cfg: config.Config{Targets: []string{"http://bad.onion/"}, Tor: true}, want: tor.ErrInvalidOnionAddress, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkOnionTargets(&tt.cfg)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestOutputReports(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	summaries := []stats.Summary{
		{Spider: "a.example", Started: start, Finished: start.Add(time.Second), Downloaded: 2, Succeeded: 2, Status: map[int]int{200: 2}},
		{Spider: "b.example", Started: start, Finished: start.Add(time.Second), Downloaded: 1, Failed: 1, Status: map[int]int{500: 1}},
	}

	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{name: "simple", cfg: config.Config{}, want: "SPRITE CRAWL REPORT"},
		{name: "json", cfg: config.Config{JSONReport: true}, want: `"spider": "b.example"`},
		{name: "markdown", cfg: config.Config{MarkdownReport: true}, want: "# Sprite Crawl Report"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := outputReports(&buf, &tt.cfg, summaries); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
			if !strings.Contains(out, "a.example") || !strings.Contains(out, "b.example") {
				t.Error("expected one report per spider")
			}
		})
	}

	t.Run("report file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "reports", "crawl.json")
		var stdout bytes.Buffer
		cfg := &config.Config{JSONReport: true, ReportFile: path}
		if err := outputReports(&stdout, cfg, summaries[:1]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stdout.Len() != 0 {
			t.Error("expected nothing on stdout")
		}

		data, err := os.ReadFile(path) //nolint:gosec // test file
		if err != nil {
			t.Fatal(err)
		}
		var got report.JSONReport
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid JSON report: %v", err)
		}
		if got.Summary == nil || got.Summary.Spider != "a.example" {
			t.Errorf("unexpected report: %+v", got)
		}
		if got.Version == "" {
			t.Error("expected version in report")
		}
	})
}

// runCrawl runs "sprite crawl" against target and returns stdout.
func runCrawl(t *testing.T, dbDir, target string, extra ...string) string {
	t.Helper()

	cfgPath := writeConfig(t, fmt.Sprintf("settings:\n  db_dir: %q\n", dbDir))
	args := append([]string{
		"crawl",
		"--config", cfgPath,
		"--delay", "0s",
		"--timeout", "5s",
		"--save",
	}, extra...)
	args = append(args, target)

	var stdout bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("crawl failed: %v", err)
	}
	return stdout.String()
}

func TestCrawlCmd(t *testing.T) {
	t.Parallel()

	srv := newSiteServer(t)
	dir := t.TempDir()
	itemsPath := filepath.Join(dir, "items.jsonl")

	out := runCrawl(t, filepath.Join(dir, "db"), srv.URL+"/", "-o", itemsPath, "--json")

	var rep report.JSONReport
	if err := json.NewDecoder(strings.NewReader(out)).Decode(&rep); err != nil {
		t.Fatalf("invalid JSON report %q: %v", out, err)
	}
	if rep.Summary == nil {
		t.Fatal("expected summary")
	}
	if rep.Summary.Spider != "127.0.0.1" {
		t.Errorf("Spider = %q, want 127.0.0.1", rep.Summary.Spider)
	}
	if rep.Summary.Downloaded != 3 || rep.Summary.Items != 3 {
		t.Errorf("Downloaded/Items = %d/%d, want 3/3", rep.Summary.Downloaded, rep.Summary.Items)
	}
	if rep.Summary.RunID == "" {
		t.Error("expected run id with --save")
	}

	f, err := os.Open(itemsPath) //nolint:gosec // test file
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	urls := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var item map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			t.Fatalf("invalid item line %q: %v", scanner.Text(), err)
		}
		u, _ := item["url"].(string)
		urls[u] = true
	}
	for _, want := range []string{srv.URL + "/", srv.URL + "/a", srv.URL + "/b"} {
		if !urls[want] {
			t.Errorf("missing item for %s in %v", want, urls)
		}
	}
}

func TestCrawlCmd_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{name: "no targets", args: []string{"crawl"}},
		{name: "conflicting formats", args: []string{"crawl", "--json", "--markdown", "https://example.com/"}},
		{name: "unknown scheduler", args: []string{"crawl", "--scheduler", "kafka", "https://example.com/"}},
		{name: "duplicate hosts", args: []string{"crawl", "--delay", "0s", "https://example.com/a", "https://example.com/b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{tt.args[0], "--config", writeConfig(t, "sites: {}\n")}, tt.args[1:]...)
			root := NewRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(args)
			if err := root.Execute(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
