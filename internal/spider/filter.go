package spider

import (
	"net/url"
	"path/filepath"
	"strings"
)

// URLFilter decides which discovered links are followed, by glob
// patterns over the URL path.
//
// A link matching any ignore pattern is skipped. When follow patterns
// are set, a link must also match one of them.
type URLFilter struct {
	follow []string
	ignore []string
}

// NewURLFilter creates a filter. Either list may be empty.
func NewURLFilter(follow, ignore []string) *URLFilter {
	return &URLFilter{follow: follow, ignore: ignore}
}

// Allow reports whether rawURL passes the filter.
func (f *URLFilter) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if f == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range f.ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(f.follow) == 0 {
		return true
	}
	for _, pattern := range f.follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// matchPattern matches a path against a glob.
//   - "/admin/*" matches "/admin" and everything below it
//   - "*.pdf" matches any path ending in ".pdf"
//   - other patterns use filepath.Match on the whole path, then on the
//     last segment when the pattern has no slash
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") && !strings.ContainsAny(ext, "*?[") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
