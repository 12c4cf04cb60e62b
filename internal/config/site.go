package config

import (
	"net/http"
	"strings"
)

// SiteConfig holds per-host request customisation.
type SiteConfig struct {
	// Cookie is sent with every request to the host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are added to requests to the host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Proxy routes requests to the host through this proxy URL.
	Proxy string `yaml:"proxy,omitempty"`

	// Depth overrides the link spider depth for the host.
	Depth int `yaml:"depth,omitempty"`

	// IgnorePatterns are URL path patterns the link spider skips.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict the link spider to matching paths.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// Cookies parses Cookie into a name/value map.
func (s SiteConfig) Cookies() map[string]string {
	if strings.TrimSpace(s.Cookie) == "" {
		return nil
	}
	cookies, err := http.ParseCookie(s.Cookie)
	if err != nil {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// File represents the structure of the sprite configuration file.
type File struct {
	// Settings override the crawl defaults.
	Settings Settings `yaml:"settings,omitempty"`

	// Sites maps hosts to their site-specific configurations.
	// Keys are host names without scheme or port (e.g., "example.com").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults apply to every host unless overridden in Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the configuration for host, merging the
// site-specific entry over the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if len(cf.Defaults.Headers) > 0 {
		result.Headers = make(map[string]string, len(cf.Defaults.Headers))
		for k, v := range cf.Defaults.Headers {
			result.Headers[k] = v
		}
	}

	siteConfig, ok := cf.Sites[strings.ToLower(host)]
	if !ok {
		return result
	}
	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.Proxy != "" {
		result.Proxy = siteConfig.Proxy
	}
	if siteConfig.Depth != 0 {
		result.Depth = siteConfig.Depth
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		for k, v := range siteConfig.Headers {
			result.Headers[k] = v
		}
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	return result
}
