package middleware

import (
	"context"
	"maps"

	"github.com/nao1215/sprite/internal/config"
	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
)

// MetaProxy is the request meta key the downloader reads a proxy URL
// from.
const MetaProxy = "proxy"

// SiteHeaders returns a request hook that applies the per-host settings
// of file: headers, cookies and proxy. Values already set on the request
// win over the file.
func SiteHeaders(file *config.File) RequestHook {
	return func(_ context.Context, req *model.Request, _ spider.Spider) (any, error) {
		if file == nil {
			return nil, nil
		}
		site := file.GetSiteConfig(req.Host())

		if len(site.Headers) > 0 {
			headers := req.Headers.Clone()
			for k, v := range site.Headers {
				headers.SetDefault(k, v)
			}
			req.Headers = headers
		}

		if cookies := site.Cookies(); len(cookies) > 0 {
			merged := maps.Clone(cookies)
			maps.Copy(merged, req.Cookies)
			req.Cookies = merged
		}

		if site.Proxy != "" && req.MetaString(MetaProxy) == "" {
			meta := maps.Clone(req.Meta)
			if meta == nil {
				meta = make(map[string]any)
			}
			meta[MetaProxy] = site.Proxy
			req.Meta = meta
		}
		return nil, nil
	}
}
