package middleware

import (
	"context"
	"fmt"
	"slices"

	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
)

// StatusFilter returns a response hook that replaces responses whose
// status is not in allowed with an error response carrying
// ErrFilteredStatus. Transport error responses pass through unchanged.
// With no allowed codes every 2xx status is accepted.
func StatusFilter(allowed ...int) ResponseHook {
	return func(_ context.Context, resp *model.Response, _ spider.Spider) (any, error) {
		if resp.Err != nil {
			return nil, nil
		}
		ok := resp.Status >= 200 && resp.Status < 300
		if len(allowed) > 0 {
			ok = slices.Contains(allowed, resp.Status)
		}
		if ok {
			return nil, nil
		}
		filtered := *resp
		filtered.Err = fmt.Errorf("%w: %d %s", ErrFilteredStatus, resp.Status, resp.URL)
		return &filtered, nil
	}
}
