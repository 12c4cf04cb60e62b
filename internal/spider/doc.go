// Package spider defines what a crawl does with the pages it fetches.
//
// A Spider names itself, produces the seed requests and resolves request
// callbacks by name. Callbacks receive a Response and return a
// model.Result: nothing, a follow-up Request, an Item, a lazy sequence of
// further results, or a suspending operation.
//
// Base implements the bookkeeping for static seed lists and callback
// registration. LinkSpider is a ready-made spider that walks the links of
// a site and emits one "page" item per fetched URL.
//
// # Usage
//
//	s := spider.NewBase("quotes", "https://quotes.example/")
//	_ = s.Register(spider.DefaultCallback, func(ctx context.Context, resp *model.Response) model.Result {
//		return model.ItemResult(model.Item{"url": resp.URL})
//	})
package spider
