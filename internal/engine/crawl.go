package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
)

// crawl runs one request through the hooks, the downloader and its
// callback. Failures are logged and counted; they never end the loop.
func (e *Engine) crawl(ctx context.Context, req *model.Request) {
	defer func() {
		if r := recover(); r != nil {
			e.counter.RecordError()
			e.logger.Error("crawl panicked",
				"url", req.URL,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	resp, ok := e.fetch(ctx, req)
	if !ok {
		return
	}
	if resp.Request != nil {
		req = resp.Request
	}

	cb, err := spider.Resolve(e.spider, req)
	if err != nil {
		e.counter.RecordError()
		e.logger.Error("callback not found", "url", req.URL, "error", err)
		return
	}
	e.handle(ctx, cb(ctx, resp), req)
}

// fetch produces the response for req. A request returned by a
// BeforeDownload hook replaces req and is downloaded in its place. It
// reports false when an AfterDownload hook rerouted the response or the
// download failed outright.
func (e *Engine) fetch(ctx context.Context, req *model.Request) (*model.Response, bool) {
	next, resp, err := e.mw.ProcessRequest(ctx, req, e.spider)
	if err != nil {
		e.counter.RecordError()
		e.logger.Error("request hook failed", "url", req.URL, "error", err)
		return nil, false
	}
	if next != nil {
		req = next
	}
	if resp != nil {
		if resp.Request == nil {
			resp.Request = req
		}
		return resp, true
	}

	start := time.Now()
	resp, err = e.downloader.Download(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		e.counter.RecordFailure(0, elapsed)
		if ctx.Err() == nil {
			e.logger.Error("download failed", "url", req.URL, "error", err)
		}
		return nil, false
	}
	if resp.Request == nil {
		resp.Request = req
	}
	if resp.Err != nil {
		e.counter.RecordFailure(resp.Status, elapsed)
	} else {
		e.counter.RecordSuccess(resp.Status, elapsed)
	}
	e.counter.ResponseDot()

	next, replaced, err := e.mw.ProcessResponse(ctx, resp, e.spider)
	if err != nil {
		e.counter.RecordError()
		e.logger.Error("response hook failed", "url", req.URL, "error", err)
		return nil, false
	}
	if next != nil {
		e.enqueue(ctx, next)
		return nil, false
	}
	if replaced != nil {
		resp = replaced
	}
	return resp, true
}

// handle routes a callback result. Sequences are walked depth first,
// suspended operations are awaited and their results handled in turn.
// from is the request whose callback produced res, nil for seeds.
func (e *Engine) handle(ctx context.Context, res model.Result, from *model.Request) {
	switch res.Kind() {
	case model.KindNone:
	case model.KindRequest:
		e.enqueue(ctx, res.Request())
	case model.KindItem:
		e.processItem(ctx, res.Item(), from)
	case model.KindSequence:
		for r := range res.Seq() {
			if ctx.Err() != nil {
				return
			}
			e.handle(ctx, r, from)
		}
	case model.KindSuspend:
		out, err := res.Await(ctx)
		if err != nil {
			e.fail(fmt.Errorf("await: %w", err), from)
			return
		}
		e.handle(ctx, out, from)
	case model.KindError:
		e.fail(res.Err(), from)
	default:
		e.fail(fmt.Errorf("unknown result kind %s", res.Kind()), from)
	}
}

func (e *Engine) enqueue(ctx context.Context, req *model.Request) {
	ok, err := e.sched.Enqueue(ctx, req)
	switch {
	case err != nil:
		e.logger.Warn("enqueue failed", "url", req.URL, "error", err)
	case !ok:
		e.logger.Debug("duplicate request", "url", req.URL)
	}
}

func (e *Engine) processItem(ctx context.Context, item model.Item, from *model.Request) {
	out, err := e.mw.ProcessItem(ctx, item, e.spider)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		e.fail(fmt.Errorf("item hook: %w", err), from)
		return
	}
	if out == nil {
		e.counter.RecordDropped()
		return
	}
	e.counter.ItemDot()
}

func (e *Engine) fail(err error, from *model.Request) {
	e.counter.RecordError()
	if from == nil {
		e.logger.Error("start request failed", "error", err)
		return
	}
	e.logger.Error("callback failed", "url", from.URL, "error", err)
}
