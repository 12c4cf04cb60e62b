package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/sprite/internal/model"
	"github.com/nao1215/sprite/internal/spider"
)

// Point is a hook registration point.
type Point int

const (
	// BeforeDownload hooks see each request before it is downloaded.
	BeforeDownload Point = iota + 1
	// AfterDownload hooks see each response before the spider callback.
	AfterDownload
	// Pipeline hooks process extracted items.
	Pipeline
	// SpiderStart hooks run once when a crawl starts.
	SpiderStart
	// SpiderClose hooks run once when a crawl closes.
	SpiderClose
)

// String returns the point name.
func (p Point) String() string {
	switch p {
	case BeforeDownload:
		return "before_download"
	case AfterDownload:
		return "after_download"
	case Pipeline:
		return "pipeline"
	case SpiderStart:
		return "spider_start"
	case SpiderClose:
		return "spider_close"
	default:
		return "unknown"
	}
}

// RequestHook runs before a download. It returns nil to continue, a
// *model.Request to schedule instead, or a *model.Response to use
// without downloading.
//
// Between dequeue and download the request belongs to the hook chain,
// so hooks may replace its Headers, Cookies or Meta maps in place.
type RequestHook func(ctx context.Context, req *model.Request, s spider.Spider) (any, error)

// ResponseHook runs after a download. It returns nil to continue, a
// *model.Request to schedule instead of calling back, or a
// *model.Response that replaces the downloaded one.
type ResponseHook func(ctx context.Context, resp *model.Response, s spider.Spider) (any, error)

// ItemHook processes an item. Returning a nil item drops it.
type ItemHook func(ctx context.Context, item model.Item, s spider.Spider) (model.Item, error)

// SpiderHook runs at spider start or close.
type SpiderHook func(ctx context.Context, s spider.Spider) error

// Manager holds the registered hooks.
// It is safe for concurrent use; registration normally happens before
// a crawl starts.
type Manager struct {
	mu       sync.RWMutex
	requests []RequestHook
	response []ResponseHook
	items    []ItemHook
	starts   []SpiderHook
	closes   []SpiderHook
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds hook at point. The hook must be one of the hook types
// (or a plain func with the same signature) matching the point.
func (m *Manager) Register(point Point, hook any) error {
	if hook == nil {
		return fmt.Errorf("%w: nil hook for %s", ErrInvalidHook, point)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch point {
	case BeforeDownload:
		h, ok := asRequestHook(hook)
		if !ok {
			return invalid(point, hook)
		}
		m.requests = append(m.requests, h)
	case AfterDownload:
		h, ok := asResponseHook(hook)
		if !ok {
			return invalid(point, hook)
		}
		m.response = append(m.response, h)
	case Pipeline:
		h, ok := asItemHook(hook)
		if !ok {
			return invalid(point, hook)
		}
		m.items = append(m.items, h)
	case SpiderStart, SpiderClose:
		h, ok := asSpiderHook(hook)
		if !ok {
			return invalid(point, hook)
		}
		if point == SpiderStart {
			m.starts = append(m.starts, h)
		} else {
			m.closes = append(m.closes, h)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownHookPoint, int(point))
	}
	return nil
}

func invalid(point Point, hook any) error {
	return fmt.Errorf("%w: %T cannot be registered at %s", ErrInvalidHook, hook, point)
}

func asRequestHook(hook any) (RequestHook, bool) {
	switch h := hook.(type) {
	case RequestHook:
		return h, h != nil
	case func(context.Context, *model.Request, spider.Spider) (any, error):
		return h, h != nil
	}
	return nil, false
}

func asResponseHook(hook any) (ResponseHook, bool) {
	switch h := hook.(type) {
	case ResponseHook:
		return h, h != nil
	case func(context.Context, *model.Response, spider.Spider) (any, error):
		return h, h != nil
	}
	return nil, false
}

func asItemHook(hook any) (ItemHook, bool) {
	switch h := hook.(type) {
	case ItemHook:
		return h, h != nil
	case func(context.Context, model.Item, spider.Spider) (model.Item, error):
		return h, h != nil
	}
	return nil, false
}

func asSpiderHook(hook any) (SpiderHook, bool) {
	switch h := hook.(type) {
	case SpiderHook:
		return h, h != nil
	case func(context.Context, spider.Spider) error:
		return h, h != nil
	}
	return nil, false
}

// UseRequest registers a BeforeDownload hook.
func (m *Manager) UseRequest(h RequestHook) {
	m.mustRegister(BeforeDownload, h)
}

// UseResponse registers an AfterDownload hook.
func (m *Manager) UseResponse(h ResponseHook) {
	m.mustRegister(AfterDownload, h)
}

// UseItem registers a Pipeline hook.
func (m *Manager) UseItem(h ItemHook) {
	m.mustRegister(Pipeline, h)
}

// UseSpiderStart registers a SpiderStart hook.
func (m *Manager) UseSpiderStart(h SpiderHook) {
	m.mustRegister(SpiderStart, h)
}

// UseSpiderClose registers a SpiderClose hook.
func (m *Manager) UseSpiderClose(h SpiderHook) {
	m.mustRegister(SpiderClose, h)
}

// mustRegister panics on nil hooks, the only failure possible with a
// typed hook.
func (m *Manager) mustRegister(point Point, hook any) {
	if err := m.Register(point, hook); err != nil {
		panic(err)
	}
}

// Len returns the number of hooks at point.
func (m *Manager) Len(point Point) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch point {
	case BeforeDownload:
		return len(m.requests)
	case AfterDownload:
		return len(m.response)
	case Pipeline:
		return len(m.items)
	case SpiderStart:
		return len(m.starts)
	case SpiderClose:
		return len(m.closes)
	default:
		return 0
	}
}

// Merge appends the hooks of other after the hooks of m.
func (m *Manager) Merge(other *Manager) {
	if other == nil || other == m {
		return
	}
	other.mu.RLock()
	requests := append([]RequestHook(nil), other.requests...)
	response := append([]ResponseHook(nil), other.response...)
	items := append([]ItemHook(nil), other.items...)
	starts := append([]SpiderHook(nil), other.starts...)
	closes := append([]SpiderHook(nil), other.closes...)
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, requests...)
	m.response = append(m.response, response...)
	m.items = append(m.items, items...)
	m.starts = append(m.starts, starts...)
	m.closes = append(m.closes, closes...)
}

// ProcessRequest runs the BeforeDownload chain. At most one of the
// returned request and response is non-nil.
func (m *Manager) ProcessRequest(ctx context.Context, req *model.Request, s spider.Spider) (*model.Request, *model.Response, error) {
	m.mu.RLock()
	hooks := m.requests
	m.mu.RUnlock()

	for _, h := range hooks {
		out, err := h(ctx, req, s)
		if err != nil {
			return nil, nil, err
		}
		if out == nil {
			continue
		}
		return split(out)
	}
	return nil, nil, nil
}

// ProcessResponse runs the AfterDownload chain. At most one of the
// returned request and response is non-nil.
func (m *Manager) ProcessResponse(ctx context.Context, resp *model.Response, s spider.Spider) (*model.Request, *model.Response, error) {
	m.mu.RLock()
	hooks := m.response
	m.mu.RUnlock()

	for _, h := range hooks {
		out, err := h(ctx, resp, s)
		if err != nil {
			return nil, nil, err
		}
		if out == nil {
			continue
		}
		return split(out)
	}
	return nil, nil, nil
}

func split(out any) (*model.Request, *model.Response, error) {
	switch v := out.(type) {
	case *model.Request:
		if v != nil {
			return v, nil, nil
		}
	case *model.Response:
		if v != nil {
			return nil, v, nil
		}
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrInvalidHookResult, out)
	}
	return nil, nil, nil
}

// ProcessItem runs the Pipeline chain. A nil item with a nil error
// means a hook dropped it.
func (m *Manager) ProcessItem(ctx context.Context, item model.Item, s spider.Spider) (model.Item, error) {
	m.mu.RLock()
	hooks := m.items
	m.mu.RUnlock()

	for _, h := range hooks {
		var err error
		item, err = h(ctx, item, s)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, nil
		}
	}
	return item, nil
}

// ProcessSpiderStart runs the SpiderStart hooks and stops at the first
// error.
func (m *Manager) ProcessSpiderStart(ctx context.Context, s spider.Spider) error {
	m.mu.RLock()
	hooks := m.starts
	m.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// ProcessSpiderClose runs every SpiderClose hook and joins their errors.
func (m *Manager) ProcessSpiderClose(ctx context.Context, s spider.Spider) error {
	m.mu.RLock()
	hooks := m.closes
	m.mu.RUnlock()

	var errs []error
	for _, h := range hooks {
		if err := h(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
