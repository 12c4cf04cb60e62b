package download

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per host with a token bucket.
// A limiter built with a non-positive rate never waits.
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// NewHostLimiter allows perSecond requests per second to each host, with
// bursts of up to burst requests.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until host may receive another request.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.limit <= 0 {
		return nil
	}
	return h.limiter(host).Wait(ctx)
}

func (h *HostLimiter) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.hosts[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.hosts[host] = l
	}
	return l
}

// Hosts returns the number of hosts seen.
func (h *HostLimiter) Hosts() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hosts)
}
