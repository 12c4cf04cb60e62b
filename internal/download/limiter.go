package download

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/nao1215/sprite/internal/config"
)

// Rule allows at most Count requests per Period for URLs matching
// Pattern. A nil Pattern matches every URL.
//
// The window opens on the first request. When Count requests have been
// made inside the window, the next request sleeps and then opens a new
// window. An optimistic rule sleeps only until the current window ends;
// a pessimistic one sleeps a full Period.
type Rule struct {
	Count      int
	Period     time.Duration
	Pattern    *regexp.Regexp
	Optimistic bool

	// lock serializes waiters while letting them give up on ctx.
	lock      chan struct{}
	started   bool
	nextFlush time.Time
	usage     int
}

// NewRule builds a rule. pattern must match the whole URL; an empty
// pattern matches everything.
func NewRule(count int, period time.Duration, pattern string, optimistic bool) (*Rule, error) {
	if count <= 0 || period <= 0 {
		return nil, fmt.Errorf("%w: count %d period %s", ErrInvalidRule, count, period)
	}
	r := &Rule{
		Count:      count,
		Period:     period,
		Optimistic: optimistic,
		lock:       make(chan struct{}, 1),
	}
	if pattern != "" {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidRule, pattern, err)
		}
		r.Pattern = re
	}
	return r, nil
}

// Matches reports whether the rule applies to rawURL.
func (r *Rule) Matches(rawURL string) bool {
	return r.Pattern == nil || r.Pattern.MatchString(rawURL)
}

func (r *Rule) wait(ctx context.Context) error {
	select {
	case r.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.lock }()

	now := time.Now()
	switch {
	case !r.started || now.After(r.nextFlush):
		r.started = true
		r.nextFlush = now.Add(r.Period)
		r.usage = 0
	case r.usage >= r.Count:
		d := r.Period
		if r.Optimistic {
			d = r.nextFlush.Sub(now)
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
		r.nextFlush = time.Now().Add(r.Period)
		r.usage = 0
	}
	r.usage++
	return nil
}

// RateLimiter applies every matching Rule before a request is sent.
type RateLimiter struct {
	rules []*Rule
}

// NewRateLimiter builds a limiter from rules. Nil rules are skipped.
func NewRateLimiter(rules ...*Rule) *RateLimiter {
	l := &RateLimiter{}
	for _, r := range rules {
		if r != nil {
			l.rules = append(l.rules, r)
		}
	}
	return l
}

// NewRateLimiterFromConfig builds a limiter from configured limits.
func NewRateLimiterFromConfig(limits []config.Limit) (*RateLimiter, error) {
	rules := make([]*Rule, 0, len(limits))
	for _, lim := range limits {
		r, err := NewRule(lim.Count, lim.Period, lim.Pattern, lim.Optimistic)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return NewRateLimiter(rules...), nil
}

// Notify blocks until every rule matching rawURL allows one more request.
// It returns early with ctx's error when ctx ends.
func (l *RateLimiter) Notify(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	for _, r := range l.rules {
		if !r.Matches(rawURL) {
			continue
		}
		if err := r.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of rules.
func (l *RateLimiter) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
