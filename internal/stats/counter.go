package stats

import (
	"sync"
	"time"
)

// Counter counts events and reports their speed once per unit.
type Counter struct {
	unit time.Duration
	now  func() time.Time

	mu          sync.Mutex
	total       int
	windowStart time.Time
	windowCount int
}

// NewCounter creates a counter reporting every unit. A unit of zero or
// less never reports.
func NewCounter(unit time.Duration) *Counter {
	return &Counter{unit: unit, now: time.Now}
}

// Dot records one event. When at least one unit has passed since the
// window opened it closes the window and returns the speed in events
// per unit, the number of events in the window and reported=true.
func (c *Counter) Dot() (speed float64, unitCount int, reported bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.total++
	if c.windowStart.IsZero() {
		c.windowStart = now
	}
	c.windowCount++

	if c.unit <= 0 {
		return 0, 0, false
	}
	elapsed := now.Sub(c.windowStart)
	if elapsed < c.unit {
		return 0, 0, false
	}

	unitCount = c.windowCount
	speed = float64(unitCount) * float64(c.unit) / float64(elapsed)
	c.windowStart = now
	c.windowCount = 0
	return speed, unitCount, true
}

// Total returns the number of events recorded.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Unit returns the reporting unit.
func (c *Counter) Unit() time.Duration {
	return c.unit
}
