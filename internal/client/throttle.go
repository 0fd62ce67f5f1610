package client

import (
	"sync"
	"time"

	"github.com/manpreetbhatti/canvasflow/internal/stroke"
)

// Interval between streamed stroke fragments
const DefaultThrottle = 25 * time.Millisecond

// Batches stroke points so that at most one fragment is released per
// interval. Flush releases whatever is pending immediately.
type Throttler struct {
	interval time.Duration
	last     time.Time
	pending  []stroke.Point
	now      func() time.Time
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{interval: interval, now: time.Now}
}

// Buffers points and returns a fragment when the interval has elapsed
// since the previous one, nil otherwise.
func (t *Throttler) Add(points ...stroke.Point) []stroke.Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, points...)
	now := t.now()
	if len(t.pending) == 0 || now.Sub(t.last) < t.interval {
		return nil
	}
	t.last = now
	return t.take()
}

func (t *Throttler) Flush() []stroke.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.now()
	return t.take()
}

func (t *Throttler) take() []stroke.Point {
	if len(t.pending) == 0 {
		return nil
	}
	out := t.pending
	t.pending = nil
	return out
}
