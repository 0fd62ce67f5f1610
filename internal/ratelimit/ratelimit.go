package ratelimit

import (
	"sync"
	"time"
)

// Token bucket refilled continuously at rate tokens per second
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterWithClock(rate, burst, time.Now)
}

func newLimiterWithClock(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// Tokens currently available
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

type Verdict int

const (
	Accept Verdict = iota
	Drop
	Disconnect
)

// Per-connection flood policy. Messages over the limit are dropped and
// counted as strikes; past maxStrikes the connection should be closed.
type Guard struct {
	limiter    *Limiter
	maxStrikes int
	strikes    int
	mu         sync.Mutex
}

func NewGuard(rate float64, burst, maxStrikes int) *Guard {
	return &Guard{
		limiter:    NewLimiter(rate, burst),
		maxStrikes: maxStrikes,
	}
}

func (g *Guard) Check() Verdict {
	if g.limiter.Allow() {
		return Accept
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.strikes++
	if g.strikes > g.maxStrikes {
		return Disconnect
	}
	return Drop
}

func (g *Guard) Strikes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strikes
}
