// Package reconnect implements a bounded exponential backoff policy for
// clients that lose their connection.
package reconnect

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type State int

const (
	Idle State = iota
	Waiting
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Reconnect schedule over a deterministic exponential backoff. The
// backoff doubles from the base delay up to the cap and stops after
// maxAttempts retries.
type Policy struct {
	maxAttempts int
	backoff     backoff.BackOff

	attempt int
	state   State
	mu      sync.Mutex
}

func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseDelay
	exp.MaxInterval = maxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Policy{
		maxAttempts: maxAttempts,
		backoff:     backoff.WithMaxRetries(exp, uint64(maxAttempts)),
	}
}

// Five attempts starting at one second, capped at five seconds
func DefaultPolicy() *Policy {
	return NewPolicy(5, time.Second, 5*time.Second)
}

// Returns the wait before the next attempt. ok is false once every
// attempt has been used; the policy then stays Exhausted until Reset.
func (p *Policy) Next() (delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Exhausted {
		return 0, false
	}
	if p.attempt >= p.maxAttempts {
		p.state = Exhausted
		return 0, false
	}

	delay = p.backoff.NextBackOff()
	if delay == backoff.Stop {
		p.state = Exhausted
		return 0, false
	}
	p.attempt++
	p.state = Waiting
	return delay, true
}

// Call after a successful connect
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backoff.Reset()
	p.attempt = 0
	p.state = Idle
}

func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts used since the last Reset
func (p *Policy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}
