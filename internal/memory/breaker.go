package memory

import (
	"errors"
	"sync"
	"time"
)

// errBreakerOpen is returned while the breaker rejects calls.
var errBreakerOpen = errors.New("memory circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker stops calling an unhealthy backend after maxFailures consecutive
// failures and retries once cooldown has elapsed.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

func (b *breaker) execute(fn func() error) error {
	if !b.allow() {
		return errBreakerOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
			b.state = breakerOpen
			b.openedAt = b.now()
		}
		return err
	}
	b.failures = 0
	b.state = breakerClosed
	return nil
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && b.now().Sub(b.openedAt) < b.cooldown
}
