package vlmclient

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's coarse state. Unlike the pack's
// closed/open/half-open CircuitBreaker (TheFozid-go-llama/internal/tools,
// circuit_breaker.go), this breaker has no half-open probe budget: spec
// §4.9 fixes a rolling failure window and a flat cool-down instead, so
// the breaker reopens to closed unconditionally once the cool-down
// elapses rather than admitting a limited number of probe requests.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

// breaker is the rolling-window circuit breaker of spec §4.9: after
// failureThreshold consecutive failures within window, it short-circuits
// calls for cooldown before allowing another attempt.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  []time.Time
	openedAt  time.Time
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

func newBreaker(threshold int, window, cooldown time.Duration) *breaker {
	if threshold < 1 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, window: window, cooldown: cooldown}
}

// allow reports whether a call may proceed, auto-closing the breaker once
// the cool-down has elapsed.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerClosed {
		return true
	}
	if now.Sub(b.openedAt) >= b.cooldown {
		b.state = breakerClosed
		b.failures = nil
		return true
	}
	return false
}

// recordFailure appends a failure timestamp, pruning entries outside the
// rolling window, and opens the breaker once the threshold is crossed.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.window)
	pruned := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			pruned = append(pruned, f)
		}
	}
	b.failures = pruned
	if len(b.failures) >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

// recordSuccess closes the breaker and clears the failure history.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = nil
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}
