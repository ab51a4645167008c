package vlmclient

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute, 10*time.Second)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		b.recordFailure(now)
	}
	if !b.isOpen() {
		t.Fatalf("expected breaker to open after threshold failures")
	}
	if b.allow(now.Add(1 * time.Second)) {
		t.Fatalf("expected breaker to reject calls during cool-down")
	}
}

func TestBreaker_ClosesAfterCooldown(t *testing.T) {
	b := newBreaker(2, time.Minute, 5*time.Second)
	now := time.Unix(0, 0)
	b.recordFailure(now)
	b.recordFailure(now)
	if !b.allow(now.Add(6 * time.Second)) {
		t.Fatalf("expected breaker to allow calls after cool-down elapses")
	}
	if b.isOpen() {
		t.Fatalf("expected breaker to have closed after cool-down")
	}
}

func TestBreaker_FailuresOutsideWindowDontAccumulate(t *testing.T) {
	b := newBreaker(3, 10*time.Second, 5*time.Second)
	now := time.Unix(0, 0)
	b.recordFailure(now)
	b.recordFailure(now.Add(20 * time.Second)) // outside window, prunes the first
	b.recordFailure(now.Add(21 * time.Second))
	if b.isOpen() {
		t.Fatalf("expected breaker to stay closed: only 2 failures within the rolling window")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(3, time.Minute, 5*time.Second)
	now := time.Unix(0, 0)
	b.recordFailure(now)
	b.recordFailure(now)
	b.recordSuccess()
	b.recordFailure(now)
	if b.isOpen() {
		t.Fatalf("expected single post-success failure to not reopen the breaker")
	}
}
