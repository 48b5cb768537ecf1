package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestKeyedLimiter_AllowAndRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewKeyedLimiter(clk, 5, 5, 0) // 5 tokens capacity, 5 tokens/sec.

	for i := 0; i < 5; i++ {
		if !l.Allow("a") {
			t.Fatalf("expected initial burst to succeed (event %d)", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // 1 token refilled (5 tokens/sec).
	if !l.Allow("a") {
		t.Fatalf("expected refill after time advance")
	}
	if l.Allow("a") {
		t.Fatalf("expected exactly one refilled token")
	}
}

func TestKeyedLimiter_KeysAreIndependent(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewKeyedLimiter(clk, 1, 1, 0)

	if !l.Allow("a") || l.Allow("a") {
		t.Fatalf("expected key a to allow exactly one event")
	}
	if !l.Allow("b") {
		t.Fatalf("key b must not share key a's bucket")
	}
}

func TestKeyedLimiter_DoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewKeyedLimiter(clk, 1, 1, 0)

	if !l.Allow("a") {
		t.Fatalf("expected initial token")
	}
	clk.Advance(10 * time.Second)
	if !l.Allow("a") {
		t.Fatalf("expected refill up to capacity")
	}
	if l.Allow("a") {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestKeyedLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	l := NewKeyedLimiter(clk, 1, 1, 2)

	l.Allow("a")
	l.Allow("b")
	l.Allow("a") // a is now most recent; b is the eviction candidate.
	l.Allow("c")

	if got := l.Len(); got != 2 {
		t.Fatalf("Len=%d, want 2", got)
	}
	if !l.Allow("b") {
		t.Fatalf("evicted key b should start with a full bucket")
	}
	if l.Allow("c") {
		t.Fatalf("key c should still be drained")
	}
}

func TestKeyedLimiter_NilAllowsEverything(t *testing.T) {
	l := NewKeyedLimiter(nil, 0, 0, 0)
	if l != nil {
		t.Fatalf("expected nil limiter for a zero rate")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("nil limiter rejected event %d", i)
		}
	}
	if l.Len() != 0 {
		t.Fatalf("nil limiter Len=%d, want 0", l.Len())
	}
}
