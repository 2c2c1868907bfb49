package httpmiddleware

import (
	"testing"
	"time"
)

func TestAllowExhaustsBucket(t *testing.T) {
	l := NewRateLimiter(3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4", now) {
			t.Fatalf("request %d denied within capacity", i+1)
		}
	}
	if l.allow("1.2.3.4", now) {
		t.Error("request beyond capacity allowed")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	l := NewRateLimiter(2)
	now := time.Now()

	l.allow("1.2.3.4", now)
	l.allow("1.2.3.4", now)
	if l.allow("1.2.3.4", now) {
		t.Fatal("bucket should be empty")
	}

	if !l.allow("1.2.3.4", now.Add(time.Minute)) {
		t.Error("bucket did not refill after a minute")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := NewRateLimiter(1)
	now := time.Now()

	if !l.allow("a", now) {
		t.Fatal("first key denied")
	}
	if !l.allow("b", now) {
		t.Error("second key shares the first key's bucket")
	}
}

func TestPruneDropsStaleBuckets(t *testing.T) {
	l := NewRateLimiter(1)
	now := time.Now()

	l.allow("stale", now)
	// Adding a new key past the stale horizon triggers the prune.
	l.allow("fresh", now.Add(staleAfter+time.Minute))

	l.mu.Lock()
	_, ok := l.buckets["stale"]
	l.mu.Unlock()
	if ok {
		t.Error("stale bucket survived prune")
	}
}
