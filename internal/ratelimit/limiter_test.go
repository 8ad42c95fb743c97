package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(max int, window time.Duration) (*Limiter, *time.Time) {
	l := New(max, window, nil)
	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestAdmitUpToBudget(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)

	for i := range 5 {
		d := l.Admit("user-1")
		if !d.Allowed {
			t.Fatalf("request %d rejected", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, 5-(i+1))
		}
	}

	d := l.Admit("user-1")
	if d.Allowed {
		t.Fatal("6th request admitted")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v", d.RetryAfter)
	}
}

func TestWindowResetsWholesale(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	for range 5 {
		l.Admit("user-1")
	}
	if l.Admit("user-1").Allowed {
		t.Fatal("over-budget request admitted")
	}

	// 30s in: still the same window, still rejected. A sliding
	// limiter would have started admitting again.
	*clock = clock.Add(30 * time.Second)
	if l.Admit("user-1").Allowed {
		t.Fatal("request admitted mid-window")
	}

	// Past the window boundary the full budget comes back at once.
	*clock = clock.Add(31 * time.Second)
	d := l.Admit("user-1")
	if !d.Allowed {
		t.Fatal("request rejected after window reset")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4", d.Remaining)
	}
}

func TestRetryAfterCountsDown(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	l.Admit("user-1")
	d1 := l.Admit("user-1")

	*clock = clock.Add(45 * time.Second)
	d2 := l.Admit("user-1")

	if d2.RetryAfter >= d1.RetryAfter {
		t.Errorf("RetryAfter did not shrink: %v then %v", d1.RetryAfter, d2.RetryAfter)
	}
	if d2.RetryAfter != 15*time.Second {
		t.Errorf("RetryAfter = %v, want 15s", d2.RetryAfter)
	}
}

func TestUsersIsolated(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Admit("user-1")
	l.Admit("user-1")
	if l.Admit("user-1").Allowed {
		t.Fatal("user-1 over budget admitted")
	}
	if !l.Admit("user-2").Allowed {
		t.Fatal("user-2 rejected by user-1's window")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	l, clock := newTestLimiter(5, time.Minute)

	l.Admit("user-1")
	l.Admit("user-2")
	if got := l.TrackedUsers(); got != 2 {
		t.Fatalf("TrackedUsers = %d, want 2", got)
	}

	if removed := l.Sweep(); removed != 0 {
		t.Errorf("early sweep removed %d", removed)
	}

	*clock = clock.Add(2 * time.Minute)
	if removed := l.Sweep(); removed != 2 {
		t.Errorf("sweep removed %d, want 2", removed)
	}
	if got := l.TrackedUsers(); got != 0 {
		t.Errorf("TrackedUsers = %d, want 0", got)
	}
}
