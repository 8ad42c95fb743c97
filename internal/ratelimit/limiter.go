// Package ratelimit implements a fixed-window per-user admission
// limiter for assistant requests. Each user gets a budget of requests
// per window; the window resets wholesale when it expires rather than
// sliding, so a burst at a window boundary can admit up to twice the
// budget across the boundary. That trade is acceptable for an
// LLM-backed endpoint where the point is cost containment, not
// precise shaping.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration
	// Remaining is the number of requests left in the current window.
	Remaining int
}

type window struct {
	start time.Time
	count int
}

// Limiter admits up to maxRequests per user per window.
type Limiter struct {
	mu          sync.Mutex
	users       map[string]*window
	maxRequests int
	windowSize  time.Duration
	logger      *slog.Logger
	now         func() time.Time // test seam
}

// New creates a limiter admitting maxRequests per windowSize per user.
func New(maxRequests int, windowSize time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		users:       make(map[string]*window),
		maxRequests: maxRequests,
		windowSize:  windowSize,
		logger:      logger,
		now:         time.Now,
	}
}

// Admit checks whether userID may make a request now and, if so,
// counts it against the current window.
func (l *Limiter) Admit(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.users[userID]
	if w == nil || now.Sub(w.start) >= l.windowSize {
		w = &window{start: now}
		l.users[userID] = w
	}

	if w.count >= l.maxRequests {
		retryAfter := w.start.Add(l.windowSize).Sub(now)
		l.logger.Debug("request rate limited",
			"user_id", userID,
			"retry_after_ms", retryAfter.Milliseconds())
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	w.count++
	return Decision{Allowed: true, Remaining: l.maxRequests - w.count}
}

// Sweep removes expired windows. Called periodically so users who stop
// sending requests do not leak entries.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for userID, w := range l.users {
		if now.Sub(w.start) >= l.windowSize {
			delete(l.users, userID)
			removed++
		}
	}
	return removed
}

// Run sweeps on interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("swept expired rate windows", "removed", n)
			}
		}
	}
}

// TrackedUsers returns the number of users with a live window.
func (l *Limiter) TrackedUsers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
