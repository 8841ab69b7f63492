package service

import (
	"sync"
	"time"
)

// RateLimiter guards message sends with a per-user sliding window. A denied
// call does not consume a slot. The map is mutex-guarded because gateway
// handlers run on independent goroutines.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter creates a sliding-window limiter allowing limit events per
// window per user.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records and permits the event when the user has capacity left in the
// current window, pruning expired timestamps first.
func (l *RateLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.entries[userID][:0]
	for _, ts := range l.entries[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) == 0 {
		delete(l.entries, userID)
	} else {
		l.entries[userID] = recent
	}

	if len(recent) >= l.limit {
		return false
	}

	l.entries[userID] = append(recent, now)
	return true
}

// Sweep evicts users whose entire window has expired. Intended for a
// periodic housekeeping goroutine.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for userID, stamps := range l.entries {
		live := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		if len(live) == 0 {
			delete(l.entries, userID)
		} else {
			l.entries[userID] = live
		}
	}
}
