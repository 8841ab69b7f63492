package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow("user-1"), "send %d should be allowed", i+1)
	}
	require.False(t, limiter.Allow("user-1"), "11th send must be rejected")
}

func TestRateLimiterDeniedCallDoesNotConsume(t *testing.T) {
	limiter := NewRateLimiter(2, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("user-1"))
	now = now.Add(30 * time.Second)
	require.True(t, limiter.Allow("user-1"))
	require.False(t, limiter.Allow("user-1"))
	require.False(t, limiter.Allow("user-1"))

	// Only the first slot has expired. If the rejected calls had consumed
	// slots the window would still be full.
	now = now.Add(31 * time.Second)
	require.True(t, limiter.Allow("user-1"))
	require.False(t, limiter.Allow("user-1"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow("user-1"))
		now = now.Add(time.Second)
	}
	require.False(t, limiter.Allow("user-1"))

	// Advancing 52s expires the sends at t0, t0+1s and t0+2s, so exactly
	// three slots open before the window fills again.
	now = now.Add(52 * time.Second)
	require.True(t, limiter.Allow("user-1"))
	require.True(t, limiter.Allow("user-1"))
	require.True(t, limiter.Allow("user-1"))
	require.False(t, limiter.Allow("user-1"))
}

func TestRateLimiterIsolatesUsers(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("user-1"))
	require.False(t, limiter.Allow("user-1"))
	require.True(t, limiter.Allow("user-2"))
}

func TestRateLimiterSweepEvictsIdleUsers(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("user-1"))
	require.True(t, limiter.Allow("user-2"))

	now = now.Add(2 * time.Minute)
	limiter.Sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	require.Empty(t, limiter.entries)
}
