package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
)

// TestLimiter_BlocksSixthRequestAndIsolatesIPs mirrors
// test_rate_limiter_login: 5 requests pass, the 6th is blocked, and a
// different IP is unaffected.
func TestLimiter_BlocksSixthRequestAndIsolatesIPs(t *testing.T) {
	clk := clock.Fixed{At: time.Unix(1000000, 0)}
	l := New(clk, DefaultWindow, DefaultLimit)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1", "/api/auth/login"), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1", "/api/auth/login"), "6th request should be blocked")
	assert.True(t, l.Allow("10.0.0.2", "/api/auth/login"), "different IP must not share the bucket")
}

// TestLimiter_WindowExpiryResetsCounter mirrors
// test_rate_limiter_window_expiry's exact bucket-boundary arithmetic:
// start_time=1000000 -> bucket 16666; +61s=1000061 -> bucket 16667.
func TestLimiter_WindowExpiryResetsCounter(t *testing.T) {
	start := int64(1000000)
	offsetClk := &mutableClock{now: time.Unix(start, 0)}
	l := New(offsetClk, DefaultWindow, DefaultLimit)

	for i := 0; i < 5; i++ {
		l.Allow("10.0.0.3", "/api/auth/login")
	}
	assert.False(t, l.Allow("10.0.0.3", "/api/auth/login"))

	offsetClk.now = time.Unix(start+61, 0)
	assert.True(t, l.Allow("10.0.0.3", "/api/auth/login"), "new window should reset the count")
}

type mutableClock struct {
	now time.Time
}

func (c *mutableClock) Now() time.Time { return c.now }
