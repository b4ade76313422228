package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	clock := time.Unix(1000, 0)
	rl := newRateLimiterWithClock(3, time.Minute, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("key"), "call %d should pass", i+1)
	}
	assert.False(t, rl.Allow("key"), "limit+1 call must be rejected")

	// Other keys have their own window.
	assert.True(t, rl.Allow("other"))

	// A fresh window resets the count.
	clock = clock.Add(time.Minute)
	assert.True(t, rl.Allow("key"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("key"))
	}
}
