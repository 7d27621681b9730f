package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	r := NewInMemoryRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("a"))
	}
	assert.False(t, r.Allow("a"))
}

func TestKeysAreIndependent(t *testing.T) {
	r := NewInMemoryRateLimiter(1, time.Minute)
	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("b"))
	assert.False(t, r.Allow("a"))
	assert.False(t, r.Allow("b"))
}

func TestWindowSlides(t *testing.T) {
	r := NewInMemoryRateLimiter(2, 40*time.Millisecond)
	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.Allow("a"))
}
