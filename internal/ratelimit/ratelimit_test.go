package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToMaxThenBlocks(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("1.2.3.4", time.Minute, 3))
	}
	assert.False(t, l.Allow("1.2.3.4", time.Minute, 3))
}

func TestLimiter_DisabledWhenMaxCountZero(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("5.6.7.8", time.Minute, 0))
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("9.9.9.9", 20*time.Millisecond, 1))
	assert.False(t, l.Allow("9.9.9.9", 20*time.Millisecond, 1))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, l.Allow("9.9.9.9", 20*time.Millisecond, 1))
}

func TestLimiter_SeparateKeysIndependent(t *testing.T) {
	l := New()
	assert.True(t, l.Allow("a", time.Minute, 1))
	assert.True(t, l.Allow("b", time.Minute, 1))
	assert.False(t, l.Allow("a", time.Minute, 1))
}
