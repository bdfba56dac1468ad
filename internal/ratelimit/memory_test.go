package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAllowWithinBurst(t *testing.T) {
	m := newLimiter(t, 10, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "agent-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be within burst", i)
	}

	ok, err := m.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestTokensRefillOverTime(t *testing.T) {
	m := newLimiter(t, 1000, 2) // fast refill keeps the test quick
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _ := m.Allow(ctx, "k")
		require.True(t, ok)
	}
	ok, _ := m.Allow(ctx, "k")
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond) // ≥ 5 tokens at 1000/s, capped at 2
	ok, _ = m.Allow(ctx, "k")
	assert.True(t, ok, "tokens should refill after waiting")
}

func TestKeysAreIndependent(t *testing.T) {
	m := newLimiter(t, 10, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "agent-a")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "agent-a")
	require.False(t, ok)

	ok, _ = m.Allow(ctx, "agent-b")
	assert.True(t, ok, "a throttled key must not affect others")
}

func TestRefillCapsAtBurst(t *testing.T) {
	m := newLimiter(t, 1000, 3)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "k")

	// Backdate so a naive refill would compute far more than the cap.
	m.mu.Lock()
	m.state["k"].seen = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := m.Allow(ctx, "k"); ok {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestSweepDropsIdleKeys(t *testing.T) {
	m := newLimiter(t, 10, 5)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "idle")
	_, _ = m.Allow(ctx, "active")

	m.mu.Lock()
	m.state["idle"].seen = time.Now().Add(-idleTTL - time.Minute)
	m.mu.Unlock()

	m.sweep(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.state, "idle")
	assert.Contains(t, m.state, "active")
}

func TestConcurrentAllowRespectsBurst(t *testing.T) {
	m := newLimiter(t, 100, 50)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(ctx, "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	// 100 racing requests against a burst of 50.
	assert.LessOrEqual(t, allowed.Load(), int64(50))
	assert.GreaterOrEqual(t, allowed.Load(), int64(1))
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Close())
}
