package ratelimit

import (
	"context"
	"sync"
	"time"
)

// idleTTL is how long an unused key's state is kept before the sweeper
// drops it. Agents that stop sending simply age out.
const idleTTL = 10 * time.Minute

// sweepInterval is how often the sweeper scans for idle keys.
const sweepInterval = time.Minute

// MemoryLimiter is a per-key token bucket held in process memory.
//
// Every key refills at rate tokens per second up to a burst-sized cap.
// State for idle keys is swept periodically so the map stays bounded by
// the number of recently active agents.
type MemoryLimiter struct {
	rate float64
	cap  float64

	mu      sync.Mutex
	state   map[string]*tokenState
	done    chan struct{}
	closing sync.Once
}

type tokenState struct {
	tokens float64
	seen   time.Time
}

// NewMemoryLimiter creates a limiter allowing rate requests per second per
// key with bursts up to burst. Call Close to stop the background sweeper.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:  rate,
		cap:   float64(burst),
		state: make(map[string]*tokenState),
		done:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow takes one token for key, reporting whether the request may proceed.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state[key]
	if !ok {
		// New key starts full; this request consumes the first token.
		m.state[key] = &tokenState{tokens: m.cap - 1, seen: now}
		return true, nil
	}

	st.tokens = min(m.cap, st.tokens+now.Sub(st.seen).Seconds()*m.rate)
	st.seen = now
	if st.tokens < 1 {
		return false, nil
	}
	st.tokens--
	return true, nil
}

// Close stops the sweeper. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.closing.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep drops keys idle longer than idleTTL.
func (m *MemoryLimiter) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, st := range m.state {
		if now.Sub(st.seen) > idleTTL {
			delete(m.state, key)
		}
	}
}
