package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process sliding window limiter.
type Memory struct {
	// requests maps keys to the times of accepted requests
	requests map[string][]time.Time

	// window defines the time period for limiting
	window time.Duration

	// limit is the maximum number of requests allowed in the window
	limit int

	now func() time.Time

	// mu synchronizes access to the requests map
	mu sync.Mutex
}

// NewMemory creates a limiter allowing limit requests per window and key.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		requests: make(map[string][]time.Time),
		window:   window,
		limit:    limit,
		now:      time.Now,
	}
}

// Allow implements Limiter. It never fails.
func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	valid := m.prune(key, now)

	if len(valid) >= m.limit {
		retryAfter := m.window
		if len(valid) > 0 {
			retryAfter = valid[0].Add(m.window).Sub(now)
		}
		return Result{Allowed: false, RetryAfter: retryAfter, Limit: m.limit}, nil
	}

	m.requests[key] = append(valid, now)
	return Result{
		Allowed:   true,
		Remaining: m.limit - len(valid) - 1,
		Limit:     m.limit,
	}, nil
}

// prune drops requests outside the window and returns the rest, oldest first.
func (m *Memory) prune(key string, now time.Time) []time.Time {
	times := m.requests[key]
	cutoff := now.Add(-m.window)

	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	valid := times[i:]

	if len(valid) == 0 {
		delete(m.requests, key)
		return nil
	}
	m.requests[key] = valid
	return valid
}

// Len returns the number of keys currently tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CleanupLoop periodically removes expired entries until ctx is done.
// It should be started in a goroutine.
func (m *Memory) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key := range m.requests {
		m.prune(key, now)
	}
}
