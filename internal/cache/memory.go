package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memorySweepEvery = 1024

// MemoryStore keeps counters in process memory. Limits are per instance, so it is only
// wired when the operator explicitly allows the in-memory fallback.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
	calls   int
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]Window)}
}

// ConsumeWindow implements Store.
func (s *MemoryStore) ConsumeWindow(_ context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error) {
	if limit <= 0 || window <= 0 {
		return Window{}, fmt.Errorf("cache: invalid window limit=%d window=%s", limit, window)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%memorySweepEvery == 0 {
		s.sweep(now)
	}

	current, ok := s.windows[key]
	if !ok || !now.Before(current.ResetAt) {
		next := startWindow(limit, window, now)
		s.windows[key] = next
		return next, nil
	}

	current.Limit = limit
	if current.Count >= limit {
		current.Allowed = false
		return current, nil
	}

	current.Count++
	current.Allowed = true
	s.windows[key] = current
	return current, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.ResetAt) {
			delete(s.windows, key)
		}
	}
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
