package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can decide whether to fail open.
var ErrUnavailable = errors.New("cache: store unavailable")

// Window is the state of a fixed-window counter after one consume attempt.
type Window struct {
	Count   int64
	Limit   int64
	ResetAt time.Time
	Allowed bool
}

// Remaining reports how many further requests the window admits.
func (w Window) Remaining() int64 {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// Store is a shared TTL store holding fixed-window counters.
//
// ConsumeWindow runs as one atomic step per key: when no live window exists it starts
// one at now with count 1; when the count already reached limit it rejects without
// incrementing; otherwise it increments, keeping the original reset time.
type Store interface {
	ConsumeWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Window, error)
	Ping(ctx context.Context) error
	Close() error
}

func startWindow(limit int64, window time.Duration, now time.Time) Window {
	return Window{Count: 1, Limit: limit, ResetAt: now.Add(window), Allowed: true}
}
