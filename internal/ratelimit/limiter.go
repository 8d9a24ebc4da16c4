package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts requests per key in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) Decision
}

type InMemory struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	items  map[string]window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemory(w time.Duration) *InMemory {
	if w <= 0 {
		w = time.Minute
	}
	return &InMemory{window: w, now: time.Now, items: make(map[string]window)}
}

func (l *InMemory) Allow(_ context.Context, key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	cur, ok := l.items[key]
	if !ok || !now.Before(cur.resetAt) {
		cur = window{resetAt: now.Add(l.window)}
	}
	cur.count++
	l.items[key] = cur
	return decide(cur.count, limit, cur.resetAt)
}

func (l *InMemory) sweep(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
