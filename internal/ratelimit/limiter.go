// Package ratelimit implements a per-key token bucket governing session and
// batch admission. Buckets refill continuously up to capacity; an admission
// check never blocks, it either spends a token or reports how long until one
// regenerates.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether a token was spent.
	Allowed bool

	// Limit is the requests-per-minute ceiling applied to this key.
	Limit int

	// Remaining is the number of whole tokens left after this check.
	Remaining int

	// RetryAfter is how long until at least one token will be available.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// bucket holds the refill state for one key. Owned exclusively by the
// limiter; all access goes through its mutex.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

// Limiter tracks one token bucket per key. Buckets are created lazily on
// first use. Checks for distinct keys never contend beyond the brief map
// lookup.
type Limiter struct {
	defaultRPM int
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a limiter with the given process-wide requests-per-minute
// default.
func New(defaultRPM int) *Limiter {
	return &Limiter{
		defaultRPM: defaultRPM,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// Allow performs one admission check for key. rpmOverride, when non-nil and
// positive, replaces the process-wide default for this key.
func (l *Limiter) Allow(key string, rpmOverride *int) Decision {
	rpm := l.defaultRPM
	if rpmOverride != nil && *rpmOverride > 0 {
		rpm = *rpmOverride
	}
	capacity := float64(rpm)

	b := l.bucketFor(key, capacity)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()

	// A key's limit can change between checks (override edited); adopt the
	// new capacity and clamp.
	if b.capacity != capacity {
		b.capacity = capacity
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}

	// Refill is monotonic: a clock that moved backwards adds nothing.
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * capacity / 60.0
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{
			Allowed:   true,
			Limit:     rpm,
			Remaining: int(b.tokens),
		}
	}

	deficit := 1 - b.tokens
	retryAfter := time.Duration(deficit * 60.0 / capacity * float64(time.Second))
	return Decision{
		Limit:      rpm,
		RetryAfter: retryAfter,
	}
}

func (l *Limiter) bucketFor(key string, capacity float64) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			capacity:   capacity,
			tokens:     capacity,
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}
