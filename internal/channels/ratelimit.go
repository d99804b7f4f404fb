package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked senders so a flood of new
	// accounts cannot grow the map without bound.
	maxTrackedKeys = 4096

	// DefaultFloodWindow is the window over which forwards are counted.
	DefaultFloodWindow = 60 * time.Second

	// DefaultFloodMaxHits is the max forwards per sender within a window.
	DefaultFloodMaxHits = 30
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// SenderRateLimiter bounds how many messages one sender can push to the
// agent per window. Messages over the limit are still logged for context,
// just not forwarded. Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxHits int
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewSenderRateLimiter creates a limiter; zero values fall back to defaults.
func NewSenderRateLimiter(window time.Duration, maxHits int) *SenderRateLimiter {
	if window <= 0 {
		window = DefaultFloodWindow
	}
	if maxHits <= 0 {
		maxHits = DefaultFloodMaxHits
	}
	return &SenderRateLimiter{
		window:  window,
		maxHits: maxHits,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}
}

// SetMaxHits changes the per-window limit for every key. Non-positive values
// are ignored.
func (r *SenderRateLimiter) SetMaxHits(maxHits int) {
	if maxHits <= 0 {
		return
	}
	r.mu.Lock()
	r.maxHits = maxHits
	r.mu.Unlock()
}

// Allow returns true if the key is within limits.
// Prunes stale entries and enforces a hard cap on tracked keys.
func (r *SenderRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
