package dispatcher

import (
	"sync"
	"time"
)

// bucket is a simple token bucket refilled continuously at rate
// tokens/sec, capped at capacity.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(perMinute int) *bucket {
	return &bucket{
		tokens:     float64(perMinute),
		capacity:   float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// classLimits is the fixed per-key-per-class budget from spec.md 4.7.
var classLimits = map[RateLimitClass]int{
	ClassGlobal: 100,
	ClassOrders: 10,
	ClassCollab: 30,
	ClassEvals:  10,
}

// RateLimiter holds one token bucket per (api key, class) pair.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter returns an empty limiter; buckets are created lazily
// on first use of a given key.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket)}
}

// Allow reports whether the given API key may make a request against
// the given rate-limit class right now. Every request also consumes
// one token from the key's global bucket, since global is a ceiling
// across all classes.
func (rl *RateLimiter) Allow(apiKey string, class RateLimitClass) bool {
	now := time.Now()
	if !rl.bucketFor(apiKey, ClassGlobal).allow(now) {
		return false
	}
	if class == ClassGlobal {
		return true
	}
	return rl.bucketFor(apiKey, class).allow(now)
}

func (rl *RateLimiter) bucketFor(apiKey string, class RateLimitClass) *bucket {
	key := apiKey + "|" + string(class)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = newBucket(classLimits[class])
		rl.buckets[key] = b
	}
	return b
}
