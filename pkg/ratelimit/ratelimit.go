// Package ratelimit throttles the admin API's read-only status queries
// per source IP. One token bucket is kept per client key; adminapi's
// rate-limiting middleware sweeps stale buckets on a ticker so a churn
// of short-lived clients (every icreport invocation, every dashboard
// poll from a new pod) doesn't leak memory indefinitely.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a single client's token bucket: tokens accrue at
// refillRate up to maxTokens, and each allowed call consumes one.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewTokenBucket creates a bucket starting full, holding up to maxTokens
// and gaining one token every refillInterval. A non-positive maxTokens
// or refillInterval degrades to a one-token-per-second bucket rather
// than a bucket that can never refill.
func NewTokenBucket(maxTokens int, refillInterval time.Duration) *TokenBucket {
	if maxTokens <= 0 || refillInterval <= 0 {
		maxTokens = 1
		refillInterval = time.Second
	}
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillInterval,
		lastRefill: time.Now(),
	}
}

// refillLocked tops the bucket up for however much time has passed
// since the last refill; callers must hold tb.mu.
func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < tb.refillRate {
		return
	}
	add := int(elapsed / tb.refillRate)
	tb.tokens += add
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now
}

// take is the shared core of Allow and AllowWithRetryAfter: refill,
// then spend a token if one is available.
func (tb *TokenBucket) take() (allowed bool, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.refillLocked(now)

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}

	retryAfter = tb.refillRate - now.Sub(tb.lastRefill)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Allow reports whether a call should proceed, spending a token if so.
func (tb *TokenBucket) Allow() bool {
	allowed, _ := tb.take()
	return allowed
}

// AllowWithRetryAfter is Allow plus, when denied, how long until the
// next token is available (surfaced as the HTTP Retry-After header).
func (tb *TokenBucket) AllowWithRetryAfter() (allowed bool, retryAfter time.Duration) {
	return tb.take()
}

// ClientLimiter keys one TokenBucket per client (source IP for the
// admin API), created lazily on first use.
type ClientLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*TokenBucket
	lastSeen   map[string]time.Time
	maxTokens  int
	refillRate time.Duration
}

// NewClientLimiter builds a limiter where every client key gets its own
// bucket of maxTokens tokens, refilled one at a time every
// refillInterval.
func NewClientLimiter(maxTokens int, refillInterval time.Duration) *ClientLimiter {
	if maxTokens <= 0 || refillInterval <= 0 {
		maxTokens, refillInterval = 1, time.Second
	}
	return &ClientLimiter{
		buckets:    make(map[string]*TokenBucket),
		lastSeen:   make(map[string]time.Time),
		maxTokens:  maxTokens,
		refillRate: refillInterval,
	}
}

// bucketFor returns clientKey's bucket, creating it under a write lock
// on first sight, and stamps the client's last-seen time for Cleanup.
func (cl *ClientLimiter) bucketFor(clientKey string) *TokenBucket {
	cl.mu.RLock()
	bucket, ok := cl.buckets[clientKey]
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if !ok {
		if bucket, ok = cl.buckets[clientKey]; !ok {
			bucket = NewTokenBucket(cl.maxTokens, cl.refillRate)
			cl.buckets[clientKey] = bucket
		}
	}
	cl.lastSeen[clientKey] = time.Now()
	return bucket
}

// Allow reports whether clientKey (typically a source IP) may proceed.
func (cl *ClientLimiter) Allow(clientKey string) bool {
	return cl.bucketFor(clientKey).Allow()
}

// AllowWithRetryAfter is Allow plus a Retry-After duration on denial.
func (cl *ClientLimiter) AllowWithRetryAfter(clientKey string) (bool, time.Duration) {
	return cl.bucketFor(clientKey).AllowWithRetryAfter()
}

// Cleanup evicts any client whose bucket hasn't been touched in maxAge,
// bounding memory use across a long-running admin API process. Callers
// run this on a periodic ticker.
func (cl *ClientLimiter) Cleanup(maxAge time.Duration) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	for key, seen := range cl.lastSeen {
		if now.Sub(seen) > maxAge {
			delete(cl.buckets, key)
			delete(cl.lastSeen, key)
		}
	}
}
