package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionUploadImage = "upload_image"
)

// Policy sizes a bucket: Burst tokens, refilled one at a time every Every.
type Policy struct {
	Burst int
	Every time.Duration
}

// DefaultPolicies bound chat traffic per user.
var DefaultPolicies = map[string]Policy{
	ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
	ActionCreateChat:  {Burst: 5, Every: 12 * time.Minute},
	ActionUploadImage: {Burst: 10, Every: 30 * time.Second},
}

var defaultPolicy = Policy{Burst: 20, Every: 3 * time.Second}

type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillTime time.Duration
	lastRefill time.Time
	lastUsed   time.Time
	mutex      sync.Mutex
}

type RateLimiter struct {
	buckets  map[string]*TokenBucket
	policies map[string]Policy
	now      func() time.Time
	mutex    sync.RWMutex
}

func NewRateLimiter(policies map[string]Policy) *RateLimiter {
	if policies == nil {
		policies = DefaultPolicies
	}
	return &RateLimiter{
		buckets:  make(map[string]*TokenBucket),
		policies: policies,
		now:      time.Now,
	}
}

func newTokenBucket(p Policy, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     p.Burst,
		maxTokens:  p.Burst,
		refillTime: p.Every,
		lastRefill: now,
		lastUsed:   now,
	}
}

// allow consumes a token if one is available, otherwise reports how long until the next.
func (tb *TokenBucket) allow(now time.Time) (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.lastUsed = now
	if tb.refillTime > 0 {
		if refills := int(now.Sub(tb.lastRefill) / tb.refillTime); refills > 0 {
			tb.tokens += refills
			if tb.tokens > tb.maxTokens {
				tb.tokens = tb.maxTokens
			}
			tb.lastRefill = tb.lastRefill.Add(time.Duration(refills) * tb.refillTime)
		}
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}

	return false, tb.lastRefill.Add(tb.refillTime).Sub(now)
}

// Allow checks and consumes one action for the user.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[key]; !exists {
			policy, ok := rl.policies[action]
			if !ok {
				policy = defaultPolicy
			}
			bucket = newTokenBucket(policy, now)
			rl.buckets[key] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.allow(now)
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		idle := now.Sub(bucket.lastUsed)
		bucket.mutex.Unlock()
		if idle > maxIdle {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) Len() int {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()
	return len(rl.buckets)
}

// StartCleanupRoutine runs Cleanup every 30 minutes until ctx ends.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			}
		}
	}()
}
