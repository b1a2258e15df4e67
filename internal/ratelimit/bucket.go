package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Never is returned by WaitTime when a bucket has no refill and is empty.
const Never = time.Duration(math.MaxInt64)

// TokenBucket is a single continuous-refill counter.
//
// Refill is lazy: the token count is recomputed from the elapsed time on
// every access, so no background timer is needed. The refill-then-consume
// sequence is serialised by the underlying rate.Limiter.
type TokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity, refillRate float64, now func() time.Time) *TokenBucket {
	if capacity < 0 {
		capacity = 0
	}
	if refillRate < 0 {
		refillRate = 0
	}
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		limiter:    rate.NewLimiter(rate.Limit(refillRate), int(capacity)),
		now:        now,
	}
}

// Capacity returns the maximum number of tokens the bucket holds.
func (b *TokenBucket) Capacity() float64 { return b.capacity }

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 { return b.refillRate }

// Consume takes n tokens if they are all available. It never partially
// decrements.
func (b *TokenBucket) Consume(n int) bool {
	if n <= 0 {
		return true
	}
	return b.limiter.AllowN(b.now(), n)
}

// Tokens returns the current token count, refilled up to now.
func (b *TokenBucket) Tokens() float64 {
	if b.refillRate <= 0 {
		// A zero-limit rate.Limiter spends its burst directly.
		return float64(b.limiter.Burst())
	}
	t := b.limiter.TokensAt(b.now())
	if t > b.capacity {
		t = b.capacity
	}
	if t < 0 {
		t = 0
	}
	return t
}

// WaitTime returns how long until at least one token is available.
func (b *TokenBucket) WaitTime() time.Duration {
	tokens := b.Tokens()
	if tokens >= 1 {
		return 0
	}
	if b.refillRate <= 0 {
		return Never
	}
	seconds := (1 - tokens) / b.refillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}
