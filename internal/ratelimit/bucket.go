// Package ratelimit provides the per-process request budget. It is
// independent of single-flight admission: the bucket throttles how often
// clients may ask, the admission gate decides who may drive the UI.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// maxRefillSeconds caps the elapsed time used for refill calculation so a
// system sleep/wake cycle cannot mint an hour of tokens at once.
const maxRefillSeconds = 120.0

// TokenBucket is a token bucket keyed to requests-per-minute with a burst
// allowance.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// New creates a bucket that refills at rpm requests per minute and holds at
// most burst tokens.
func New(rpm, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		tokens:     float64(burst),
		burst:      float64(burst),
		refillRate: float64(rpm) / 60.0,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > maxRefillSeconds {
		elapsed = maxRefillSeconds
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}

// Allow consumes one token. On denial it returns the number of whole seconds
// after which one token will be available, rounded up and never below 1.
func (b *TokenBucket) Allow() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 60
	}
	deficit := 1 - b.tokens
	retryAfter := int(math.Ceil(deficit / b.refillRate))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Available returns the current token count after refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
