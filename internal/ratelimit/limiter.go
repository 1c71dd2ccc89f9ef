// Package ratelimit provides client-side request pacing using a token bucket.
//
// The backend enforces its own per-scope throttling and answers 429 when the
// client exceeds it. The limiter here keeps normal operation well under that
// threshold so 429s only happen under genuinely abnormal load.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default pacing for the backend API. The backend is a local aggregation
// server, not the cloud providers themselves, so the budget is generous:
// bursts absorb UI-driven spikes (startup refresh, rapid paging) and the
// sustained rate stays far below the backend's throttle window.
const (
	defaultRatePerSec    = 5.0
	defaultBurstCapacity = 15.0
)

// Limiter implements a token bucket rate limiter.
// It allows bursts up to the bucket capacity, then refills at a fixed rate.
type Limiter struct {
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time we warned about a long wait
	mu           sync.Mutex
}

// NewLimiter creates a limiter refilling at tokensPerSecond with the given
// burst capacity. The bucket starts full.
func NewLimiter(tokensPerSecond, burstSize float64) *Limiter {
	return &Limiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// NewBackendLimiter creates the default limiter shared by all backend calls.
func NewBackendLimiter() *Limiter {
	return NewLimiter(defaultRatePerSec, defaultBurstCapacity)
}

// Wait blocks until a token is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.tryAcquire() {
		return nil
	}

	// Long waits get one warning so throttled refreshes are diagnosable.
	waitTime := l.timeUntilNextToken()
	if waitTime > 2*time.Second {
		l.mu.Lock()
		if time.Since(l.lastWarnTime) > 10*time.Second {
			log.Warn().Float64("wait_seconds", waitTime.Seconds()).
				Msg("rate limited: waiting for request capacity")
			l.lastWarnTime = time.Now()
		}
		l.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if l.tryAcquire() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.timeUntilNextToken()):
		}
	}
}

// tryAcquire attempts to consume one token without blocking.
func (l *Limiter) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}

// timeUntilNextToken calculates how long until at least one token is available.
func (l *Limiter) timeUntilNextToken() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	needed := 1.0 - l.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / l.refillRate * float64(time.Second))
}

// Tokens returns the current token count (for tests).
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokens := l.tokens + time.Since(l.lastRefill).Seconds()*l.refillRate
	if tokens > l.maxTokens {
		tokens = l.maxTokens
	}
	return tokens
}
