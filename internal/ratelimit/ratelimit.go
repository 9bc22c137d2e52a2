// Package ratelimit paces page navigations with a jittered delay that
// widens after repeated failures.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter enforces a random gap in [min, max) between actions.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// Wait blocks until the gap since the previous action has passed. The
// first call returns immediately.
func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastAction.IsZero() {
		elapsed := time.Since(r.lastAction)
		delay := r.calculateDelay()

		if elapsed < delay {
			timer := time.NewTimer(delay - elapsed)
			defer timer.Stop()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max < min {
		max = min
	}
	r.minDelay = min
	r.maxDelay = max
}

// Delays returns the current bounds.
func (r *SimpleRateLimiter) Delays() (min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minDelay, r.maxDelay
}

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.minDelay >= r.maxDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + rand.N(delta)
}

// AdaptiveRateLimiter backs off after consecutive errors and slowly
// tightens again after a run of successes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		floor:             minDelay,
		maxErrorCount:     3,
		backoffFactor:     1.5,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newMin := time.Duration(float64(a.minDelay) * 0.9)
		if newMin < a.floor {
			newMin = a.floor
		}
		a.minDelay = newMin
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
		newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)

		if newMin > 60*time.Second {
			newMin = 60 * time.Second
		}
		if newMax > 120*time.Second {
			newMax = 120 * time.Second
		}

		a.minDelay = newMin
		a.maxDelay = newMax
		a.errorCount = 0
	}
}
