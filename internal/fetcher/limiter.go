package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxBackoffFactor caps how far OnRateLimit can stretch the spacing.
const MaxBackoffFactor = 8

// AdaptiveLimiter spaces request starts at least a minimum interval apart.
// It wraps a rate.Limiter with burst 1, so one instance shared by any number
// of workers serialises permission to proceed.
//
// On a throttling response the spacing doubles (up to 8x the minimum). Each
// success shrinks it by 20%, never below the configured minimum.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	base     time.Duration
	max      time.Duration
	interval time.Duration
}

// NewAdaptiveLimiter creates a limiter enforcing minInterval between request
// starts. A non-positive interval disables pacing.
func NewAdaptiveLimiter(minInterval time.Duration) *AdaptiveLimiter {
	if minInterval < 0 {
		minInterval = 0
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(every(minInterval), 1),
		base:     minInterval,
		max:      minInterval * MaxBackoffFactor,
		interval: minInterval,
	}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Wait blocks until the next request may start or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess relaxes the spacing by 20%, down to the configured minimum.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interval <= a.base {
		return
	}
	next := time.Duration(float64(a.interval) * 0.8)
	if next < a.base {
		next = a.base
	}
	a.interval = next
	a.limiter.SetLimit(every(next))
}

// OnRateLimit doubles the spacing after the origin pushes back.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.interval * 2
	if next > a.max {
		next = a.max
	}
	if next == a.interval {
		return
	}
	a.interval = next
	a.limiter.SetLimit(every(next))
	zap.L().Warn("adaptive rate limit: widening request spacing",
		zap.Duration("interval", next),
	)
}

// Interval returns the spacing currently enforced.
func (a *AdaptiveLimiter) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}
