package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds the limits shared by every lookup of a run
type RateLimiterConfig struct {
	MaxConcurrent int
	CallDelay     time.Duration
}

// RateLimiter bounds the number of outstanding external lookups and spaces
// successive grants at least CallDelay apart. One instance is shared by every
// product and retailer task of a run.
type RateLimiter struct {
	slots         *semaphore.Weighted
	pace          *rate.Limiter
	maxConcurrent int
	callDelay     time.Duration
}

// NewRateLimiter creates a limiter. Zero concurrency or a negative delay is a configuration error.
func NewRateLimiter(config RateLimiterConfig) (*RateLimiter, error) {
	if config.MaxConcurrent < 1 {
		return nil, goerr.Wrap(domain.ErrConfiguration, "max concurrent lookups must be at least 1",
			goerr.V("max_concurrent", config.MaxConcurrent))
	}
	if config.CallDelay < 0 {
		return nil, goerr.Wrap(domain.ErrConfiguration, "call delay must not be negative",
			goerr.V("call_delay", config.CallDelay))
	}

	limit := rate.Inf
	if config.CallDelay > 0 {
		limit = rate.Every(config.CallDelay)
	}

	return &RateLimiter{
		slots:         semaphore.NewWeighted(int64(config.MaxConcurrent)),
		pace:          rate.NewLimiter(limit, 1),
		maxConcurrent: config.MaxConcurrent,
		callDelay:     config.CallDelay,
	}, nil
}

// Acquire blocks until a slot is free and the call spacing allows another grant.
// The returned release func frees the slot; calling it more than once is harmless.
func (l *RateLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if err := l.pace.Wait(ctx); err != nil {
		l.slots.Release(1)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.slots.Release(1) })
	}, nil
}

// MaxConcurrent returns the slot count
func (l *RateLimiter) MaxConcurrent() int {
	return l.maxConcurrent
}

// CallDelay returns the minimum spacing between grants
func (l *RateLimiter) CallDelay() time.Duration {
	return l.callDelay
}
