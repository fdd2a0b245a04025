package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shelfscout/backend/internal/domain"
)

func TestNewRateLimiter(t *testing.T) {
	testCases := []struct {
		name    string
		config  RateLimiterConfig
		wantErr bool
	}{
		{name: "valid", config: RateLimiterConfig{MaxConcurrent: 2, CallDelay: time.Second}},
		{name: "zero delay", config: RateLimiterConfig{MaxConcurrent: 1}},
		{name: "zero concurrency", config: RateLimiterConfig{MaxConcurrent: 0}, wantErr: true},
		{name: "negative delay", config: RateLimiterConfig{MaxConcurrent: 1, CallDelay: -time.Millisecond}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewRateLimiter(tc.config)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Fatalf("NewRateLimiter() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRateLimiter() error = %v", err)
			}
			if l.MaxConcurrent() != tc.config.MaxConcurrent || l.CallDelay() != tc.config.CallDelay {
				t.Errorf("limiter = (%d, %v), want (%d, %v)",
					l.MaxConcurrent(), l.CallDelay(), tc.config.MaxConcurrent, tc.config.CallDelay)
			}
		})
	}
}

func TestRateLimiter_BoundsConcurrency(t *testing.T) {
	l, err := NewRateLimiter(RateLimiterConfig{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	var outstanding, peak atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			n := outstanding.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			outstanding.Add(-1)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak outstanding acquisitions = %d, want <= 2", got)
	}
	if got := peak.Load(); got < 1 {
		t.Errorf("peak outstanding acquisitions = %d, want at least 1", got)
	}
}

func TestRateLimiter_SpacesGrants(t *testing.T) {
	const delay = 20 * time.Millisecond
	l, err := NewRateLimiter(RateLimiterConfig{MaxConcurrent: 4, CallDelay: delay})
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	start := time.Now()
	grants := make([]time.Time, 0, 4)
	for range 4 {
		release, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		grants = append(grants, time.Now())
		release()
	}

	for k, g := range grants {
		if want := time.Duration(k) * delay; g.Sub(start) < want {
			t.Errorf("grant %d after %v, want at least %v", k, g.Sub(start), want)
		}
	}
}

func TestRateLimiter_ReleaseIsIdempotent(t *testing.T) {
	l, err := NewRateLimiter(RateLimiterConfig{MaxConcurrent: 1})
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()
	release()

	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Error("third Acquire() succeeded, want a timeout because the only slot is held")
	}
}

func TestRateLimiter_FailedWaitReturnsSlot(t *testing.T) {
	l, err := NewRateLimiter(RateLimiterConfig{MaxConcurrent: 2, CallDelay: time.Hour})
	if err != nil {
		t.Fatalf("NewRateLimiter() error = %v", err)
	}

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Fatal("second Acquire() succeeded, want the call spacing to exceed the deadline")
	}

	release()
	if !l.slots.TryAcquire(2) {
		t.Error("slots were not returned after a failed wait")
	}
}
