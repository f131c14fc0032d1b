// Package ratelimit paces outbound calls to a single external service.
//
// Each vendor API family and the registry get their own Limiter instance,
// constructed explicitly and injected where needed. A limiter paces task
// starts only: a slow task does not delay tasks queued after it beyond the
// configured interval, and a failed task does not disturb the pacing state.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/elter-ri/dar-harvester/internal/metrics"
)

// Limiter enforces a minimum interval between the starts of consecutive
// tasks dispatched against one external service.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	service string
}

// PerMinute creates a Limiter allowing at most rpm task starts per minute.
// rpm <= 0 disables pacing.
func PerMinute(service string, rpm int) *Limiter {
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Every(time.Minute / time.Duration(rpm))
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		service: service,
	}
}

// Service returns the external service identity this limiter guards.
func (l *Limiter) Service() string {
	return l.service
}

// Wait blocks until the next task may start, respecting the context.
// Callers queue in submission order; completions may interleave freely.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	l.mu.Lock()
	err := l.limiter.Wait(ctx)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.service, err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.service, delay)
	}
	return nil
}

// Do schedules task through the limiter and returns its result. Task errors
// propagate to the caller and leave the limiter's timing state untouched.
func Do[T any](ctx context.Context, l *Limiter, task func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.Wait(ctx); err != nil {
		return zero, err
	}
	return task(ctx)
}
