// Package resilience wraps the fault-tolerance patterns used around
// external collaborators and the task queue: bounded retry with jittered
// exponential backoff, circuit breaking for outbound HTTP, and a bulkhead
// for capping concurrency on a shared resource.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the retry and concurrency knobs a caller passes in.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
}

// RetryWithBackoff runs fn up to 1+MaxRetries times. The wait doubles after
// each failure, starting at InitialBackoff, with up to 50% random jitter so
// retries from concurrent callers do not align. Context cancellation aborts
// both the waits and further attempts.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	backoff := cfg.InitialBackoff

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			return lastErr
		}

		wait := backoff
		if half := int64(backoff / 2); half > 0 {
			wait += time.Duration(rand.Int63n(half))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

// NewCircuitBreaker returns a breaker tuned for outbound HTTP clients: it
// trips once at least 5 requests in the 30s window failed at a 60%+ rate,
// probes with 3 requests after 10s open.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
}

// Bulkhead caps how many callers may hold a slot at once.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead admitting maxConcurrency holders.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot frees up or ctx is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must pair with a successful Acquire.
func (b *Bulkhead) Release() {
	<-b.sem
}
