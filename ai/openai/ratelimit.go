package openai

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleBackoff is how long every caller pauses after the provider answers 429.
const throttleBackoff = 5 * time.Second

// limiter is a token bucket shared by the embedder and generator of one provider.
// After a throttling response it also holds all callers back for throttleBackoff.
type limiter struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	retryAt time.Time
}

// newLimiter returns a limiter allowing requestsPerSecond with the given burst.
// A non-positive rate disables limiting.
func newLimiter(requestsPerSecond float64, burst int) *limiter {
	if requestsPerSecond <= 0 {
		return &limiter{bucket: rate.NewLimiter(rate.Inf, 0)}
	}
	return &limiter{bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), max(burst, 1))}
}

// Wait blocks until a request may be sent.
func (l *limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.bucket.Wait(ctx)
}

// recordThrottle pushes back every caller after a 429 response.
func (l *limiter) recordThrottle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryAt = time.Now().Add(throttleBackoff)
}
