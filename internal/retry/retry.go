package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls Do. Delay for attempt n is BaseDelay * 2^n, with an
// optional +/-10% jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      bool
}

// Do runs fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. All errors are retried identically; after the final attempt
// the last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(Backoff(p, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Backoff returns the delay to sleep after a failed attempt (0-based).
func Backoff(p Policy, attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d < 0 {
		d = p.BaseDelay
	}
	if p.Jitter && d > 0 {
		// +/-10%
		span := float64(d) * 0.2
		d = d - time.Duration(span/2) + time.Duration(rand.Float64()*span)
	}
	return d
}
