// Package retry provides the bounded retry policy shared by the realtime
// engines. Presence resubscription, notification-feed resubscription, message
// fetches and notification inserts all retry through the same policy instead
// of growing their own ad hoc loops.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

// Policy describes a bounded exponential backoff with jitter.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int

	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Jitter is the fraction of the delay randomized away (0..1).
	Jitter float64
}

// DefaultPolicy returns the policy used across the realtime core.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.5,
	}
}

// Do runs fn until it succeeds, attempts run out, or ctx is cancelled. The
// last error is returned; ctx errors win over fn errors so callers can tell
// shutdown apart from genuine failure.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		delay := p.delay(attempt)
		logger.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(lastErr).
			Msg("Retrying after failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d -= time.Duration(p.Jitter * rand.Float64() * float64(d))
	}
	return d
}
