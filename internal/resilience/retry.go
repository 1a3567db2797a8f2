// Package resilience provides generic retry-with-backoff helpers used
// during simulation startup, grounded on the teacher's own
// exponential-backoff retry loop but stripped of its LLM-call-specific
// error classification: every error here is retryable (dial failures
// during staggered startup, the only thing this simulator retries),
// so the caller decides via MaxRetries alone.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      bool
}

// Retry calls fn until it succeeds or MaxRetries is exhausted,
// sleeping an exponentially growing backoff between attempts.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt, config.BackoffBase, config.BackoffMax, config.Jitter)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func calculateBackoff(attempt int, base, max time.Duration, jitter bool) time.Duration {
	backoff := base * time.Duration(math.Pow(2, float64(attempt)))
	if backoff > max {
		backoff = max
	}

	if jitter {
		jitterRange := float64(backoff) * 0.25
		jitterAmount := (rand.Float64() - 0.5) * 2 * jitterRange
		backoff += time.Duration(jitterAmount)
	}

	if backoff < 0 {
		backoff = base
	}
	return backoff
}
