// Package retry implements exponential backoff with jitter for provider
// calls. Only retryable provider errors are retried; anything else aborts
// the loop immediately.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/deepnoodle-ai/engram"
)

// Policy configures retry behavior for a class of provider calls.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; subsequent delays
	// double, capped at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// Jitter adds a random offset of up to ±25% to each delay.
	Jitter bool
}

// EmbedderPolicy is the default policy for embedding calls.
func EmbedderPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: true}
}

// ReflectorPolicy is the default policy for reflection calls.
func ReflectorPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, Jitter: true}
}

// Delay computes the backoff before the given retry attempt (1-based count
// of failures so far).
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}
	if p.Jitter {
		delay += (rand.Float64()*2 - 1) * delay * 0.25
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Do executes fn, retrying on retryable provider errors until the policy's
// attempts are exhausted. Context cancellation interrupts the backoff wait.
// When all attempts fail it returns a *engram.RetryExhaustedError wrapping
// the last error.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !engram.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return &engram.RetryExhaustedError{Attempts: policy.MaxAttempts, LastError: lastErr}
}
