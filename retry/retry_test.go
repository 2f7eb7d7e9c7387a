package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &engram.ProviderError{Provider: "embedder", Message: "timeout", Retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	bad := &engram.ProviderError{Provider: "embedder", Message: "bad request"}
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return bad
	})
	require.ErrorIs(t, err, error(bad))
	require.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return &engram.ProviderError{Provider: "reflector", Message: "overloaded", Retryable: true}
	})
	require.Equal(t, 3, calls)

	var exhausted *engram.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.True(t, engram.IsRetryable(exhausted.LastError))
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(ctx context.Context) error {
		return &engram.ProviderError{Provider: "embedder", Message: "timeout", Retryable: true}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelayBackoffAndCap(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 3*time.Second, p.Delay(3)) // capped
	require.Equal(t, 3*time.Second, p.Delay(4))
}

func TestDelayJitterStaysInRange(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		require.GreaterOrEqual(t, d, 750*time.Millisecond)
		require.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestDoWrapsNonProviderErrorsAsNonRetryable(t *testing.T) {
	plain := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return plain
	})
	require.ErrorIs(t, err, plain)
	require.Equal(t, 1, calls)
}
