package providers

import (
	"context"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/retry"
)

// RetryingEmbedder wraps an Embedder with a retry policy. Retryable provider
// errors are retried with exponential backoff; everything else fails fast.
type RetryingEmbedder struct {
	inner  engram.Embedder
	policy retry.Policy
}

var _ engram.Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with the default embedder retry policy.
func NewRetryingEmbedder(inner engram.Embedder) *RetryingEmbedder {
	return NewRetryingEmbedderWithPolicy(inner, retry.EmbedderPolicy())
}

// NewRetryingEmbedderWithPolicy wraps inner with a custom policy.
func NewRetryingEmbedderWithPolicy(inner engram.Embedder, policy retry.Policy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

func (e *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	var vectors [][]float64
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		var innerErr error
		vectors, innerErr = e.inner.Embed(ctx, texts)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *RetryingEmbedder) Dimension() int { return e.inner.Dimension() }

// RetryingReflector wraps a Reflector with a retry policy. If the wrapped
// reflector supports consolidation, the wrapper exposes it too, so the type
// assertion in the reflection runner still finds the capability.
type RetryingReflector struct {
	inner  engram.Reflector
	policy retry.Policy
}

var _ engram.ConsolidatingReflector = (*RetryingReflector)(nil)

// NewRetryingReflector wraps inner with the default reflector retry policy.
func NewRetryingReflector(inner engram.Reflector) *RetryingReflector {
	return NewRetryingReflectorWithPolicy(inner, retry.ReflectorPolicy())
}

// NewRetryingReflectorWithPolicy wraps inner with a custom policy.
func NewRetryingReflectorWithPolicy(inner engram.Reflector, policy retry.Policy) *RetryingReflector {
	return &RetryingReflector{inner: inner, policy: policy}
}

func (r *RetryingReflector) Reflect(ctx context.Context, episode *engram.Episode, turns []*engram.Turn) ([]*engram.Fact, error) {
	var facts []*engram.Fact
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var innerErr error
		facts, innerErr = r.inner.Reflect(ctx, episode, turns)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}

// SupportsConsolidation reports whether the wrapped reflector implements
// ConsolidatingReflector.
func (r *RetryingReflector) SupportsConsolidation() bool {
	_, ok := r.inner.(engram.ConsolidatingReflector)
	return ok
}

func (r *RetryingReflector) ReflectWithConsolidation(ctx context.Context, episode *engram.Episode, turns []*engram.Turn, priorFacts []*engram.Fact) ([]*engram.ConsolidationAction, error) {
	consolidating, ok := r.inner.(engram.ConsolidatingReflector)
	if !ok {
		return nil, &engram.ProviderError{
			Provider: "reflector",
			Message:  "wrapped reflector does not support consolidation",
		}
	}
	var actions []*engram.ConsolidationAction
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		var innerErr error
		actions, innerErr = consolidating.ReflectWithConsolidation(ctx, episode, turns, priorFacts)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}
