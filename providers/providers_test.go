package providers

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/retry"
	"github.com/stretchr/testify/require"
)

func TestNullEmbedderReturnsZeroVectors(t *testing.T) {
	e := NewNullEmbedder(4)
	vectors, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		require.Equal(t, []float64{0, 0, 0, 0}, v)
	}
	require.Equal(t, 4, e.Dimension())
}

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(32)
	first, err := e.Embed(context.Background(), []string{"what database are we using?"})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"what database are we using?"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.InDelta(t, 1.0, engram.CosineSimilarity(first[0], second[0]), 1e-9)
}

func TestHashEmbedderNormalizesInput(t *testing.T) {
	e := NewHashEmbedder(32)
	vectors, err := e.Embed(context.Background(), []string{"Hello World", "  hello world  "})
	require.NoError(t, err)
	require.Equal(t, vectors[0], vectors[1])
}

func TestHashEmbedderDistinctTextsDiffer(t *testing.T) {
	e := NewHashEmbedder(32)
	vectors, err := e.Embed(context.Background(), []string{"alpha", "omega"})
	require.NoError(t, err)
	require.NotEqual(t, vectors[0], vectors[1])
	require.Less(t, engram.CosineSimilarity(vectors[0], vectors[1]), 0.99)
}

func TestHashEmbedderProducesUnitVectors(t *testing.T) {
	e := NewHashEmbedder(16)
	vectors, err := e.Embed(context.Background(), []string{"some text"})
	require.NoError(t, err)
	var norm float64
	for _, v := range vectors[0] {
		norm += v * v
	}
	require.InDelta(t, 1.0, norm, 1e-9)
}

func TestScriptedReflectorPlaysScriptsInOrder(t *testing.T) {
	r := &ScriptedReflector{
		Scripts: [][]ScriptedFact{
			{{Content: "first", FactType: "decision", Confidence: 0.9}},
			{{Content: "second", FactType: "goal", Confidence: 0.8}},
		},
	}
	episode := &engram.Episode{ID: "ep_1"}

	facts, err := r.Reflect(context.Background(), episode, nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "first", facts[0].Content)

	facts, err = r.Reflect(context.Background(), episode, nil)
	require.NoError(t, err)
	require.Equal(t, "second", facts[0].Content)

	// Exhausted scripts return nothing.
	facts, err = r.Reflect(context.Background(), episode, nil)
	require.NoError(t, err)
	require.Empty(t, facts)
	require.Equal(t, 3, r.Calls())
}

func TestScriptedConsolidatingReflectorRecordsPriorFacts(t *testing.T) {
	r := &ScriptedConsolidatingReflector{
		ActionScripts: [][]*engram.ConsolidationAction{
			{{Action: engram.ActionKeep, SourceFactID: "fact_1"}},
		},
	}
	prior := []*engram.Fact{{ID: "fact_1", Content: "using sqlite"}}
	actions, err := r.ReflectWithConsolidation(context.Background(), &engram.Episode{ID: "ep_1"}, nil, prior)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, engram.ActionKeep, actions[0].Action)
	require.Len(t, r.PriorFactBatches, 1)
	require.Equal(t, "fact_1", r.PriorFactBatches[0][0].ID)
}

type flakyEmbedder struct {
	failures int
	calls    int
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, &engram.ProviderError{Provider: "embedder", Message: "timeout", Retryable: true}
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{1}
	}
	return vectors, nil
}

func (e *flakyEmbedder) Dimension() int { return 1 }

func TestRetryingEmbedderRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyEmbedder{failures: 2}
	e := NewRetryingEmbedderWithPolicy(inner,
		retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	vectors, err := e.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	require.Equal(t, 3, inner.calls)
	require.Equal(t, 1, e.Dimension())
}

func TestRetryingEmbedderExhaustsRetries(t *testing.T) {
	inner := &flakyEmbedder{failures: 10}
	e := NewRetryingEmbedderWithPolicy(inner,
		retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := e.Embed(context.Background(), []string{"text"})
	var exhausted *engram.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, inner.calls)
}

func TestRetryingReflectorPassesThrough(t *testing.T) {
	inner := &ScriptedReflector{
		Scripts: [][]ScriptedFact{{{Content: "fact", FactType: "decision", Confidence: 0.9}}},
	}
	r := NewRetryingReflectorWithPolicy(inner,
		retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	require.False(t, r.SupportsConsolidation())

	facts, err := r.Reflect(context.Background(), &engram.Episode{ID: "ep_1"}, nil)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestRetryingReflectorExposesConsolidation(t *testing.T) {
	inner := &ScriptedConsolidatingReflector{
		ActionScripts: [][]*engram.ConsolidationAction{
			{{Action: engram.ActionAdd, Content: "new fact", FactType: "decision", Confidence: 0.9}},
		},
	}
	r := NewRetryingReflector(inner)
	require.True(t, r.SupportsConsolidation())

	actions, err := r.ReflectWithConsolidation(context.Background(), &engram.Episode{ID: "ep_1"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, "new fact", actions[0].Content)
}

func TestRetryingReflectorRejectsConsolidationForLegacyInner(t *testing.T) {
	r := NewRetryingReflector(&NullReflector{})
	_, err := r.ReflectWithConsolidation(context.Background(), &engram.Episode{ID: "ep_1"}, nil, nil)
	require.Error(t, err)
	var pe *engram.ProviderError
	require.ErrorAs(t, err, &pe)
}
