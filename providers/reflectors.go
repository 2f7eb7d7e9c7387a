package providers

import (
	"context"
	"sync"

	"github.com/deepnoodle-ai/engram"
)

// NullReflector extracts nothing. Sessions configured with it still maintain
// episodes and recall but never produce facts.
type NullReflector struct{}

var _ engram.Reflector = (*NullReflector)(nil)

func (r *NullReflector) Reflect(ctx context.Context, episode *engram.Episode, turns []*engram.Turn) ([]*engram.Fact, error) {
	return nil, nil
}

// ScriptedFact is a canned fact description returned by a ScriptedReflector.
type ScriptedFact struct {
	Content    string
	FactType   string
	Confidence float64
}

// ScriptedReflector returns pre-arranged results, one script entry per
// Reflect call in order. It records the inputs of every call so tests can
// assert on what the reflection runner passed in.
type ScriptedReflector struct {
	mu sync.Mutex

	// Scripts are consumed one per Reflect call; when exhausted, Reflect
	// returns no facts.
	Scripts [][]ScriptedFact

	// Err, when set, is returned by every call.
	Err error

	calls int

	// Episodes and TurnBatches record the inputs per call.
	Episodes    []*engram.Episode
	TurnBatches [][]*engram.Turn
}

var _ engram.Reflector = (*ScriptedReflector)(nil)

func (r *ScriptedReflector) Reflect(ctx context.Context, episode *engram.Episode, turns []*engram.Turn) ([]*engram.Fact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Episodes = append(r.Episodes, episode)
	r.TurnBatches = append(r.TurnBatches, turns)
	call := r.calls
	r.calls++

	if r.Err != nil {
		return nil, r.Err
	}
	if call >= len(r.Scripts) {
		return nil, nil
	}
	facts := make([]*engram.Fact, 0, len(r.Scripts[call]))
	for _, sf := range r.Scripts[call] {
		facts = append(facts, &engram.Fact{
			Content:    sf.Content,
			FactType:   sf.FactType,
			Confidence: sf.Confidence,
		})
	}
	return facts, nil
}

// Calls returns how many times Reflect was invoked.
func (r *ScriptedReflector) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// ScriptedConsolidatingReflector extends ScriptedReflector with canned
// consolidation actions, one action set per ReflectWithConsolidation call.
type ScriptedConsolidatingReflector struct {
	ScriptedReflector

	cmu sync.Mutex

	// ActionScripts are consumed one per ReflectWithConsolidation call.
	ActionScripts [][]*engram.ConsolidationAction

	// ConsolidationErr, when set, is returned by every consolidation call.
	ConsolidationErr error

	consolidationCalls int

	// PriorFactBatches records the prior facts passed to each call.
	PriorFactBatches [][]*engram.Fact
}

var _ engram.ConsolidatingReflector = (*ScriptedConsolidatingReflector)(nil)

func (r *ScriptedConsolidatingReflector) ReflectWithConsolidation(ctx context.Context, episode *engram.Episode, turns []*engram.Turn, priorFacts []*engram.Fact) ([]*engram.ConsolidationAction, error) {
	r.cmu.Lock()
	defer r.cmu.Unlock()

	r.PriorFactBatches = append(r.PriorFactBatches, priorFacts)
	call := r.consolidationCalls
	r.consolidationCalls++

	if r.ConsolidationErr != nil {
		return nil, r.ConsolidationErr
	}
	if call >= len(r.ActionScripts) {
		return nil, nil
	}
	return r.ActionScripts[call], nil
}

// ConsolidationCalls returns how many times ReflectWithConsolidation was
// invoked.
func (r *ScriptedConsolidatingReflector) ConsolidationCalls() int {
	r.cmu.Lock()
	defer r.cmu.Unlock()
	return r.consolidationCalls
}
