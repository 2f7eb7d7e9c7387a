package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/log"
	"golang.org/x/sync/semaphore"
)

// TraceTurn is a truncated turn dump inside a ReflectionTrace.
type TraceTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TraceFact is a fact summary inside a ReflectionTrace.
type TraceFact struct {
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
	FactType string `json:"fact_type"`
}

// TraceSupersession records one supersession inside a ReflectionTrace.
type TraceSupersession struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	SupersededBy string `json:"superseded_by"`
}

// ReflectionTrace captures a complete trace of a single reflection call,
// giving full visibility into what the reflector received and produced.
type ReflectionTrace struct {
	EpisodeID       string                        `json:"episode_id"`
	Mode            string                        `json:"mode"` // "legacy" or "consolidation"
	InputTurnCount  int                           `json:"input_turn_count"`
	InputTurns      []TraceTurn                   `json:"input_turns"`
	PriorFacts      []TraceFact                   `json:"prior_facts,omitempty"`
	ScopedFactCount int                           `json:"scoped_fact_count,omitempty"`
	RawActions      []*engram.ConsolidationAction `json:"raw_actions,omitempty"`
	RawFacts        []TraceFact                   `json:"raw_facts,omitempty"`
	SavedFacts      []TraceFact                   `json:"saved_facts"`
	SupersededFacts []TraceSupersession           `json:"superseded_facts"`
	ElapsedMS       int64                         `json:"elapsed_ms"`
}

// TraceCallback receives reflection traces. Panics are recovered and logged.
type TraceCallback func(*ReflectionTrace)

// ReflectionRunner extracts L2 facts from closed episodes.
//
// Two paths exist. The legacy path extracts facts per episode in isolation.
// The consolidation path, taken when the reflector implements
// ConsolidatingReflector and prior active facts exist, sends the prior facts
// alongside the new turns and applies keep/update/add/remove actions so
// facts evolve across episodes.
//
// Episodes shorter than the configured minimum are buffered and combined
// with the next closing episode (carry-forward). Background reflections for
// the same session are serialized so each run reads the active fact set
// atomically with respect to other runs.
type ReflectionRunner struct {
	sessionID string
	store     engram.Store
	reflector engram.Reflector
	embedder  engram.Embedder
	counter   engram.TokenCounter
	config    *engram.Config
	logger    log.Logger

	mu            sync.Mutex
	carried       []*engram.Turn
	traceCallback TraceCallback
	bgCtx         context.Context
	bgCancel      context.CancelFunc

	wg  sync.WaitGroup
	sem *semaphore.Weighted
}

// NewReflectionRunner creates a reflection runner for the session.
func NewReflectionRunner(
	sessionID string,
	store engram.Store,
	reflector engram.Reflector,
	embedder engram.Embedder,
	counter engram.TokenCounter,
	config *engram.Config,
	logger log.Logger,
) *ReflectionRunner {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReflectionRunner{
		sessionID: sessionID,
		store:     store,
		reflector: reflector,
		embedder:  embedder,
		counter:   counter,
		config:    config,
		logger:    logger,
		bgCtx:     ctx,
		bgCancel:  cancel,
		sem:       semaphore.NewWeighted(1),
	}
}

// SetTraceCallback installs a callback that receives a ReflectionTrace per
// reflection call. Pass nil to disable tracing.
func (r *ReflectionRunner) SetTraceCallback(callback TraceCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceCallback = callback
}

// CarriedTurnCount returns the number of buffered carry-forward turns.
func (r *ReflectionRunner) CarriedTurnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carried)
}

// ReflectEpisode runs reflection for a closed episode. Turns from prior
// episodes below the minimum turn threshold are combined in; if the combined
// set is still too small it is carried forward and no facts are produced.
//
// With background true, reflection is scheduled asynchronously and the call
// returns immediately with no facts; failures are logged. Otherwise the
// caller awaits the result.
func (r *ReflectionRunner) ReflectEpisode(ctx context.Context, episode *engram.Episode, turns []*engram.Turn, background bool) ([]*engram.Fact, error) {
	if !r.config.Reflection.Enabled {
		return nil, nil
	}

	r.mu.Lock()
	combined := append(append([]*engram.Turn(nil), r.carried...), turns...)
	if len(combined) < r.config.Reflection.MinEpisodeTurns {
		r.logger.Debug("episode below minimum turns; carrying forward",
			"episode_id", episode.ID,
			"turns", len(combined),
			"min_turns", r.config.Reflection.MinEpisodeTurns)
		r.carried = combined
		r.mu.Unlock()
		return nil, nil
	}
	r.carried = nil
	bgCtx := r.bgCtx
	r.mu.Unlock()

	if background {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.sem.Acquire(bgCtx, 1); err != nil {
				return
			}
			defer r.sem.Release(1)
			if _, err := r.reflectAndSave(bgCtx, episode, combined); err != nil {
				r.logger.Error("background reflection failed",
					"episode_id", episode.ID, "error", err)
			}
		}()
		return nil, nil
	}
	return r.reflectAndSave(ctx, episode, combined)
}

// WaitPending blocks until all scheduled background reflections finish.
func (r *ReflectionRunner) WaitPending() {
	r.wg.Wait()
}

// CancelPending cancels scheduled background reflections. In-flight storage
// and provider calls may still complete.
func (r *ReflectionRunner) CancelPending() {
	r.mu.Lock()
	r.bgCancel()
	r.bgCtx, r.bgCancel = context.WithCancel(context.Background())
	r.mu.Unlock()
}

// Flush force-reflects any buffered carry-forward turns, bypassing the
// minimum turn threshold. Called during session close so no turns are lost.
// Failures are logged and swallowed.
func (r *ReflectionRunner) Flush(ctx context.Context, episode *engram.Episode) []*engram.Fact {
	if !r.config.Reflection.Enabled {
		return nil
	}
	r.mu.Lock()
	turns := r.carried
	r.carried = nil
	r.mu.Unlock()
	if len(turns) == 0 {
		return nil
	}

	r.logger.Info("flushing carried turns",
		"episode_id", episode.ID, "turns", len(turns))
	facts, err := r.reflectAndSave(ctx, episode, turns)
	if err != nil {
		r.logger.Error("failed to flush carried turns", "error", err)
		return nil
	}
	return facts
}

func (r *ReflectionRunner) supportsConsolidation() bool {
	// Decorators that wrap a legacy reflector report the wrapped capability.
	if s, ok := r.reflector.(interface{ SupportsConsolidation() bool }); ok {
		return s.SupportsConsolidation()
	}
	_, ok := r.reflector.(engram.ConsolidatingReflector)
	return ok
}

func (r *ReflectionRunner) reflectAndSave(ctx context.Context, episode *engram.Episode, turns []*engram.Turn) ([]*engram.Fact, error) {
	start := time.Now()
	var trace *ReflectionTrace
	r.mu.Lock()
	callback := r.traceCallback
	r.mu.Unlock()
	if callback != nil {
		trace = newTraceHeader(episode, turns)
	}

	facts, err := r.dispatch(ctx, episode, turns, trace)
	if err != nil {
		r.logger.Error("reflection failed", "episode_id", episode.ID, "error", err)
		return nil, &engram.ReflectionError{EpisodeID: episode.ID, Cause: err}
	}
	r.emitTrace(callback, trace, start)
	return facts, nil
}

func (r *ReflectionRunner) dispatch(ctx context.Context, episode *engram.Episode, turns []*engram.Turn, trace *ReflectionTrace) ([]*engram.Fact, error) {
	if r.supportsConsolidation() {
		priorFacts, err := r.store.GetActiveFactsBySession(ctx, r.sessionID)
		if err != nil {
			return nil, err
		}
		if len(priorFacts) > 0 {
			return r.consolidateAndSave(ctx, episode, turns, priorFacts, trace)
		}
	}
	// First episode, no prior facts, or legacy reflector.
	return r.legacyReflectAndSave(ctx, episode, turns, trace)
}

// ------------------------------------------------------------------
// Consolidation path
// ------------------------------------------------------------------

func (r *ReflectionRunner) consolidateAndSave(
	ctx context.Context,
	episode *engram.Episode,
	turns []*engram.Turn,
	allActiveFacts []*engram.Fact,
	trace *ReflectionTrace,
) ([]*engram.Fact, error) {
	relevantFacts, err := r.scopeRelevantFacts(ctx, turns, allActiveFacts)
	if err != nil {
		return nil, err
	}

	if trace != nil {
		trace.Mode = "consolidation"
		for _, f := range allActiveFacts {
			trace.PriorFacts = append(trace.PriorFacts, traceFact(f))
		}
		trace.ScopedFactCount = len(relevantFacts)
	}

	consolidating, ok := r.reflector.(engram.ConsolidatingReflector)
	if !ok {
		return r.legacyReflectAndSave(ctx, episode, turns, trace)
	}
	actions, err := consolidating.ReflectWithConsolidation(ctx, episode, turns, relevantFacts)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		trace.RawActions = actions
	}

	if len(actions) == 0 {
		r.logger.Warn("consolidation returned no actions; falling back to legacy path",
			"episode_id", episode.ID)
		return r.legacyReflectAndSave(ctx, episode, turns, trace)
	}

	for _, warning := range validateCoverage(relevantFacts, actions) {
		r.logger.Warn(warning)
	}

	return r.applyConsolidationActions(ctx, episode, actions, relevantFacts, trace)
}

// scopeRelevantFacts selects the prior facts relevant to the closing episode
// by cosine similarity between the episode content and each fact's
// embedding. A zero episode vector, facts without embeddings, and a scoping
// result that would drop everything all fall back to including facts
// unconditionally — conservative over silent data loss.
func (r *ReflectionRunner) scopeRelevantFacts(ctx context.Context, turns []*engram.Turn, priorFacts []*engram.Fact) ([]*engram.Fact, error) {
	if len(priorFacts) == 0 {
		return nil, nil
	}

	contents := make([]string, len(turns))
	for i, t := range turns {
		contents[i] = t.Content
	}
	episodeText := strings.Join(contents, " ")

	vectors, err := r.embedder.Embed(ctx, []string{episodeText})
	if err != nil {
		r.logger.Warn("failed to embed episode for fact scoping", "error", err)
		return priorFacts, nil
	}
	if len(vectors) == 0 {
		return priorFacts, nil
	}
	queryVec := vectors[0]
	if engram.IsZeroVector(queryVec) {
		return priorFacts, nil
	}

	threshold := r.config.Reflection.ConsolidationSimilarityThreshold
	var relevant []*engram.Fact
	for _, fact := range priorFacts {
		if fact.EmbeddingID == "" {
			relevant = append(relevant, fact)
			continue
		}
		factVec, err := r.store.GetEmbedding(ctx, fact.EmbeddingID)
		if err != nil {
			return nil, err
		}
		if factVec == nil {
			relevant = append(relevant, fact)
			continue
		}
		if engram.CosineSimilarity(queryVec, factVec) >= threshold {
			relevant = append(relevant, fact)
		}
	}

	if len(relevant) == 0 {
		r.logger.Debug("scoping removed all prior facts; including all as fallback",
			"prior_facts", len(priorFacts))
		return priorFacts, nil
	}
	return relevant, nil
}

func (r *ReflectionRunner) applyConsolidationActions(
	ctx context.Context,
	episode *engram.Episode,
	actions []*engram.ConsolidationAction,
	priorFacts []*engram.Fact,
	trace *ReflectionTrace,
) ([]*engram.Fact, error) {
	priorByID := make(map[string]*engram.Fact, len(priorFacts))
	for _, f := range priorFacts {
		priorByID[f.ID] = f
	}

	var savedFacts []*engram.Fact
	var superseded []TraceSupersession

	for _, action := range actions {
		switch action.Action {
		case engram.ActionKeep:
			// Fact stays active; nothing to do.

		case engram.ActionAdd:
			if action.Confidence < r.config.Reflection.MinConfidence {
				continue
			}
			newFact := r.newFactFromAction(episode, action, nil)
			dup, err := r.isDuplicate(ctx, newFact, priorFacts)
			if err != nil {
				return nil, err
			}
			if dup {
				continue
			}
			if err := r.embedAndSaveFact(ctx, episode, newFact); err != nil {
				return nil, err
			}
			savedFacts = append(savedFacts, newFact)

		case engram.ActionUpdate:
			oldFact := priorByID[action.SourceFactID]
			if oldFact == nil {
				r.logger.Warn("update action references unknown fact",
					"source_fact_id", action.SourceFactID)
				continue
			}
			if action.Confidence < r.config.Reflection.MinConfidence {
				continue
			}
			newFact := r.newFactFromAction(episode, action, []string{oldFact.ID})
			if err := r.embedAndSaveFact(ctx, episode, newFact); err != nil {
				return nil, err
			}
			savedFacts = append(savedFacts, newFact)

			oldFact.SupersededBy = newFact.ID
			if err := r.store.UpdateFact(ctx, oldFact); err != nil {
				return nil, err
			}
			superseded = append(superseded, TraceSupersession{
				ID: oldFact.ID, Content: oldFact.Content, SupersededBy: newFact.ID,
			})

		case engram.ActionRemove:
			oldFact := priorByID[action.SourceFactID]
			if oldFact == nil {
				r.logger.Warn("remove action references unknown fact",
					"source_fact_id", action.SourceFactID)
				continue
			}
			sentinel := engram.RemovedSentinel(episode.ID)
			oldFact.SupersededBy = sentinel
			if err := r.store.UpdateFact(ctx, oldFact); err != nil {
				return nil, err
			}
			superseded = append(superseded, TraceSupersession{
				ID: oldFact.ID, Content: oldFact.Content, SupersededBy: sentinel,
			})

		default:
			r.logger.Warn("unknown consolidation action", "action", string(action.Action))
		}
	}

	if trace != nil {
		for _, f := range savedFacts {
			trace.SavedFacts = append(trace.SavedFacts, traceFact(f))
		}
		trace.SupersededFacts = superseded
	}

	r.logger.Info("consolidation complete",
		"episode_id", episode.ID,
		"saved_facts", len(savedFacts),
		"superseded_facts", len(superseded))
	return savedFacts, nil
}

func (r *ReflectionRunner) newFactFromAction(episode *engram.Episode, action *engram.ConsolidationAction, supersedes []string) *engram.Fact {
	factType := action.FactType
	if factType == "" {
		factType = string(engram.MarkerDecision)
	}
	return &engram.Fact{
		ID:         engram.NewFactID(),
		SessionID:  r.sessionID,
		EpisodeID:  episode.ID,
		Content:    action.Content,
		CreatedAt:  time.Now().UTC(),
		FactType:   factType,
		Confidence: action.Confidence,
		Supersedes: supersedes,
	}
}

// isDuplicate reports whether the candidate fact is a semantic duplicate of
// an existing fact, by embedding similarity against the dedup threshold.
// Thresholds at or above 1.0 disable dedup, as do zero candidate vectors.
func (r *ReflectionRunner) isDuplicate(ctx context.Context, candidate *engram.Fact, existing []*engram.Fact) (bool, error) {
	threshold := r.config.Reflection.DedupSimilarityThreshold
	if threshold >= 1.0 {
		return false, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{candidate.Content})
	if err != nil {
		r.logger.Warn("failed to embed fact for dedup", "error", err)
		return false, nil
	}
	if len(vectors) == 0 || engram.IsZeroVector(vectors[0]) {
		return false, nil
	}
	candidateVec := vectors[0]

	for _, fact := range existing {
		if fact.EmbeddingID == "" {
			continue
		}
		factVec, err := r.store.GetEmbedding(ctx, fact.EmbeddingID)
		if err != nil {
			return false, err
		}
		if factVec == nil {
			continue
		}
		if sim := engram.CosineSimilarity(candidateVec, factVec); sim >= threshold {
			r.logger.Info("skipping duplicate fact",
				"content", truncate(candidate.Content, 60),
				"similarity", sim,
				"existing_fact_id", fact.ID)
			return true, nil
		}
	}
	return false, nil
}

// ------------------------------------------------------------------
// Legacy path
// ------------------------------------------------------------------

func (r *ReflectionRunner) legacyReflectAndSave(ctx context.Context, episode *engram.Episode, turns []*engram.Turn, trace *ReflectionTrace) ([]*engram.Fact, error) {
	if trace != nil {
		trace.Mode = "legacy"
	}

	candidates, err := r.reflector.Reflect(ctx, episode, turns)
	if err != nil {
		return nil, err
	}
	if trace != nil {
		for _, f := range candidates {
			trace.RawFacts = append(trace.RawFacts, traceFact(f))
		}
	}

	if max := r.config.Reflection.MaxFactsPerEpisode; len(candidates) > max {
		candidates = candidates[:max]
	}

	var savedFacts []*engram.Fact
	for _, fact := range candidates {
		if fact.Confidence < r.config.Reflection.MinConfidence {
			continue
		}
		r.normalizeFact(fact, episode)
		if err := r.embedAndSaveFact(ctx, episode, fact); err != nil {
			return nil, err
		}
		savedFacts = append(savedFacts, fact)
	}

	if trace != nil {
		for _, f := range savedFacts {
			trace.SavedFacts = append(trace.SavedFacts, traceFact(f))
		}
	}

	r.logger.Info("reflection extracted facts",
		"episode_id", episode.ID, "saved_facts", len(savedFacts))
	return savedFacts, nil
}

// normalizeFact fills in the bookkeeping fields a reflector may omit.
func (r *ReflectionRunner) normalizeFact(fact *engram.Fact, episode *engram.Episode) {
	if fact.ID == "" {
		fact.ID = engram.NewFactID()
	}
	if fact.SessionID == "" {
		fact.SessionID = r.sessionID
	}
	if fact.EpisodeID == "" {
		fact.EpisodeID = episode.ID
	}
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	if fact.FactType == "" {
		fact.FactType = string(engram.MarkerDecision)
	}
}

// ------------------------------------------------------------------
// Shared helpers
// ------------------------------------------------------------------

// embedAndSaveFact counts tokens, generates and stores the embedding, and
// persists the fact. Embedding failure is logged and the fact is saved
// without one.
func (r *ReflectionRunner) embedAndSaveFact(ctx context.Context, episode *engram.Episode, fact *engram.Fact) error {
	fact.TokenCount = r.counter.Count(fact.Content)

	vectors, err := r.embedder.Embed(ctx, []string{fact.Content})
	if err != nil {
		r.logger.Warn("failed to embed fact", "fact_id", fact.ID, "error", err)
	} else if len(vectors) > 0 {
		embeddingID := engram.NewEmbeddingID()
		err = r.store.SaveEmbedding(ctx, embeddingID, vectors[0], map[string]any{
			"session_id": r.sessionID,
			"episode_id": episode.ID,
			"fact_id":    fact.ID,
			"type":       "fact",
			"fact_type":  fact.FactType,
		})
		if err != nil {
			return err
		}
		fact.EmbeddingID = embeddingID
	}

	return r.store.SaveFact(ctx, fact)
}

func newTraceHeader(episode *engram.Episode, turns []*engram.Turn) *ReflectionTrace {
	trace := &ReflectionTrace{
		EpisodeID:      episode.ID,
		Mode:           "unknown",
		InputTurnCount: len(turns),
	}
	for _, t := range turns {
		trace.InputTurns = append(trace.InputTurns, TraceTurn{
			Role:    string(t.Role),
			Content: truncate(t.Content, 200),
		})
	}
	return trace
}

func (r *ReflectionRunner) emitTrace(callback TraceCallback, trace *ReflectionTrace, start time.Time) {
	if callback == nil || trace == nil {
		return
	}
	trace.ElapsedMS = time.Since(start).Milliseconds()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("reflection trace callback panicked", "panic", rec)
		}
	}()
	callback(trace)
}

func traceFact(f *engram.Fact) TraceFact {
	return TraceFact{ID: f.ID, Content: f.Content, FactType: f.FactType}
}
