package memory

import (
	"context"
	"sort"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/log"
)

// RecallRequest carries the inputs for one recall call.
type RecallRequest struct {
	Query string

	// TokenBudget caps the total tokens of returned context. Zero uses the
	// configured default.
	TokenBudget int

	// ExcludeCurrentEpisode omits current-episode turns from the result.
	ExcludeCurrentEpisode bool

	// MinRelevance filters vector-search candidates below this score,
	// in [0, 1].
	MinRelevance float64
}

// scoredCandidate is an internal recall candidate before budget allocation.
type scoredCandidate struct {
	id         string
	content    string
	role       engram.Role
	source     engram.ContextItemSource
	relevance  float64
	boost      float64
	score      float64
	tokenCount int
	markers    []string
	metadata   map[string]any
	timestamp  time.Time
	position   int
}

// RecallPipeline assembles query-relevant context from the three memory
// levels under a token budget.
//
// Candidates come from four sources: current-episode turns (relevance 1.0),
// marked turns from past episodes, active facts, and vector search. Scores
// are relevance plus marker boost; no recency decay is applied.
type RecallPipeline struct {
	sessionID string
	store     engram.Store
	embedder  engram.Embedder
	counter   engram.TokenCounter
	episodes  *EpisodeManager
	config    *engram.Config
	logger    log.Logger
}

// NewRecallPipeline creates a recall pipeline for the session.
func NewRecallPipeline(
	sessionID string,
	store engram.Store,
	embedder engram.Embedder,
	counter engram.TokenCounter,
	episodes *EpisodeManager,
	config *engram.Config,
	logger log.Logger,
) *RecallPipeline {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &RecallPipeline{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		counter:   counter,
		episodes:  episodes,
		config:    config,
		logger:    logger,
	}
}

// Recall returns an ordered list of context items within the token budget:
// current-episode turns chronologically, then marked turns by score, then
// facts and vector hits merged by score.
func (p *RecallPipeline) Recall(ctx context.Context, req RecallRequest) ([]engram.ContextItem, error) {
	query, err := engram.ValidateContent(req.Query, 0)
	if err != nil {
		return nil, err
	}
	minRelevance, err := engram.ValidateRelevanceThreshold(req.MinRelevance)
	if err != nil {
		return nil, err
	}
	budget := req.TokenBudget
	if budget == 0 {
		budget = p.config.Recall.DefaultTokenBudget
	}
	if budget, err = engram.ValidateTokenBudget(budget); err != nil {
		return nil, err
	}

	queryVec, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var current []scoredCandidate
	if !req.ExcludeCurrentEpisode {
		if current, err = p.currentEpisodeCandidates(ctx); err != nil {
			return nil, err
		}
	}
	marked, err := p.markedCandidates(ctx, queryVec)
	if err != nil {
		return nil, err
	}
	facts, err := p.factCandidates(ctx, queryVec)
	if err != nil {
		return nil, err
	}
	vectors, err := p.vectorCandidates(ctx, queryVec, minRelevance)
	if err != nil {
		return nil, err
	}

	// Dedup: drop vector hits already present as current-episode or marked
	// candidates. The marked set excludes the current episode by
	// construction, so those two never overlap.
	seen := make(map[string]struct{}, len(current)+len(marked))
	for _, c := range current {
		seen[c.id] = struct{}{}
	}
	for _, c := range marked {
		seen[c.id] = struct{}{}
	}
	unique := vectors[:0]
	for _, c := range vectors {
		if _, dup := seen[c.id]; !dup {
			unique = append(unique, c)
		}
	}

	return p.allocateBudget(budget, current, marked, facts, unique), nil
}

func (p *RecallPipeline) embedQuery(ctx context.Context, query string) ([]float64, error) {
	vectors, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &engram.ProviderError{
			Provider:  "embedder",
			Message:   "failed to embed recall query",
			Retryable: engram.IsRetryable(err),
			Cause:     err,
		}
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

func (p *RecallPipeline) currentEpisodeCandidates(ctx context.Context) ([]scoredCandidate, error) {
	turns, err := p.episodes.GetCurrentEpisodeTurns(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]scoredCandidate, 0, len(turns))
	for _, turn := range turns {
		// Current-episode turns are assumed relevant by recency of context.
		candidates = append(candidates, p.turnCandidate(turn, 1.0))
	}
	return candidates, nil
}

func (p *RecallPipeline) markedCandidates(ctx context.Context, queryVec []float64) ([]scoredCandidate, error) {
	turns, err := p.store.GetMarkedTurns(ctx, p.sessionID, p.episodes.CurrentEpisodeID())
	if err != nil {
		return nil, err
	}
	candidates := make([]scoredCandidate, 0, len(turns))
	for _, turn := range turns {
		relevance := 0.5
		if turn.EmbeddingID != "" && len(queryVec) > 0 {
			if vec, err := p.store.GetEmbedding(ctx, turn.EmbeddingID); err != nil {
				return nil, err
			} else if vec != nil {
				relevance = engram.CosineSimilarity(queryVec, vec)
			}
		}
		candidates = append(candidates, p.turnCandidate(turn, relevance))
	}
	sortByScore(candidates)
	return candidates, nil
}

func (p *RecallPipeline) factCandidates(ctx context.Context, queryVec []float64) ([]scoredCandidate, error) {
	facts, err := p.store.GetActiveFactsBySession(ctx, p.sessionID)
	if err != nil {
		return nil, err
	}
	candidates := make([]scoredCandidate, 0, len(facts))
	for _, fact := range facts {
		relevance := 0.5
		if fact.EmbeddingID != "" && len(queryVec) > 0 {
			if vec, err := p.store.GetEmbedding(ctx, fact.EmbeddingID); err != nil {
				return nil, err
			} else if vec != nil {
				relevance = engram.CosineSimilarity(queryVec, vec)
			}
		}
		boost := p.config.MarkerWeight(fact.FactType)
		candidates = append(candidates, scoredCandidate{
			id:         fact.ID,
			content:    fact.Content,
			role:       engram.RoleAssistant, // facts are agent-derived
			source:     engram.SourceFact,
			relevance:  relevance,
			boost:      boost,
			score:      relevance + boost,
			tokenCount: fact.TokenCount,
			markers:    []string{fact.FactType},
			metadata:   fact.Metadata,
			timestamp:  fact.CreatedAt,
		})
	}
	sortByScore(candidates)
	return candidates, nil
}

func (p *RecallPipeline) vectorCandidates(ctx context.Context, queryVec []float64, minRelevance float64) ([]scoredCandidate, error) {
	if len(queryVec) == 0 || engram.IsZeroVector(queryVec) {
		return nil, nil
	}
	results, err := p.store.VectorSearch(ctx, queryVec, p.config.Recall.MaxVectorResults,
		map[string]any{"session_id": p.sessionID, "type": "turn"})
	if err != nil {
		return nil, err
	}
	var candidates []scoredCandidate
	for _, result := range results {
		if result.Score < minRelevance {
			continue
		}
		turnID, _ := result.Metadata["turn_id"].(string)
		if turnID == "" {
			continue
		}
		turn, err := p.store.GetTurn(ctx, turnID)
		if err != nil {
			if engram.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		candidates = append(candidates, p.turnCandidate(turn, result.Score))
	}
	return candidates, nil
}

func (p *RecallPipeline) turnCandidate(turn *engram.Turn, relevance float64) scoredCandidate {
	boost := engram.MarkerBoost(turn.Markers, p.config.MarkerWeights)
	return scoredCandidate{
		id:         turn.ID,
		content:    turn.Content,
		role:       turn.Role,
		source:     engram.SourceTurn,
		relevance:  relevance,
		boost:      boost,
		score:      relevance + boost,
		tokenCount: turn.TokenCount,
		markers:    turn.Markers,
		metadata:   turn.Metadata,
		timestamp:  turn.CreatedAt,
		position:   turn.Position,
	}
}

// allocateBudget distributes the token budget: a reservation for the current
// episode first, then marked turns by score, then facts and vector hits
// merged by score. Candidates that do not fit are skipped, not truncated.
func (p *RecallPipeline) allocateBudget(
	budget int,
	current, marked, facts, vectors []scoredCandidate,
) []engram.ContextItem {
	var result []engram.ContextItem
	remaining := budget

	reservation := int(float64(budget) * p.config.Recall.CurrentEpisodeBudgetPct)
	totalCurrent := 0
	for _, c := range current {
		totalCurrent += c.tokenCount
	}
	if totalCurrent > reservation {
		current = p.selectOverflow(current, reservation)
	}

	used := 0
	for _, c := range current {
		if used+c.tokenCount <= reservation {
			result = append(result, toContextItem(c))
			used += c.tokenCount
		}
	}
	remaining -= used

	used = 0
	for _, c := range marked {
		if used+c.tokenCount <= remaining {
			result = append(result, toContextItem(c))
			used += c.tokenCount
		} else {
			p.logger.Debug("marked turn excluded by token budget", "turn_id", c.id)
		}
	}
	remaining -= used

	combined := make([]scoredCandidate, 0, len(facts)+len(vectors))
	combined = append(combined, facts...)
	combined = append(combined, vectors...)
	sortByScore(combined)
	for _, c := range combined {
		if remaining <= 0 {
			break
		}
		if c.tokenCount <= remaining {
			result = append(result, toContextItem(c))
			remaining -= c.tokenCount
		}
	}
	return result
}

// selectOverflow trims current-episode turns to the reservation: all marked
// turns that fit, then the most recent unmarked turns, re-emitted in
// chronological order.
func (p *RecallPipeline) selectOverflow(candidates []scoredCandidate, reservation int) []scoredCandidate {
	var selected []scoredCandidate
	used := 0
	for _, c := range candidates {
		if len(c.markers) > 0 && used+c.tokenCount <= reservation {
			selected = append(selected, c)
			used += c.tokenCount
		}
	}
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if len(c.markers) == 0 && used+c.tokenCount <= reservation {
			selected = append(selected, c)
			used += c.tokenCount
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].position < selected[j].position
	})
	return selected
}

func sortByScore(candidates []scoredCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
}

func toContextItem(c scoredCandidate) engram.ContextItem {
	return engram.ContextItem{
		ID:         c.id,
		Content:    c.content,
		Role:       c.role,
		Source:     c.source,
		Score:      c.score,
		TokenCount: c.tokenCount,
		Markers:    c.markers,
		Metadata:   c.metadata,
		Timestamp:  c.timestamp,
	}
}
