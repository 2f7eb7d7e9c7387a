// Package storage provides the concrete Store implementations: an in-memory
// reference store, a SQLite-backed store, and a caching decorator.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/deepnoodle-ai/engram"
)

type storedEmbedding struct {
	vector   []float64
	metadata map[string]any
}

// InMemoryStore is the reference Store implementation. All data lives in
// process memory and is lost on exit. Suitable for tests, development, and
// short-lived sessions.
//
// Vector search is a brute-force cosine scan over all stored embeddings.
type InMemoryStore struct {
	mu         sync.RWMutex
	turns      map[string]*engram.Turn
	episodes   map[string]*engram.Episode
	facts      map[string]*engram.Fact
	embeddings map[string]storedEmbedding
}

var _ engram.Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:      make(map[string]*engram.Turn),
		episodes:   make(map[string]*engram.Episode),
		facts:      make(map[string]*engram.Fact),
		embeddings: make(map[string]storedEmbedding),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *InMemoryStore) Initialize(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// Clear removes all stored data. Intended for tests.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = make(map[string]*engram.Turn)
	s.episodes = make(map[string]*engram.Episode)
	s.facts = make(map[string]*engram.Fact)
	s.embeddings = make(map[string]storedEmbedding)
}

func (s *InMemoryStore) SaveTurn(ctx context.Context, turn *engram.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.ID] = turn.Copy()
	return nil
}

func (s *InMemoryStore) GetTurn(ctx context.Context, turnID string) (*engram.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turn, ok := s.turns[turnID]
	if !ok {
		return nil, &engram.TurnNotFoundError{TurnID: turnID}
	}
	return turn.Copy(), nil
}

func (s *InMemoryStore) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*engram.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []*engram.Turn
	for _, t := range s.turns {
		if t.EpisodeID == episodeID {
			turns = append(turns, t.Copy())
		}
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Position < turns[j].Position })
	return turns, nil
}

func (s *InMemoryStore) GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*engram.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []*engram.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			turns = append(turns, t.Copy())
		}
	}
	sortTurnsChronologically(turns)
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

func (s *InMemoryStore) GetMarkedTurns(ctx context.Context, sessionID, excludeEpisodeID string) ([]*engram.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var turns []*engram.Turn
	for _, t := range s.turns {
		if t.SessionID != sessionID || !t.HasMarkers() {
			continue
		}
		if excludeEpisodeID != "" && t.EpisodeID == excludeEpisodeID {
			continue
		}
		turns = append(turns, t.Copy())
	}
	sortTurnsChronologically(turns)
	return turns, nil
}

func (s *InMemoryStore) SaveEpisode(ctx context.Context, episode *engram.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[episode.ID] = episode.Copy()
	return nil
}

func (s *InMemoryStore) GetEpisode(ctx context.Context, episodeID string) (*engram.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	episode, ok := s.episodes[episodeID]
	if !ok {
		return nil, &engram.EpisodeNotFoundError{EpisodeID: episodeID}
	}
	return episode.Copy(), nil
}

func (s *InMemoryStore) GetEpisodes(ctx context.Context, sessionID string, limit int, status engram.EpisodeStatus) ([]*engram.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var episodes []*engram.Episode
	for _, e := range s.episodes {
		if e.SessionID != sessionID {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		episodes = append(episodes, e.Copy())
	}
	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].CreatedAt.Before(episodes[j].CreatedAt)
	})
	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

func (s *InMemoryStore) UpdateEpisode(ctx context.Context, episode *engram.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[episode.ID] = episode.Copy()
	return nil
}

func (s *InMemoryStore) SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vec := append([]float64(nil), vector...)
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s.embeddings[id] = storedEmbedding{vector: vec, metadata: meta}
	return nil
}

func (s *InMemoryStore) GetEmbedding(ctx context.Context, id string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emb, ok := s.embeddings[id]
	if !ok {
		return nil, nil
	}
	return append([]float64(nil), emb.vector...), nil
}

func (s *InMemoryStore) VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]engram.VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []engram.VectorSearchResult
	for id, emb := range s.embeddings {
		if !metadataMatches(emb.metadata, filter) {
			continue
		}
		results = append(results, engram.VectorSearchResult{
			ID:       id,
			Score:    engram.CosineSimilarity(vector, emb.vector),
			Metadata: emb.metadata,
		})
	}
	sortResultsByScore(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *InMemoryStore) SaveFact(ctx context.Context, fact *engram.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.ID] = fact.Copy()
	return nil
}

func (s *InMemoryStore) GetFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.factsWhere(func(f *engram.Fact) bool { return f.SessionID == sessionID })
}

func (s *InMemoryStore) GetFactsByEpisode(ctx context.Context, episodeID string) ([]*engram.Fact, error) {
	return s.factsWhere(func(f *engram.Fact) bool { return f.EpisodeID == episodeID })
}

func (s *InMemoryStore) GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.factsWhere(func(f *engram.Fact) bool {
		return f.SessionID == sessionID && f.IsActive()
	})
}

func (s *InMemoryStore) UpdateFact(ctx context.Context, fact *engram.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[fact.ID] = fact.Copy()
	return nil
}

func (s *InMemoryStore) GetSessionStats(ctx context.Context, sessionID string) (*engram.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &engram.SessionStats{SessionID: sessionID}
	var openEpisode *engram.Episode
	for _, e := range s.episodes {
		if e.SessionID != sessionID {
			continue
		}
		stats.TotalEpisodes++
		if e.IsOpen() {
			openEpisode = e
		}
	}

	var first, last time.Time
	for _, t := range s.turns {
		if t.SessionID != sessionID {
			continue
		}
		stats.TotalTurns++
		stats.TotalTokensIngested += t.TokenCount
		if first.IsZero() || t.CreatedAt.Before(first) {
			first = t.CreatedAt
		}
		if t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
		if openEpisode != nil && t.EpisodeID == openEpisode.ID {
			stats.OpenEpisodeTurnCount++
		}
	}
	for _, f := range s.facts {
		if f.SessionID == sessionID {
			stats.TotalFacts++
		}
	}
	if openEpisode != nil {
		stats.OpenEpisodeID = openEpisode.ID
	}
	if first.IsZero() {
		first = time.Now()
		last = first
	}
	stats.CreatedAt = first
	stats.LastActivityAt = last
	return stats, nil
}

func (s *InMemoryStore) factsWhere(keep func(*engram.Fact) bool) ([]*engram.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var facts []*engram.Fact
	for _, f := range s.facts {
		if keep(f) {
			facts = append(facts, f.Copy())
		}
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].CreatedAt.Equal(facts[j].CreatedAt) {
			return facts[i].ID < facts[j].ID
		}
		return facts[i].CreatedAt.Before(facts[j].CreatedAt)
	})
	return facts, nil
}

// sortTurnsChronologically orders by creation time, breaking ties with the
// per-session position so rapid ingestion stays deterministic.
func sortTurnsChronologically(turns []*engram.Turn) {
	sort.Slice(turns, func(i, j int) bool {
		if turns[i].CreatedAt.Equal(turns[j].CreatedAt) {
			return turns[i].Position < turns[j].Position
		}
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
}

func sortResultsByScore(results []engram.VectorSearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func metadataMatches(metadata, filter map[string]any) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}
