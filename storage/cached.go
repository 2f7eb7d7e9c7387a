package storage

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/cache"
)

type cachedEmbedding struct {
	vector []float64
}

// CachedStore wraps another Store with read-through LRU caches for the
// by-ID lookups (turns, episodes, facts, embeddings). List queries always go
// to the underlying store; writes update both the store and the cache.
type CachedStore struct {
	inner      engram.Store
	turns      *cache.LRU[string, *engram.Turn]
	episodes   *cache.LRU[string, *engram.Episode]
	facts      *cache.LRU[string, *engram.Fact]
	embeddings *cache.LRU[string, cachedEmbedding]
}

var _ engram.Store = (*CachedStore)(nil)

// NewCachedStore wraps inner with caches sized per cfg. If cfg.Enabled is
// false the inner store is returned unwrapped.
func NewCachedStore(inner engram.Store, cfg engram.CacheConfig) engram.Store {
	if !cfg.Enabled {
		return inner
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	return &CachedStore{
		inner:      inner,
		turns:      cache.New[string, *engram.Turn](cfg.MaxTurns, ttl),
		episodes:   cache.New[string, *engram.Episode](cfg.MaxEpisodes, ttl),
		facts:      cache.New[string, *engram.Fact](cfg.MaxFacts, ttl),
		embeddings: cache.New[string, cachedEmbedding](cfg.MaxEmbeddings, ttl),
	}
}

func (s *CachedStore) Initialize(ctx context.Context) error { return s.inner.Initialize(ctx) }

func (s *CachedStore) Close() error {
	s.turns.Clear()
	s.episodes.Clear()
	s.facts.Clear()
	s.embeddings.Clear()
	return s.inner.Close()
}

func (s *CachedStore) SaveTurn(ctx context.Context, turn *engram.Turn) error {
	if err := s.inner.SaveTurn(ctx, turn); err != nil {
		return err
	}
	s.turns.Put(turn.ID, turn.Copy())
	return nil
}

func (s *CachedStore) GetTurn(ctx context.Context, turnID string) (*engram.Turn, error) {
	if turn, ok := s.turns.Get(turnID); ok {
		return turn.Copy(), nil
	}
	turn, err := s.inner.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	s.turns.Put(turnID, turn.Copy())
	return turn, nil
}

func (s *CachedStore) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*engram.Turn, error) {
	return s.inner.GetTurnsByEpisode(ctx, episodeID)
}

func (s *CachedStore) GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*engram.Turn, error) {
	return s.inner.GetTurnsBySession(ctx, sessionID, limit)
}

func (s *CachedStore) GetMarkedTurns(ctx context.Context, sessionID, excludeEpisodeID string) ([]*engram.Turn, error) {
	return s.inner.GetMarkedTurns(ctx, sessionID, excludeEpisodeID)
}

func (s *CachedStore) SaveEpisode(ctx context.Context, episode *engram.Episode) error {
	if err := s.inner.SaveEpisode(ctx, episode); err != nil {
		return err
	}
	s.episodes.Put(episode.ID, episode.Copy())
	return nil
}

func (s *CachedStore) GetEpisode(ctx context.Context, episodeID string) (*engram.Episode, error) {
	if episode, ok := s.episodes.Get(episodeID); ok {
		return episode.Copy(), nil
	}
	episode, err := s.inner.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	s.episodes.Put(episodeID, episode.Copy())
	return episode, nil
}

func (s *CachedStore) GetEpisodes(ctx context.Context, sessionID string, limit int, status engram.EpisodeStatus) ([]*engram.Episode, error) {
	return s.inner.GetEpisodes(ctx, sessionID, limit, status)
}

func (s *CachedStore) UpdateEpisode(ctx context.Context, episode *engram.Episode) error {
	if err := s.inner.UpdateEpisode(ctx, episode); err != nil {
		return err
	}
	s.episodes.Put(episode.ID, episode.Copy())
	return nil
}

func (s *CachedStore) SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error {
	if err := s.inner.SaveEmbedding(ctx, id, vector, metadata); err != nil {
		return err
	}
	s.embeddings.Put(id, cachedEmbedding{vector: append([]float64(nil), vector...)})
	return nil
}

func (s *CachedStore) GetEmbedding(ctx context.Context, id string) ([]float64, error) {
	if emb, ok := s.embeddings.Get(id); ok {
		return append([]float64(nil), emb.vector...), nil
	}
	vector, err := s.inner.GetEmbedding(ctx, id)
	if err != nil || vector == nil {
		return vector, err
	}
	s.embeddings.Put(id, cachedEmbedding{vector: append([]float64(nil), vector...)})
	return vector, nil
}

func (s *CachedStore) VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]engram.VectorSearchResult, error) {
	return s.inner.VectorSearch(ctx, vector, k, filter)
}

func (s *CachedStore) SaveFact(ctx context.Context, fact *engram.Fact) error {
	if err := s.inner.SaveFact(ctx, fact); err != nil {
		return err
	}
	s.facts.Put(fact.ID, fact.Copy())
	return nil
}

func (s *CachedStore) GetFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.inner.GetFactsBySession(ctx, sessionID)
}

func (s *CachedStore) GetFactsByEpisode(ctx context.Context, episodeID string) ([]*engram.Fact, error) {
	return s.inner.GetFactsByEpisode(ctx, episodeID)
}

func (s *CachedStore) GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*engram.Fact, error) {
	return s.inner.GetActiveFactsBySession(ctx, sessionID)
}

func (s *CachedStore) UpdateFact(ctx context.Context, fact *engram.Fact) error {
	if err := s.inner.UpdateFact(ctx, fact); err != nil {
		return err
	}
	s.facts.Put(fact.ID, fact.Copy())
	return nil
}

func (s *CachedStore) GetSessionStats(ctx context.Context, sessionID string) (*engram.SessionStats, error) {
	return s.inner.GetSessionStats(ctx, sessionID)
}
