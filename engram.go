package engram

import "context"

// Embedder converts text into dense vector representations for semantic
// similarity search. Implementations must return one vector per input text,
// each with the fixed dimension reported by Dimension.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimension returns the embedding dimension, e.g. 1536.
	Dimension() int
}

// Reflector extracts semantic facts from a closed episode.
type Reflector interface {
	// Reflect analyzes an episode's turns and returns candidate facts.
	Reflect(ctx context.Context, episode *Episode, turns []*Turn) ([]*Fact, error)
}

// ConsolidatingReflector is an optional Reflector capability. A consolidating
// reflector receives the session's prior active facts alongside the new
// episode turns and returns actions (keep/update/add/remove) instead of
// standalone facts, enabling facts to evolve across episodes.
//
// Detection is by type assertion: reflectors that implement only Reflector
// continue to work through the legacy extraction path.
type ConsolidatingReflector interface {
	Reflector

	// ReflectWithConsolidation consolidates prior facts with new episode
	// content.
	ReflectWithConsolidation(ctx context.Context, episode *Episode, turns []*Turn, priorFacts []*Fact) ([]*ConsolidationAction, error)
}

// TokenCounter estimates the number of tokens in text for budget management.
type TokenCounter interface {
	Count(text string) int
}

// Store is the persistence contract consumed by the memory pipelines.
//
// Implementations must provide the documented ordering guarantees. Every
// operation may block on I/O and should honor context cancellation. Failed
// operations return a *StorageError naming the operation.
type Store interface {
	// Initialize prepares the store (creates tables, indexes, ...).
	// It must be idempotent.
	Initialize(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error

	// SaveTurn persists a turn.
	SaveTurn(ctx context.Context, turn *Turn) error

	// GetTurn returns a turn by ID, or a *TurnNotFoundError.
	GetTurn(ctx context.Context, turnID string) (*Turn, error)

	// GetTurnsByEpisode returns an episode's turns ordered by position
	// ascending.
	GetTurnsByEpisode(ctx context.Context, episodeID string) ([]*Turn, error)

	// GetTurnsBySession returns up to limit turns for a session ordered by
	// creation time ascending.
	GetTurnsBySession(ctx context.Context, sessionID string, limit int) ([]*Turn, error)

	// GetMarkedTurns returns all turns with non-empty markers, ordered by
	// creation time. Turns in excludeEpisodeID are omitted when it is
	// non-empty.
	GetMarkedTurns(ctx context.Context, sessionID, excludeEpisodeID string) ([]*Turn, error)

	// SaveEpisode persists a new episode.
	SaveEpisode(ctx context.Context, episode *Episode) error

	// GetEpisode returns an episode by ID, or an *EpisodeNotFoundError.
	GetEpisode(ctx context.Context, episodeID string) (*Episode, error)

	// GetEpisodes returns up to limit episodes for a session ordered by
	// creation time, optionally filtered by status ("" = all).
	GetEpisodes(ctx context.Context, sessionID string, limit int, status EpisodeStatus) ([]*Episode, error)

	// UpdateEpisode persists changes to an existing episode.
	UpdateEpisode(ctx context.Context, episode *Episode) error

	// SaveEmbedding persists an embedding vector with its metadata.
	SaveEmbedding(ctx context.Context, id string, vector []float64, metadata map[string]any) error

	// GetEmbedding returns an embedding vector by ID, or nil if absent.
	GetEmbedding(ctx context.Context, id string) ([]float64, error)

	// VectorSearch returns up to k results ordered by descending cosine
	// similarity. The filter is an equality conjunction on metadata.
	VectorSearch(ctx context.Context, vector []float64, k int, filter map[string]any) ([]VectorSearchResult, error)

	// SaveFact persists a fact.
	SaveFact(ctx context.Context, fact *Fact) error

	// GetFactsBySession returns all facts for a session ordered by
	// creation time.
	GetFactsBySession(ctx context.Context, sessionID string) ([]*Fact, error)

	// GetFactsByEpisode returns facts derived from an episode.
	GetFactsByEpisode(ctx context.Context, episodeID string) ([]*Fact, error)

	// GetActiveFactsBySession returns facts whose SupersededBy is unset,
	// ordered by creation time.
	GetActiveFactsBySession(ctx context.Context, sessionID string) ([]*Fact, error)

	// UpdateFact persists changes to an existing fact. It is used
	// exclusively to set SupersededBy during consolidation.
	UpdateFact(ctx context.Context, fact *Fact) error

	// GetSessionStats returns aggregate statistics for a session.
	GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error)
}
