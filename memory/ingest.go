package memory

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/log"
)

// IngestRequest carries the inputs for ingesting one turn.
type IngestRequest struct {
	Role    string
	Content string

	// ActorID optionally identifies which actor produced the turn.
	ActorID string

	// Markers are explicit importance markers. When provided, auto-detection
	// is skipped entirely.
	Markers []string

	Metadata map[string]any
}

// IngestionPipeline validates, annotates, embeds, and persists turns,
// delegating episode assignment to the episode manager.
type IngestionPipeline struct {
	sessionID string
	store     engram.Store
	embedder  engram.Embedder
	counter   engram.TokenCounter
	episodes  *EpisodeManager
	config    *engram.Config
	logger    log.Logger
	position  int
}

// NewIngestionPipeline creates an ingestion pipeline for the session.
func NewIngestionPipeline(
	sessionID string,
	store engram.Store,
	embedder engram.Embedder,
	counter engram.TokenCounter,
	episodes *EpisodeManager,
	config *engram.Config,
	logger log.Logger,
) *IngestionPipeline {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &IngestionPipeline{
		sessionID: sessionID,
		store:     store,
		embedder:  embedder,
		counter:   counter,
		episodes:  episodes,
		config:    config,
		logger:    logger,
	}
}

// Initialize resumes position tracking from previously stored turns.
func (p *IngestionPipeline) Initialize(ctx context.Context) error {
	turns, err := p.store.GetTurnsBySession(ctx, p.sessionID, 0)
	if err != nil {
		return err
	}
	p.position = len(turns)
	return nil
}

// Ingest validates the request, assigns the turn to an episode (possibly
// closing the current one), embeds the content, and persists the turn.
// Validation failures are returned before any state changes.
func (p *IngestionPipeline) Ingest(ctx context.Context, req IngestRequest) (*engram.Turn, error) {
	role, err := engram.ValidateRole(req.Role)
	if err != nil {
		return nil, err
	}
	content, err := engram.ValidateContent(req.Content, p.config.MaxContentLength)
	if err != nil {
		return nil, err
	}
	markers, err := engram.ValidateMarkers(req.Markers)
	if err != nil {
		return nil, err
	}

	if p.config.AutoDetectMarkers {
		markers = engram.MergeMarkers(markers, engram.DetectMarkers(content))
	}

	turn := &engram.Turn{
		ID:         engram.NewTurnID(),
		SessionID:  p.sessionID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		ActorID:    req.ActorID,
		Markers:    markers,
		TokenCount: p.counter.Count(content),
		Position:   p.position,
		Metadata:   req.Metadata,
	}

	episodeID, err := p.episodes.AssignEpisode(ctx, turn)
	if err != nil {
		return nil, err
	}
	turn.EpisodeID = episodeID

	embeddingID, err := p.embedTurn(ctx, turn)
	if err != nil {
		return nil, err
	}
	turn.EmbeddingID = embeddingID

	if err := p.store.SaveTurn(ctx, turn); err != nil {
		return nil, err
	}
	p.position++

	p.logger.Debug("ingested turn",
		"turn_id", turn.ID,
		"episode_id", turn.EpisodeID,
		"role", string(turn.Role),
		"markers", turn.Markers,
		"tokens", turn.TokenCount)
	return turn, nil
}

// embedTurn generates and stores the turn's embedding. An empty result from
// the embedder skips embedding without error; the turn remains useful for
// recency-based recall without it.
func (p *IngestionPipeline) embedTurn(ctx context.Context, turn *engram.Turn) (string, error) {
	vectors, err := p.embedder.Embed(ctx, []string{turn.Content})
	if err != nil {
		return "", &engram.ProviderError{
			Provider:  "embedder",
			Message:   "failed to generate turn embedding",
			Retryable: engram.IsRetryable(err),
			Cause:     err,
		}
	}
	if len(vectors) == 0 {
		return "", nil
	}

	embeddingID := engram.NewEmbeddingID()
	err = p.store.SaveEmbedding(ctx, embeddingID, vectors[0], map[string]any{
		"session_id":  turn.SessionID,
		"episode_id":  turn.EpisodeID,
		"turn_id":     turn.ID,
		"type":        "turn",
		"role":        string(turn.Role),
		"has_markers": turn.HasMarkers(),
	})
	if err != nil {
		return "", err
	}
	return embeddingID, nil
}
