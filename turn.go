package engram

import "time"

// Turn is a single conversation turn — the L0 memory level.
//
// Turns are immutable once saved. The episode ID is assigned by the episode
// manager during ingestion, and the position increases monotonically per
// session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	EpisodeID string    `json:"episode_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// ActorID optionally identifies which actor produced the turn.
	ActorID string `json:"actor_id,omitempty"`

	// Markers are importance tags, unique and order-preserving.
	Markers []string `json:"markers,omitempty"`

	// TokenCount is computed during ingestion.
	TokenCount int `json:"token_count"`

	// EmbeddingID references the turn's embedding, if one was generated.
	EmbeddingID string `json:"embedding_id,omitempty"`

	// Position is the turn's per-session monotonic sequence number.
	Position int `json:"position"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// HasMarkers reports whether the turn carries any markers.
func (t *Turn) HasMarkers() bool {
	return len(t.Markers) > 0
}

// Copy returns a deep copy of the turn.
func (t *Turn) Copy() *Turn {
	cp := *t
	if t.Markers != nil {
		cp.Markers = append([]string(nil), t.Markers...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
