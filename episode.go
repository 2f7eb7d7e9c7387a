package engram

import "time"

// Episode is a bounded, contiguous group of turns — the L1 memory level.
//
// At most one episode per session is open at any time. The episode manager
// mutates an episode until it closes; closed episodes are immutable.
type Episode struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Status    EpisodeStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	// TurnCount and TotalTokens equal the sums over assigned turns.
	TurnCount   int `json:"turn_count"`
	TotalTokens int `json:"total_tokens"`

	// Markers is the union of markers across assigned turns,
	// order-preserving by first appearance.
	Markers []string `json:"markers,omitempty"`

	Summary  string         `json:"summary,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsOpen reports whether the episode is still accepting turns.
func (e *Episode) IsOpen() bool {
	return e.Status == EpisodeOpen
}

// Copy returns a deep copy of the episode.
func (e *Episode) Copy() *Episode {
	cp := *e
	if e.ClosedAt != nil {
		t := *e.ClosedAt
		cp.ClosedAt = &t
	}
	if e.Markers != nil {
		cp.Markers = append([]string(nil), e.Markers...)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
