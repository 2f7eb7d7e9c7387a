package engram

import (
	"strings"
	"time"
)

// RemovedSentinelPrefix prefixes the SupersededBy value recorded when a
// consolidation REMOVE action retires a fact without a replacement.
const RemovedSentinelPrefix = "removed_by_"

// RemovedSentinel builds the SupersededBy value for a fact removed during
// consolidation of the given episode.
func RemovedSentinel(episodeID string) string {
	return RemovedSentinelPrefix + episodeID
}

// Fact is a semantic conclusion distilled from episode reflection — the L2
// memory level.
//
// Facts are immutable except for SupersededBy, which the reflection runner
// sets exactly once when a later consolidation replaces or removes the fact.
type Fact struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	EpisodeID string    `json:"episode_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// FactType maps to a MarkerType value, defaulting to "decision".
	FactType string `json:"fact_type"`

	// Confidence is the reflector's score in [0, 1].
	Confidence float64 `json:"confidence"`

	EmbeddingID string `json:"embedding_id,omitempty"`
	TokenCount  int    `json:"token_count"`

	// SupersededBy holds the replacing fact's ID, or a removal sentinel
	// ("removed_by_<episode-id>"). A fact with SupersededBy set is inactive.
	SupersededBy string `json:"superseded_by,omitempty"`

	// Supersedes lists the fact IDs this fact replaced.
	Supersedes []string `json:"supersedes,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether the fact has not been superseded or removed.
func (f *Fact) IsActive() bool {
	return f.SupersededBy == ""
}

// IsRemoved reports whether the fact was retired by a REMOVE action rather
// than replaced by another fact.
func (f *Fact) IsRemoved() bool {
	return strings.HasPrefix(f.SupersededBy, RemovedSentinelPrefix)
}

// Copy returns a deep copy of the fact.
func (f *Fact) Copy() *Fact {
	cp := *f
	if f.Supersedes != nil {
		cp.Supersedes = append([]string(nil), f.Supersedes...)
	}
	if f.Metadata != nil {
		cp.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
