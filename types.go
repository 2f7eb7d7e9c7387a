package engram

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// EpisodeStatus is the lifecycle status of an episode.
type EpisodeStatus string

const (
	EpisodeOpen   EpisodeStatus = "open"
	EpisodeClosed EpisodeStatus = "closed"
)

// MarkerType enumerates the built-in importance markers. Markers provide
// lightweight signals that participate in recall scoring.
type MarkerType string

const (
	MarkerDecision   MarkerType = "decision"   // choices made - maintain consistency
	MarkerConstraint MarkerType = "constraint" // limitations and requirements
	MarkerFailure    MarkerType = "failure"    // what didn't work - prevent repeats
	MarkerGoal       MarkerType = "goal"       // task objectives - anchor relevance
)

// CustomMarkerPrefix prefixes caller-defined markers, e.g. "custom:billing".
const CustomMarkerPrefix = "custom:"

// DefaultMarkerWeights are the default scoring boosts per built-in marker.
var DefaultMarkerWeights = map[string]float64{
	string(MarkerConstraint): 0.4,
	string(MarkerDecision):   0.3,
	string(MarkerGoal):       0.3,
	string(MarkerFailure):    0.2,
}

// DefaultCustomMarkerWeight is the boost applied to custom and unknown markers.
const DefaultCustomMarkerWeight = 0.2

// IsCustomMarker reports whether the marker uses the custom prefix.
func IsCustomMarker(marker string) bool {
	return strings.HasPrefix(marker, CustomMarkerPrefix)
}

// VectorSearchResult is a single hit from a vector similarity search.
type VectorSearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContextItemSource identifies where a recalled item came from.
type ContextItemSource string

const (
	SourceTurn    ContextItemSource = "turn"
	SourceEpisode ContextItemSource = "episode"
	SourceFact    ContextItemSource = "fact"
)

// ContextItem is a single piece of context returned by recall, ready for
// injection into a model prompt.
type ContextItem struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Role       Role              `json:"role"`
	Source     ContextItemSource `json:"source"`
	Score      float64           `json:"score"`
	TokenCount int               `json:"token_count"`
	Markers    []string          `json:"markers,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SessionStats summarizes a session's accumulated memory.
type SessionStats struct {
	SessionID            string    `json:"session_id"`
	TotalTurns           int       `json:"total_turns"`
	TotalEpisodes        int       `json:"total_episodes"`
	TotalFacts           int       `json:"total_facts"`
	OpenEpisodeID        string    `json:"open_episode_id,omitempty"`
	OpenEpisodeTurnCount int       `json:"open_episode_turn_count"`
	TotalTokensIngested  int       `json:"total_tokens_ingested"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivityAt       time.Time `json:"last_activity_at"`
}
