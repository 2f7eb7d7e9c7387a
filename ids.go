package engram

import (
	"strings"

	"github.com/google/uuid"
)

func newID(prefix string) string {
	uid := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return prefix + "_" + uid
}

// NewTurnID generates a unique turn identifier.
func NewTurnID() string { return newID("turn") }

// NewEpisodeID generates a unique episode identifier.
func NewEpisodeID() string { return newID("ep") }

// NewFactID generates a unique fact identifier.
func NewFactID() string { return newID("fact") }

// NewEmbeddingID generates a unique embedding identifier.
func NewEmbeddingID() string { return newID("emb") }

// NewSessionID generates a unique session identifier.
func NewSessionID() string { return newID("sess") }
