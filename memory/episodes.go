// Package memory implements the three core pipelines: turn ingestion with
// episode lifecycle management, budgeted context recall, and reflection with
// fact consolidation.
package memory

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/log"
)

// OnEpisodeClosed is invoked with the ID of every closed episode, for both
// manual and boundary-rule closes. Panics in the callback are recovered and
// logged; they never prevent the close from completing.
type OnEpisodeClosed func(ctx context.Context, episodeID string)

// EpisodeManager owns the episode lifecycle for one session: creating
// episodes, detecting boundaries, and closing episodes.
//
// The manager is not safe for concurrent use; the session facade serializes
// access.
type EpisodeManager struct {
	sessionID  string
	store      engram.Store
	config     *engram.Config
	logger     log.Logger
	current    *engram.Episode
	lastTurnAt time.Time
	onClose    OnEpisodeClosed
}

// NewEpisodeManager creates an episode manager for the session.
func NewEpisodeManager(sessionID string, store engram.Store, config *engram.Config, logger log.Logger) *EpisodeManager {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &EpisodeManager{
		sessionID: sessionID,
		store:     store,
		config:    config,
		logger:    logger,
	}
}

// SetOnEpisodeClosed registers the close callback. Pass nil to clear it.
func (m *EpisodeManager) SetOnEpisodeClosed(callback OnEpisodeClosed) {
	m.onClose = callback
}

// CurrentEpisodeID returns the open episode's ID, or "" if none is open.
func (m *EpisodeManager) CurrentEpisodeID() string {
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// CurrentEpisode returns a copy of the open episode, or nil.
func (m *EpisodeManager) CurrentEpisode() *engram.Episode {
	if m.current == nil {
		return nil
	}
	return m.current.Copy()
}

// Initialize loads the session's open episode if one exists, otherwise
// creates the first episode.
func (m *EpisodeManager) Initialize(ctx context.Context) error {
	episodes, err := m.store.GetEpisodes(ctx, m.sessionID, 1, engram.EpisodeOpen)
	if err != nil {
		return err
	}
	if len(episodes) > 0 {
		m.current = episodes[0]
		turns, err := m.store.GetTurnsByEpisode(ctx, m.current.ID)
		if err != nil {
			return err
		}
		if len(turns) > 0 {
			m.lastTurnAt = turns[len(turns)-1].CreatedAt
		}
		return nil
	}
	_, err = m.createEpisode(ctx)
	return err
}

func (m *EpisodeManager) createEpisode(ctx context.Context) (*engram.Episode, error) {
	episode := &engram.Episode{
		ID:        engram.NewEpisodeID(),
		SessionID: m.sessionID,
		Status:    engram.EpisodeOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveEpisode(ctx, episode); err != nil {
		return nil, err
	}
	m.current = episode
	return episode, nil
}

// shouldClose evaluates the boundary rules in order against the incoming
// turn. First match wins.
func (m *EpisodeManager) shouldClose(turn *engram.Turn) bool {
	if m.current == nil {
		return false
	}
	boundary := &m.config.EpisodeBoundary

	// Rule 1: max turns reached.
	if m.current.TurnCount >= boundary.MaxTurns {
		return true
	}

	// Rule 2: time gap exceeded.
	if !m.lastTurnAt.IsZero() {
		maxGap := time.Duration(boundary.MaxTimeGapSeconds) * time.Second
		if turn.CreatedAt.Sub(m.lastTurnAt) > maxGap {
			return true
		}
	}

	// Rule 3: tool result completes a unit of work.
	if boundary.CloseOnToolResult && turn.Role == engram.RoleTool {
		return true
	}

	// Rule 4: content patterns.
	return boundary.ShouldCloseOnContent(turn.Content)
}

// AssignEpisode places the turn in the open episode, closing the current one
// first when a boundary rule fires. Returns the assigned episode's ID.
func (m *EpisodeManager) AssignEpisode(ctx context.Context, turn *engram.Turn) (string, error) {
	if m.shouldClose(turn) {
		if _, err := m.CloseCurrentEpisode(ctx, "boundary_rule"); err != nil {
			return "", err
		}
	}
	if m.current == nil {
		if _, err := m.createEpisode(ctx); err != nil {
			return "", err
		}
	}

	m.current.TurnCount++
	m.current.TotalTokens += turn.TokenCount
	for _, marker := range turn.Markers {
		if !containsString(m.current.Markers, marker) {
			m.current.Markers = append(m.current.Markers, marker)
		}
	}
	if err := m.store.UpdateEpisode(ctx, m.current); err != nil {
		return "", err
	}
	m.lastTurnAt = turn.CreatedAt
	return m.current.ID, nil
}

// CloseCurrentEpisode closes the open episode and invokes the close
// callback. Returns the closed episode's ID, or "" if nothing was open.
func (m *EpisodeManager) CloseCurrentEpisode(ctx context.Context, reason string) (string, error) {
	if m.current == nil {
		return "", nil
	}
	episodeID := m.current.ID
	now := time.Now().UTC()

	m.current.Status = engram.EpisodeClosed
	m.current.ClosedAt = &now
	m.current.CloseReason = reason
	if err := m.store.UpdateEpisode(ctx, m.current); err != nil {
		return "", err
	}
	m.current = nil
	m.lastTurnAt = time.Time{}

	m.invokeOnClose(ctx, episodeID)
	return episodeID, nil
}

func (m *EpisodeManager) invokeOnClose(ctx context.Context, episodeID string) {
	if m.onClose == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("episode close callback panicked",
				"episode_id", episodeID, "panic", r)
		}
	}()
	m.onClose(ctx, episodeID)
}

// GetCurrentEpisodeTurns returns the open episode's turns in chronological
// order, or nil if no episode is open.
func (m *EpisodeManager) GetCurrentEpisodeTurns(ctx context.Context) ([]*engram.Turn, error) {
	if m.current == nil {
		return nil, nil
	}
	return m.store.GetTurnsByEpisode(ctx, m.current.ID)
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
