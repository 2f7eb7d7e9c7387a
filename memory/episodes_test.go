package memory

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/stretchr/testify/require"
)

func TestInitializeCreatesFirstEpisode(t *testing.T) {
	manager, store := newTestManager(t, testConfig(t))
	require.NotEmpty(t, manager.CurrentEpisodeID())

	episodes, err := store.GetEpisodes(context.Background(), "sess_test", 0, engram.EpisodeOpen)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	require.Equal(t, manager.CurrentEpisodeID(), episodes[0].ID)
}

func TestInitializeResumesOpenEpisode(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	manager, store := newTestManager(t, config)
	openID := manager.CurrentEpisodeID()

	// A second manager over the same store resumes the same episode.
	resumed := NewEpisodeManager("sess_test", store, config, nil)
	require.NoError(t, resumed.Initialize(ctx))
	require.Equal(t, openID, resumed.CurrentEpisodeID())
}

func TestAssignEpisodeAggregatesStats(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, testConfig(t))

	turn1 := newTurn("sess_test", 0, engram.RoleUser, "decision: use sqlite for storage", "decision")
	turn1.TokenCount = 10
	turn2 := newTurn("sess_test", 1, engram.RoleAssistant, "okay", "decision", "goal")
	turn2.TokenCount = 5

	id1, err := manager.AssignEpisode(ctx, turn1)
	require.NoError(t, err)
	id2, err := manager.AssignEpisode(ctx, turn2)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	episode, err := store.GetEpisode(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, 2, episode.TurnCount)
	require.Equal(t, 15, episode.TotalTokens)
	require.Equal(t, []string{"decision", "goal"}, episode.Markers)
}

func TestBoundaryRuleMaxTurns(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.EpisodeBoundary.MaxTurns = 2
	manager, _ := newTestManager(t, config)
	first := manager.CurrentEpisodeID()

	for i := 0; i < 2; i++ {
		_, err := manager.AssignEpisode(ctx, newTurn("sess_test", i, engram.RoleUser, "hello"))
		require.NoError(t, err)
	}
	// The third turn closes the full episode and lands in a fresh one.
	id, err := manager.AssignEpisode(ctx, newTurn("sess_test", 2, engram.RoleUser, "hello again"))
	require.NoError(t, err)
	require.NotEqual(t, first, id)
}

func TestBoundaryRuleTimeGap(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.EpisodeBoundary.MaxTimeGapSeconds = 60
	manager, store := newTestManager(t, config)
	first := manager.CurrentEpisodeID()

	early := newTurn("sess_test", 0, engram.RoleUser, "hello")
	early.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	_, err := manager.AssignEpisode(ctx, early)
	require.NoError(t, err)

	late := newTurn("sess_test", 1, engram.RoleUser, "back after a break")
	id, err := manager.AssignEpisode(ctx, late)
	require.NoError(t, err)
	require.NotEqual(t, first, id)

	closed, err := store.GetEpisode(ctx, first)
	require.NoError(t, err)
	require.Equal(t, engram.EpisodeClosed, closed.Status)
	require.Equal(t, "boundary_rule", closed.CloseReason)
}

func TestBoundaryRuleToolResult(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	manager, _ := newTestManager(t, config)
	first := manager.CurrentEpisodeID()

	_, err := manager.AssignEpisode(ctx, newTurn("sess_test", 0, engram.RoleUser, "run the tool"))
	require.NoError(t, err)

	// The tool turn itself opens a fresh episode; the rule closes before
	// assignment.
	id, err := manager.AssignEpisode(ctx, newTurn("sess_test", 1, engram.RoleTool, "tool output"))
	require.NoError(t, err)
	require.NotEqual(t, first, id)
}

func TestBoundaryRuleToolResultDisabled(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.EpisodeBoundary.CloseOnToolResult = false
	manager, _ := newTestManager(t, config)
	first := manager.CurrentEpisodeID()

	_, err := manager.AssignEpisode(ctx, newTurn("sess_test", 0, engram.RoleUser, "run the tool"))
	require.NoError(t, err)
	id, err := manager.AssignEpisode(ctx, newTurn("sess_test", 1, engram.RoleTool, "tool output"))
	require.NoError(t, err)
	require.Equal(t, first, id)
}

func TestBoundaryRuleContentPattern(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.EpisodeBoundary.ClosePatterns = []string{`(?i)^done$`}
	require.NoError(t, config.Validate())
	manager, _ := newTestManager(t, config)
	first := manager.CurrentEpisodeID()

	_, err := manager.AssignEpisode(ctx, newTurn("sess_test", 0, engram.RoleUser, "working on it"))
	require.NoError(t, err)
	id, err := manager.AssignEpisode(ctx, newTurn("sess_test", 1, engram.RoleUser, "done"))
	require.NoError(t, err)
	require.NotEqual(t, first, id)
}

func TestCloseCurrentEpisodeInvokesCallback(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, testConfig(t))
	episodeID := manager.CurrentEpisodeID()

	var closedID string
	manager.SetOnEpisodeClosed(func(ctx context.Context, id string) {
		closedID = id
	})

	id, err := manager.CloseCurrentEpisode(ctx, "manual")
	require.NoError(t, err)
	require.Equal(t, episodeID, id)
	require.Equal(t, episodeID, closedID)
	require.Empty(t, manager.CurrentEpisodeID())

	episode, err := store.GetEpisode(ctx, episodeID)
	require.NoError(t, err)
	require.Equal(t, engram.EpisodeClosed, episode.Status)
	require.Equal(t, "manual", episode.CloseReason)
	require.NotNil(t, episode.ClosedAt)
}

func TestCloseCallbackPanicDoesNotFailClose(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, testConfig(t))
	episodeID := manager.CurrentEpisodeID()

	manager.SetOnEpisodeClosed(func(ctx context.Context, id string) {
		panic("callback blew up")
	})

	id, err := manager.CloseCurrentEpisode(ctx, "manual")
	require.NoError(t, err)
	require.Equal(t, episodeID, id)

	episode, err := store.GetEpisode(ctx, episodeID)
	require.NoError(t, err)
	require.Equal(t, engram.EpisodeClosed, episode.Status)
}

func TestCloseWithNoOpenEpisode(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, testConfig(t))
	_, err := manager.CloseCurrentEpisode(ctx, "manual")
	require.NoError(t, err)

	id, err := manager.CloseCurrentEpisode(ctx, "manual")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestGetCurrentEpisodeTurns(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t, testConfig(t))

	turns, err := manager.GetCurrentEpisodeTurns(ctx)
	require.NoError(t, err)
	require.Empty(t, turns)

	turn := newTurn("sess_test", 0, engram.RoleUser, "hello")
	id, err := manager.AssignEpisode(ctx, turn)
	require.NoError(t, err)
	turn.EpisodeID = id
	require.NoError(t, store.SaveTurn(ctx, turn))

	turns, err = manager.GetCurrentEpisodeTurns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, turn.ID, turns[0].ID)
}
