package engram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleIsValid(t *testing.T) {
	require.True(t, RoleUser.IsValid())
	require.True(t, RoleAssistant.IsValid())
	require.True(t, RoleTool.IsValid())
	require.False(t, Role("narrator").IsValid())
	require.False(t, Role("").IsValid())
}

func TestFactLifecycle(t *testing.T) {
	fact := &Fact{ID: "fact_1", Content: "uses sqlite"}
	require.True(t, fact.IsActive())
	require.False(t, fact.IsRemoved())

	fact.SupersededBy = "fact_2"
	require.False(t, fact.IsActive())
	require.False(t, fact.IsRemoved())

	fact.SupersededBy = RemovedSentinel("ep_1")
	require.False(t, fact.IsActive())
	require.True(t, fact.IsRemoved())
	require.Equal(t, "removed_by_ep_1", fact.SupersededBy)
}

func TestTurnCopyIsDeep(t *testing.T) {
	turn := &Turn{
		ID:       "turn_1",
		Markers:  []string{"decision"},
		Metadata: map[string]any{"k": "v"},
	}
	cp := turn.Copy()
	cp.Markers[0] = "goal"
	cp.Metadata["k"] = "changed"
	require.Equal(t, []string{"decision"}, turn.Markers)
	require.Equal(t, "v", turn.Metadata["k"])
}

func TestEpisodeCopyIsDeep(t *testing.T) {
	closedAt := time.Now().UTC()
	episode := &Episode{
		ID:       "ep_1",
		Status:   EpisodeClosed,
		ClosedAt: &closedAt,
		Markers:  []string{"goal"},
	}
	cp := episode.Copy()
	cp.Markers[0] = "decision"
	*cp.ClosedAt = cp.ClosedAt.Add(time.Hour)
	require.Equal(t, []string{"goal"}, episode.Markers)
	require.Equal(t, closedAt, *episode.ClosedAt)
	require.False(t, episode.IsOpen())
}

func TestFactCopyIsDeep(t *testing.T) {
	fact := &Fact{
		ID:         "fact_1",
		Supersedes: []string{"fact_0"},
		Metadata:   map[string]any{"k": "v"},
	}
	cp := fact.Copy()
	cp.Supersedes[0] = "other"
	cp.Metadata["k"] = "changed"
	require.Equal(t, []string{"fact_0"}, fact.Supersedes)
	require.Equal(t, "v", fact.Metadata["k"])
}

func TestTurnHasMarkers(t *testing.T) {
	require.False(t, (&Turn{}).HasMarkers())
	require.True(t, (&Turn{Markers: []string{"decision"}}).HasMarkers())
}
