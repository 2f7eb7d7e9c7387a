package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/engram"
	"github.com/stretchr/testify/require"
)

func TestIngestHappyPath(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	turn, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: "  what database should we use?  ",
		ActorID: "agent-a",
	})
	require.NoError(t, err)
	require.Equal(t, engram.RoleUser, turn.Role)
	require.Equal(t, "what database should we use?", turn.Content)
	require.Equal(t, "agent-a", turn.ActorID)
	require.Equal(t, p.manager.CurrentEpisodeID(), turn.EpisodeID)
	require.NotEmpty(t, turn.EmbeddingID)
	require.Equal(t, 0, turn.Position)
	require.Equal(t, len(turn.Content)/4, turn.TokenCount)

	stored, err := p.store.GetTurn(ctx, turn.ID)
	require.NoError(t, err)
	require.Equal(t, turn.Content, stored.Content)

	vec, err := p.store.GetEmbedding(ctx, turn.EmbeddingID)
	require.NoError(t, err)
	require.NotNil(t, vec)
}

func TestIngestValidationFailures(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"invalid role", IngestRequest{Role: "narrator", Content: "hello"}},
		{"empty content", IngestRequest{Role: "user", Content: "   "}},
		{"bad marker", IngestRequest{Role: "user", Content: "hello", Markers: []string{"urgent"}}},
		{"custom marker without name", IngestRequest{Role: "user", Content: "hello", Markers: []string{"custom:"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ingestion.Ingest(ctx, tt.req)
			var ve *engram.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}

	// Validation failures touch no state.
	stats, err := p.store.GetSessionStats(ctx, "sess_test")
	require.NoError(t, err)
	require.Zero(t, stats.TotalTurns)
}

func TestIngestRejectsOversizedContent(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.MaxContentLength = 10
	p := newTestPipelines(t, config)

	_, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: strings.Repeat("x", 11),
	})
	var ve *engram.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "content", ve.Field)
}

func TestIngestAutoDetectsMarkers(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	turn, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: "decision: we will use postgres\nconstraint: must stay under $100/month",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"decision", "constraint"}, turn.Markers)
}

func TestIngestExplicitMarkersOverrideDetection(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	turn, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: "decision: we will use postgres",
		Markers: []string{"goal", "custom:billing"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"goal", "custom:billing"}, turn.Markers)
}

func TestIngestDetectionDisabled(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t)
	config.AutoDetectMarkers = false
	p := newTestPipelines(t, config)

	turn, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: "decision: we will use postgres",
	})
	require.NoError(t, err)
	require.Empty(t, turn.Markers)
}

func TestIngestPositionsIncrease(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	for i := 0; i < 3; i++ {
		turn, err := p.ingestion.Ingest(ctx, IngestRequest{Role: "user", Content: "turn content"})
		require.NoError(t, err)
		require.Equal(t, i, turn.Position)
	}
}

func TestIngestPositionResumesFromStore(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	for i := 0; i < 2; i++ {
		_, err := p.ingestion.Ingest(ctx, IngestRequest{Role: "user", Content: "turn content"})
		require.NoError(t, err)
	}

	// A new pipeline over the same store continues the sequence.
	resumed := NewIngestionPipeline("sess_test", p.store, testEmbedder(), engram.NewHeuristicTokenCounter(), p.manager, p.config, nil)
	require.NoError(t, resumed.Initialize(ctx))
	turn, err := resumed.Ingest(ctx, IngestRequest{Role: "user", Content: "turn content"})
	require.NoError(t, err)
	require.Equal(t, 2, turn.Position)
}

func TestIngestEmbeddingMetadata(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))

	turn, err := p.ingestion.Ingest(ctx, IngestRequest{
		Role:    "user",
		Content: "decision: go with sqlite",
	})
	require.NoError(t, err)

	results, err := p.store.VectorSearch(ctx, []float64{0.1}, 0, map[string]any{"turn_id": turn.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	meta := results[0].Metadata
	require.Equal(t, "sess_test", meta["session_id"])
	require.Equal(t, turn.EpisodeID, meta["episode_id"])
	require.Equal(t, "turn", meta["type"])
	require.Equal(t, "user", meta["role"])
	require.Equal(t, true, meta["has_markers"])
}

func TestIngestToolTurnRollsEpisode(t *testing.T) {
	ctx := context.Background()
	p := newTestPipelines(t, testConfig(t))
	first := p.manager.CurrentEpisodeID()

	_, err := p.ingestion.Ingest(ctx, IngestRequest{Role: "user", Content: "run the search tool"})
	require.NoError(t, err)
	toolTurn, err := p.ingestion.Ingest(ctx, IngestRequest{Role: "tool", Content: "search results here"})
	require.NoError(t, err)
	require.NotEqual(t, first, toolTurn.EpisodeID)

	closed, err := p.store.GetEpisode(ctx, first)
	require.NoError(t, err)
	require.Equal(t, engram.EpisodeClosed, closed.Status)
}
