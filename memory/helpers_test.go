package memory

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/engram"
	"github.com/deepnoodle-ai/engram/providers"
	"github.com/deepnoodle-ai/engram/storage"
	"github.com/stretchr/testify/require"
)

func testEmbedder() engram.Embedder {
	return providers.NewHashEmbedder(32)
}

func testConfig(t *testing.T) *engram.Config {
	t.Helper()
	config := engram.DefaultConfig()
	require.NoError(t, config.Validate())
	return config
}

func newTestManager(t *testing.T, config *engram.Config) (*EpisodeManager, *storage.InMemoryStore) {
	t.Helper()
	store := storage.NewInMemoryStore()
	manager := NewEpisodeManager("sess_test", store, config, nil)
	require.NoError(t, manager.Initialize(context.Background()))
	return manager, store
}

type testPipelines struct {
	store     *storage.InMemoryStore
	config    *engram.Config
	manager   *EpisodeManager
	ingestion *IngestionPipeline
	recall    *RecallPipeline
}

func newTestPipelines(t *testing.T, config *engram.Config) *testPipelines {
	t.Helper()
	store := storage.NewInMemoryStore()
	embedder := providers.NewHashEmbedder(32)
	counter := engram.NewHeuristicTokenCounter()
	manager := NewEpisodeManager("sess_test", store, config, nil)
	require.NoError(t, manager.Initialize(context.Background()))

	ingestion := NewIngestionPipeline("sess_test", store, embedder, counter, manager, config, nil)
	require.NoError(t, ingestion.Initialize(context.Background()))
	recall := NewRecallPipeline("sess_test", store, embedder, counter, manager, config, nil)

	return &testPipelines{
		store:     store,
		config:    config,
		manager:   manager,
		ingestion: ingestion,
		recall:    recall,
	}
}

func newTurn(sessionID string, position int, role engram.Role, content string, markers ...string) *engram.Turn {
	return &engram.Turn{
		ID:         engram.NewTurnID(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Markers:    markers,
		TokenCount: len(content) / 4,
		Position:   position,
	}
}
