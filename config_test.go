package engram

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	require.Equal(t, 6, config.EpisodeBoundary.MaxTurns)
	require.Equal(t, 1800, config.EpisodeBoundary.MaxTimeGapSeconds)
	require.True(t, config.EpisodeBoundary.CloseOnToolResult)
	require.Equal(t, 4000, config.Recall.DefaultTokenBudget)
	require.InDelta(t, 0.4, config.Recall.CurrentEpisodeBudgetPct, 1e-9)
	require.True(t, config.Reflection.Enabled)
	require.Equal(t, 2, config.Reflection.MinEpisodeTurns)
	require.InDelta(t, 0.7, config.Reflection.MinConfidence, 1e-9)
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative marker weight", func(c *Config) { c.MarkerWeights["decision"] = -0.1 }},
		{"budget pct above one", func(c *Config) { c.Recall.CurrentEpisodeBudgetPct = 1.5 }},
		{"zero vector results", func(c *Config) { c.Recall.MaxVectorResults = 0 }},
		{"zero content length", func(c *Config) { c.MaxContentLength = 0 }},
		{"invalid close pattern", func(c *Config) { c.EpisodeBoundary.ClosePatterns = []string{"("} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			var ce *ConfigurationError
			require.ErrorAs(t, config.Validate(), &ce)
		})
	}
}

func TestConfigValidateFillsMissingWeights(t *testing.T) {
	config := DefaultConfig()
	config.MarkerWeights = map[string]float64{"decision": 0.9}
	require.NoError(t, config.Validate())

	require.InDelta(t, 0.9, config.MarkerWeight("decision"), 1e-9)
	require.InDelta(t, 0.4, config.MarkerWeight("constraint"), 1e-9)
	require.InDelta(t, DefaultCustomMarkerWeight, config.MarkerWeight("custom:billing"), 1e-9)
}

func TestShouldCloseOnContent(t *testing.T) {
	config := DefaultConfig()
	config.EpisodeBoundary.ClosePatterns = []string{`(?i)^/clear`, `goodbye`}
	require.NoError(t, config.Validate())

	require.True(t, config.EpisodeBoundary.ShouldCloseOnContent("/clear"))
	require.True(t, config.EpisodeBoundary.ShouldCloseOnContent("ok goodbye then"))
	require.False(t, config.EpisodeBoundary.ShouldCloseOnContent("hello"))
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.yaml")
	data := `
auto_detect_markers: false
episode_boundary:
  max_turns: 10
  max_time_gap_seconds: 60
  close_on_tool_result: false
recall:
  default_token_budget: 2000
  current_episode_budget_pct: 0.5
  max_vector_results: 20
  min_relevance_threshold: 0.1
reflection:
  enabled: false
  min_episode_turns: 4
  max_facts_per_episode: 3
  min_confidence: 0.8
  consolidation_similarity_threshold: 0.3
  dedup_similarity_threshold: 0.9
cache:
  enabled: true
  max_turns: 100
  max_episodes: 10
  max_embeddings: 100
  max_facts: 50
  ttl_seconds: 30
max_content_length: 5000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.False(t, config.AutoDetectMarkers)
	require.Equal(t, 10, config.EpisodeBoundary.MaxTurns)
	require.Equal(t, 2000, config.Recall.DefaultTokenBudget)
	require.False(t, config.Reflection.Enabled)
	require.True(t, config.Cache.Enabled)
	require.Equal(t, 5000, config.MaxContentLength)

	// Marker weights absent from the file fall back to defaults.
	require.InDelta(t, 0.3, config.MarkerWeight("decision"), 1e-9)
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_content_length": 1234}`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 1234, config.MaxContentLength)
	// Unspecified sections keep their defaults.
	require.Equal(t, 6, config.EpisodeBoundary.MaxTurns)
}

func TestLoadConfigRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engram.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
