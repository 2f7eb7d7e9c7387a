package engram

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// EpisodeBoundaryConfig controls automatic episode boundary detection.
type EpisodeBoundaryConfig struct {
	// MaxTurns closes an episode after this many turns.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`

	// MaxTimeGapSeconds closes an episode when the gap between consecutive
	// turns exceeds this many seconds.
	MaxTimeGapSeconds int `yaml:"max_time_gap_seconds" json:"max_time_gap_seconds"`

	// CloseOnToolResult closes an episode after a tool-role turn.
	CloseOnToolResult bool `yaml:"close_on_tool_result" json:"close_on_tool_result"`

	// ClosePatterns are regexes that trigger closure when they match turn
	// content.
	ClosePatterns []string `yaml:"close_on_patterns,omitempty" json:"close_on_patterns,omitempty"`

	compiledPatterns []*regexp.Regexp
}

// ShouldCloseOnContent reports whether content matches any closure pattern.
func (c *EpisodeBoundaryConfig) ShouldCloseOnContent(content string) bool {
	for _, p := range c.compiledPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// RecallConfig controls recall behavior.
type RecallConfig struct {
	// DefaultTokenBudget is used when a recall call does not specify one.
	DefaultTokenBudget int `yaml:"default_token_budget" json:"default_token_budget"`

	// CurrentEpisodeBudgetPct is the fraction of the budget reserved for
	// current-episode turns, in [0, 1].
	CurrentEpisodeBudgetPct float64 `yaml:"current_episode_budget_pct" json:"current_episode_budget_pct"`

	// MaxVectorResults caps the number of vector-search candidates.
	MaxVectorResults int `yaml:"max_vector_results" json:"max_vector_results"`

	// MinRelevanceThreshold filters vector candidates below this score.
	MinRelevanceThreshold float64 `yaml:"min_relevance_threshold" json:"min_relevance_threshold"`
}

// ReflectionConfig controls L2 fact extraction.
type ReflectionConfig struct {
	// Enabled toggles reflection entirely.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MinEpisodeTurns is the minimum accumulated turns required before the
	// reflector is invoked; shorter episodes are carried forward.
	MinEpisodeTurns int `yaml:"min_episode_turns" json:"min_episode_turns"`

	// MaxFactsPerEpisode caps facts saved per reflection.
	MaxFactsPerEpisode int `yaml:"max_facts_per_episode" json:"max_facts_per_episode"`

	// MinConfidence drops candidate facts below this confidence.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`

	// ConsolidationSimilarityThreshold scopes prior facts by cosine
	// similarity to the closing episode before consolidation.
	ConsolidationSimilarityThreshold float64 `yaml:"consolidation_similarity_threshold" json:"consolidation_similarity_threshold"`

	// DedupSimilarityThreshold skips ADD actions whose content is this
	// similar to an existing fact. Values >= 1.0 disable dedup.
	DedupSimilarityThreshold float64 `yaml:"dedup_similarity_threshold" json:"dedup_similarity_threshold"`
}

// CacheConfig controls the per-session read-through LRU cache that sits
// between the pipelines and the storage backend.
type CacheConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MaxTurns      int  `yaml:"max_turns" json:"max_turns"`
	MaxEpisodes   int  `yaml:"max_episodes" json:"max_episodes"`
	MaxEmbeddings int  `yaml:"max_embeddings" json:"max_embeddings"`
	MaxFacts      int  `yaml:"max_facts" json:"max_facts"`

	// TTLSeconds expires cache entries after this many seconds (0 = never).
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// Config is the complete configuration for a session's memory behavior.
// Construct with DefaultConfig and adjust fields, or load from a file with
// LoadConfig. Validate must pass before use.
type Config struct {
	// AutoDetectMarkers enables pattern-based marker detection on ingested
	// content when the caller passes no explicit markers.
	AutoDetectMarkers bool `yaml:"auto_detect_markers" json:"auto_detect_markers"`

	// MarkerWeights maps marker values to scoring boosts. Missing built-in
	// markers are filled in from the defaults during validation.
	MarkerWeights map[string]float64 `yaml:"marker_weights,omitempty" json:"marker_weights,omitempty"`

	EpisodeBoundary EpisodeBoundaryConfig `yaml:"episode_boundary" json:"episode_boundary"`
	Recall          RecallConfig          `yaml:"recall" json:"recall"`
	Reflection      ReflectionConfig      `yaml:"reflection" json:"reflection"`
	Cache           CacheConfig           `yaml:"cache" json:"cache"`

	// MaxContentLength bounds turn content in characters.
	MaxContentLength int `yaml:"max_content_length" json:"max_content_length"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AutoDetectMarkers: true,
		MarkerWeights:     copyWeights(DefaultMarkerWeights),
		EpisodeBoundary: EpisodeBoundaryConfig{
			MaxTurns:          6,
			MaxTimeGapSeconds: 1800,
			CloseOnToolResult: true,
		},
		Recall: RecallConfig{
			DefaultTokenBudget:      4000,
			CurrentEpisodeBudgetPct: 0.4,
			MaxVectorResults:        50,
			MinRelevanceThreshold:   0.0,
		},
		Reflection: ReflectionConfig{
			Enabled:                          true,
			MinEpisodeTurns:                  2,
			MaxFactsPerEpisode:               5,
			MinConfidence:                    0.7,
			ConsolidationSimilarityThreshold: 0.3,
			DedupSimilarityThreshold:         0.9,
		},
		Cache: CacheConfig{
			Enabled:       false,
			MaxTurns:      1000,
			MaxEpisodes:   100,
			MaxEmbeddings: 1000,
			MaxFacts:      500,
		},
		MaxContentLength: 100_000,
	}
}

// Validate checks all configuration values and compiles closure patterns.
// Missing built-in marker weights are filled in from the defaults.
func (c *Config) Validate() error {
	if c.MarkerWeights == nil {
		c.MarkerWeights = copyWeights(DefaultMarkerWeights)
	}
	for marker, weight := range DefaultMarkerWeights {
		if _, ok := c.MarkerWeights[marker]; !ok {
			c.MarkerWeights[marker] = weight
		}
	}
	for marker, weight := range c.MarkerWeights {
		if weight < 0 {
			return &ConfigurationError{
				Message: fmt.Sprintf("marker weight must be non-negative, got %v for %q", weight, marker),
			}
		}
	}

	if pct := c.Recall.CurrentEpisodeBudgetPct; pct < 0 || pct > 1 {
		return &ConfigurationError{
			Message: fmt.Sprintf("current_episode_budget_pct must be between 0 and 1, got %v", pct),
		}
	}
	if c.Recall.MaxVectorResults <= 0 {
		return &ConfigurationError{
			Message: fmt.Sprintf("max_vector_results must be positive, got %d", c.Recall.MaxVectorResults),
		}
	}
	if c.MaxContentLength <= 0 {
		return &ConfigurationError{
			Message: fmt.Sprintf("max_content_length must be positive, got %d", c.MaxContentLength),
		}
	}

	c.EpisodeBoundary.compiledPatterns = c.EpisodeBoundary.compiledPatterns[:0]
	for _, pattern := range c.EpisodeBoundary.ClosePatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return &ConfigurationError{
				Message: fmt.Sprintf("invalid close pattern %q: %v", pattern, err),
			}
		}
		c.EpisodeBoundary.compiledPatterns = append(c.EpisodeBoundary.compiledPatterns, compiled)
	}
	return nil
}

// MarkerWeight returns the configured weight for a marker, falling back to
// the custom default for unknown markers.
func (c *Config) MarkerWeight(marker string) float64 {
	if w, ok := c.MarkerWeights[marker]; ok {
		return w
	}
	return DefaultCustomMarkerWeight
}

// LoadConfig reads a configuration file. The extension selects the format
// (JSON or YAML). The returned config is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, err
		}
	case ".yml", ".yaml":
		if err := yaml.UnmarshalWithOptions(data, config, yaml.Strict()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func copyWeights(weights map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(weights))
	for k, v := range weights {
		cp[k] = v
	}
	return cp
}
