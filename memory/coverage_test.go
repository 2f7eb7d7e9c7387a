package memory

import (
	"testing"

	"github.com/deepnoodle-ai/engram"
	"github.com/stretchr/testify/require"
)

func TestExtractKeywords(t *testing.T) {
	keywords := extractKeywords("The database MUST be SQLite, not Postgres!")
	require.Contains(t, keywords, "database")
	require.Contains(t, keywords, "sqlite")
	require.Contains(t, keywords, "postgres")
	require.NotContains(t, keywords, "the") // stop word
	require.NotContains(t, keywords, "not") // stop word
	require.NotContains(t, keywords, "be")  // too short
}

func TestValidateCoverageByReference(t *testing.T) {
	facts := []*engram.Fact{{ID: "fact_1", Content: "using sqlite"}}
	actions := []*engram.ConsolidationAction{
		{Action: engram.ActionKeep, Content: "irrelevant text", SourceFactID: "fact_1"},
	}
	require.Empty(t, validateCoverage(facts, actions))
}

func TestValidateCoverageByKeywordOverlap(t *testing.T) {
	facts := []*engram.Fact{{ID: "fact_1", Content: "deployment target raspberry"}}
	actions := []*engram.ConsolidationAction{
		{Action: engram.ActionAdd, Content: "the deployment target remains the raspberry device"},
	}
	require.Empty(t, validateCoverage(facts, actions))
}

func TestValidateCoverageWarnsOnUncoveredFact(t *testing.T) {
	facts := []*engram.Fact{
		{ID: "fact_1", Content: "billing quota capped monthly"},
		{ID: "fact_2", Content: "referenced directly"},
	}
	actions := []*engram.ConsolidationAction{
		{Action: engram.ActionKeep, Content: "something else", SourceFactID: "fact_2"},
	}
	warnings := validateCoverage(facts, actions)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "fact_1")
}

func TestValidateCoverageNoPriorFacts(t *testing.T) {
	require.Empty(t, validateCoverage(nil, []*engram.ConsolidationAction{
		{Action: engram.ActionAdd, Content: "anything"},
	}))
}
