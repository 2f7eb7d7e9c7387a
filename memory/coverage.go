package memory

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/engram"
)

// Coverage validation is advisory: after a consolidating reflector returns
// actions, every prior fact should be accounted for, either by an explicit
// source_fact_id reference or by keyword overlap with the action contents.
// Unmet coverage produces warnings, never failures — imperfect consolidation
// beats no consolidation.

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "been": {},
	"from": {}, "with": {}, "they": {}, "this": {}, "that": {}, "will": {},
	"would": {}, "there": {}, "their": {}, "what": {}, "about": {},
	"which": {}, "when": {}, "make": {}, "like": {}, "could": {},
	"into": {}, "than": {}, "its": {}, "over": {}, "such": {},
	"after": {}, "also": {}, "did": {}, "some": {}, "then": {},
	"them": {}, "each": {}, "does": {}, "how": {}, "may": {},
	"much": {}, "should": {}, "these": {}, "just": {}, "use": {},
	"used": {}, "using": {},
}

const punctuation = ".,;:!?\"'()[]{}"

// extractKeywords lowercases, strips surrounding punctuation, drops stop
// words, and keeps tokens of three or more characters.
func extractKeywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, punctuation)
		if len(word) < 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords[word] = struct{}{}
	}
	return keywords
}

// validateCoverage checks that every prior fact is covered by at least one
// action: either its ID is referenced as a source_fact_id, or at least half
// of its keywords appear across the action contents. Returns one warning per
// uncovered fact.
func validateCoverage(priorFacts []*engram.Fact, actions []*engram.ConsolidationAction) []string {
	if len(priorFacts) == 0 {
		return nil
	}

	referenced := make(map[string]struct{}, len(actions))
	actionKeywords := make(map[string]struct{})
	for _, action := range actions {
		if action.SourceFactID != "" {
			referenced[action.SourceFactID] = struct{}{}
		}
		for kw := range extractKeywords(action.Content) {
			actionKeywords[kw] = struct{}{}
		}
	}

	var warnings []string
	for _, fact := range priorFacts {
		if _, ok := referenced[fact.ID]; ok {
			continue
		}
		factKeywords := extractKeywords(fact.Content)
		if len(factKeywords) == 0 {
			continue
		}
		overlap := 0
		for kw := range factKeywords {
			if _, ok := actionKeywords[kw]; ok {
				overlap++
			}
		}
		ratio := float64(overlap) / float64(len(factKeywords))
		if ratio < 0.5 {
			warnings = append(warnings, fmt.Sprintf(
				"fact %s may not be covered by consolidation (keyword overlap %.0f%%): %s",
				fact.ID, ratio*100, truncate(fact.Content, 80)))
		}
	}
	return warnings
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
