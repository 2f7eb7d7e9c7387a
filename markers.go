package engram

import "regexp"

// Marker auto-detection patterns. A marker phrase must appear at the start of
// the content or after a newline (with optional leading whitespace) and end
// with a colon.
var markerPatterns = map[MarkerType]*regexp.Regexp{
	MarkerDecision:   regexp.MustCompile(`(?i)(?:^|\n)\s*(?:decision|decided|choosing|selected|chose|picked|going with):`),
	MarkerConstraint: regexp.MustCompile(`(?i)(?:^|\n)\s*(?:constraint|requirement|must|cannot|can't|won't|budget|limit|restriction):`),
	MarkerFailure:    regexp.MustCompile(`(?i)(?:^|\n)\s*(?:failed|error|didn't work|didn't succeed|tried but|couldn't|could not):`),
	MarkerGoal:       regexp.MustCompile(`(?i)(?:^|\n)\s*(?:goal|objective|task|need to|want to|trying to|aim):`),
}

// markerDetectionOrder fixes the order in which detected markers appear.
var markerDetectionOrder = []MarkerType{
	MarkerDecision,
	MarkerConstraint,
	MarkerFailure,
	MarkerGoal,
}

// DetectMarkers scans turn content for built-in marker phrases and returns
// the matching marker values, deduplicated, in detection order.
func DetectMarkers(content string) []string {
	var detected []string
	for _, mt := range markerDetectionOrder {
		if markerPatterns[mt].MatchString(content) {
			detected = append(detected, string(mt))
		}
	}
	return detected
}

// MergeMarkers combines explicit markers with auto-detected ones. Explicit
// markers take precedence: when any are provided, detected markers are
// ignored entirely. The result is deduplicated preserving first-seen order.
func MergeMarkers(explicit, detected []string) []string {
	if len(explicit) > 0 {
		return dedupeMarkers(explicit)
	}
	return dedupeMarkers(detected)
}

func dedupeMarkers(markers []string) []string {
	if len(markers) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(markers))
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// MarkerBoost sums the configured weight of each marker. Unknown markers,
// including custom:* markers without an explicit weight, use
// DefaultCustomMarkerWeight. A nil weights map falls back to the defaults.
func MarkerBoost(markers []string, weights map[string]float64) float64 {
	if len(markers) == 0 {
		return 0
	}
	if weights == nil {
		weights = DefaultMarkerWeights
	}
	var total float64
	for _, m := range markers {
		if w, ok := weights[m]; ok {
			total += w
		} else {
			total += DefaultCustomMarkerWeight
		}
	}
	return total
}
