package engram

import (
	"fmt"
	"regexp"
	"strings"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionID checks that the session ID is non-empty and contains
// only alphanumerics, hyphens, and underscores. Returns the trimmed ID.
func ValidateSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", &ValidationError{Field: "session_id", Message: "session ID cannot be empty"}
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return "", &ValidationError{
			Field:   "session_id",
			Message: "session ID must be alphanumeric with hyphens/underscores only",
		}
	}
	return sessionID, nil
}

// ValidateRole coerces a role string to a Role.
func ValidateRole(role string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.IsValid() {
		return "", &ValidationError{
			Field:   "role",
			Message: fmt.Sprintf("invalid role %q: must be user, assistant, or tool", role),
		}
	}
	return r, nil
}

// ValidateContent trims content and checks that it is non-empty and within
// maxLength characters (0 = no length check). Returns the trimmed content.
func ValidateContent(content string, maxLength int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &ValidationError{Field: "content", Message: "content cannot be empty"}
	}
	if maxLength > 0 && len(content) > maxLength {
		return "", &ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds maximum length of %d", maxLength),
		}
	}
	return content, nil
}

// ValidateMarkers checks that every marker is either a built-in MarkerType
// value or a named custom marker ("custom:<name>").
func ValidateMarkers(markers []string) ([]string, error) {
	if len(markers) == 0 {
		return nil, nil
	}
	validated := make([]string, 0, len(markers))
	for _, marker := range markers {
		switch {
		case MarkerType(marker) == MarkerDecision,
			MarkerType(marker) == MarkerConstraint,
			MarkerType(marker) == MarkerFailure,
			MarkerType(marker) == MarkerGoal:
			validated = append(validated, marker)
		case IsCustomMarker(marker):
			if len(marker) <= len(CustomMarkerPrefix) {
				return nil, &ValidationError{
					Field:   "markers",
					Message: fmt.Sprintf("custom marker must have a name after %q: %s", CustomMarkerPrefix, marker),
				}
			}
			validated = append(validated, marker)
		default:
			return nil, &ValidationError{
				Field:   "markers",
				Message: fmt.Sprintf("invalid marker %q: must be a marker type or %q", marker, CustomMarkerPrefix+"*"),
			}
		}
	}
	return validated, nil
}

// ValidateTokenBudget checks that a token budget is positive.
func ValidateTokenBudget(budget int) (int, error) {
	if budget <= 0 {
		return 0, &ValidationError{
			Field:   "token_budget",
			Message: fmt.Sprintf("token budget must be positive, got %d", budget),
		}
	}
	return budget, nil
}

// ValidateRelevanceThreshold checks that a relevance threshold is in [0, 1].
func ValidateRelevanceThreshold(threshold float64) (float64, error) {
	if threshold < 0 || threshold > 1 {
		return 0, &ValidationError{
			Field:   "min_relevance",
			Message: fmt.Sprintf("relevance threshold must be between 0 and 1, got %v", threshold),
		}
	}
	return threshold, nil
}
