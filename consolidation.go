package engram

// ConsolidationActionType is what a consolidating reflector decided to do
// with a fact.
type ConsolidationActionType string

const (
	ActionKeep   ConsolidationActionType = "keep"
	ActionUpdate ConsolidationActionType = "update"
	ActionAdd    ConsolidationActionType = "add"
	ActionRemove ConsolidationActionType = "remove"
)

// ConsolidationAction is a single instruction returned by a consolidating
// reflector. Keep, update, and remove reference a prior fact via
// SourceFactID; add introduces a new fact.
type ConsolidationAction struct {
	Action ConsolidationActionType `json:"action"`

	// Content is the fact text: original for keep/remove, revised for
	// update, new for add.
	Content string `json:"content"`

	// FactType maps to a MarkerType value.
	FactType string `json:"fact_type,omitempty"`

	// Confidence is the reflector's score in [0, 1].
	Confidence float64 `json:"confidence"`

	// SourceFactID references the prior fact this action applies to.
	// Empty for add.
	SourceFactID string `json:"source_fact_id,omitempty"`

	// Reason explains update/remove decisions.
	Reason string `json:"reason,omitempty"`
}
