package repository

import "time"

// Entity types recorded in the audit log.
const (
	EntityExpense = "expense"
	EntityOrder   = "order"
)

// Audit actions.
const (
	ActionSubmitted   = "submitted"
	ActionApproved    = "approved"
	ActionRejected    = "rejected"
	ActionPicked      = "picked"
	ActionCancelled   = "cancelled"
	ActionDeleted     = "deleted"
	ActionCreated     = "created"
	ActionLineAdded   = "line_added"
	ActionLineUpdated = "line_updated"
	ActionLineRemoved = "line_removed"
)

// AuditEntry is one immutable record in the workflow audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Action       string         `json:"action"`
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// StatusCounts is the number of requests per derived status.
type StatusCounts map[string]int
