package models

import "time"

// PendingQueryStatus is the lifecycle state of a queued offline query.
type PendingQueryStatus string

const (
	PendingQueryPending    PendingQueryStatus = "pending"
	PendingQueryProcessing PendingQueryStatus = "processing"
	PendingQueryCompleted  PendingQueryStatus = "completed"
	PendingQueryFailed     PendingQueryStatus = "failed"
)

// PendingQuery is a unit of work queued while the engine channel is
// unavailable. Queries replay in CreatedAt order once connectivity returns.
type PendingQuery struct {
	ID              int64              `json:"id"`
	ConversationID  int64              `json:"conversation_id,omitempty"`
	Query           string             `json:"query"`
	AttachmentPaths []string           `json:"attachment_paths,omitempty"`
	Status          PendingQueryStatus `json:"status"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}
