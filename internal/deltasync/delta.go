// Package deltasync keeps the reasoning engine's session state in step with
// the local conversation store by sending small incremental deltas instead
// of full-state retransmission on every turn.
package deltasync

import (
	"time"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// Delta action names.
const (
	ActionNewConversation = "newConversation"
	ActionAddMessage      = "addMessage"
	ActionSetSummary      = "setSummary"
	ActionSyncFull        = "syncFull"
)

// Delta is one incremental state-change action. Seq is monotonic per
// conversation so the engine can detect out-of-order delivery.
type Delta struct {
	Action           string `json:"action"`
	Seq              uint64 `json:"seq"`
	ConversationUUID string `json:"conversation_uuid"`

	// addMessage
	Message *MessagePayload `json:"message,omitempty"`

	// setSummary
	Summary          string `json:"summary,omitempty"`
	SummarizedUpToID int64  `json:"summarized_up_to_id,omitempty"`

	// syncFull
	Messages []MessagePayload `json:"messages,omitempty"`
}

// MessagePayload is the wire form of a message inside a delta.
type MessagePayload struct {
	ID        int64       `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// PayloadFor converts a stored message to its wire form.
func PayloadFor(msg *models.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}
