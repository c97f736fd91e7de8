// Package conversations provides durable conversation and message
// persistence with rolling summarization of old history.
package conversations

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// Store is the interface for conversation persistence.
type Store interface {
	// Conversation CRUD
	CreateConversation(ctx context.Context, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Conversation, error)
	ListConversations(ctx context.Context, includeArchived bool) ([]*models.Conversation, error)
	SetTitle(ctx context.Context, id int64, title string) error
	SetArchived(ctx context.Context, id int64, archived bool) error

	// Message history. AddMessage computes the token estimate, persists
	// attachments and tool calls, and bumps the conversation's UpdatedAt.
	AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, attachments []models.Attachment, toolCalls []models.ToolCall) (*models.Message, error)
	GetMessages(ctx context.Context, conversationID int64) ([]*models.Message, error)
	MessagesAfter(ctx context.Context, conversationID, afterID int64) ([]*models.Message, error)
	CountMessages(ctx context.Context, conversationID int64) (int, error)

	// Summarization bookkeeping.
	SetSummary(ctx context.Context, conversationID int64, summary string, upToID int64) error

	// Tool call results arrive asynchronously after the message persists.
	UpdateToolCall(ctx context.Context, toolCallID string, status models.ToolCallStatus, output json.RawMessage, durationMs int64) error
}

// ActiveConversation is the bounded view sent to the reasoning engine:
// the rolling summary plus only the messages newer than the fold point.
type ActiveConversation struct {
	Conversation *models.Conversation
	Summary      string
	Messages     []*models.Message
}

// LoadActive loads a conversation for active use. Messages already folded
// into the summary are not returned.
func LoadActive(ctx context.Context, store Store, conversationID int64) (*ActiveConversation, error) {
	conv, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := store.MessagesAfter(ctx, conversationID, conv.SummarizedUpToID)
	if err != nil {
		return nil, err
	}
	return &ActiveConversation{
		Conversation: conv,
		Summary:      conv.Summary,
		Messages:     messages,
	}, nil
}
