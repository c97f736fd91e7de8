package conversations

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu            sync.RWMutex
	nextConvID    int64
	nextMessageID int64
	nextAttachID  int64
	conversations map[int64]*models.Conversation
	messages      map[int64][]*models.Message // keyed by conversation id
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextConvID:    1,
		nextMessageID: 1,
		nextAttachID:  1,
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[int64][]*models.Message),
		now:           time.Now,
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := &models.Conversation{
		ID:        s.nextConvID,
		UUID:      uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextConvID++
	s.conversations[conv.ID] = conv
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetByUUID(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conv := range s.conversations {
		if conv.UUID == id {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListConversations(ctx context.Context, includeArchived bool) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, conv := range s.conversations {
		if conv.Archived && !includeArchived {
			continue
		}
		copied := *conv
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) SetTitle(ctx context.Context, id int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetArchived(ctx context.Context, id int64, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Archived = archived
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, conversationID int64, role models.Role, content string, attachments []models.Attachment, toolCalls []models.ToolCall) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	now := s.now()
	msg := &models.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		TokenCount:     models.EstimateTokens(content),
		CreatedAt:      now,
	}
	s.nextMessageID++

	for _, att := range attachments {
		att.ID = s.nextAttachID
		s.nextAttachID++
		msg.Attachments = append(msg.Attachments, att)
	}
	for _, tc := range toolCalls {
		if tc.Status == "" {
			tc.Status = models.ToolCallPending
		}
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}

	s.messages[conversationID] = append(s.messages[conversationID], msg)
	conv.UpdatedAt = now

	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) GetMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	return s.MessagesAfter(ctx, conversationID, 0)
}

func (s *MemoryStore) MessagesAfter(ctx context.Context, conversationID, afterID int64) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	var out []*models.Message
	for _, msg := range s.messages[conversationID] {
		if msg.ID > afterID {
			copied := *msg
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return 0, ErrNotFound
	}
	return len(s.messages[conversationID]), nil
}

func (s *MemoryStore) SetSummary(ctx context.Context, conversationID int64, summary string, upToID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Summary = summary
	conv.SummarizedUpToID = upToID
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateToolCall(ctx context.Context, toolCallID string, status models.ToolCallStatus, output json.RawMessage, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msgs := range s.messages {
		for _, msg := range msgs {
			for i := range msg.ToolCalls {
				if msg.ToolCalls[i].ID == toolCallID {
					if err := msg.ToolCalls[i].Transition(status); err != nil {
						return err
					}
					msg.ToolCalls[i].Output = output
					msg.ToolCalls[i].DurationMs = durationMs
					return nil
				}
			}
		}
	}
	return ErrNotFound
}
