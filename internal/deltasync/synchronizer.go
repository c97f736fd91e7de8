package deltasync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexandertaboriskiy/navixmind/internal/conversations"
	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// Sender delivers a delta action to the reasoning engine.
type Sender interface {
	ApplyDelta(ctx context.Context, action any) error
}

// convState tracks per-conversation delivery state. The mutex serializes
// sends so deltas reach the engine in local mutation order.
type convState struct {
	mu    sync.Mutex
	seq   uint64
	dirty bool // incremental deltas can no longer be trusted
}

// Synchronizer translates local conversation mutations into deltas. When an
// incremental delta fails to deliver, the conversation is marked dirty and
// repaired with a full resync before the next delta goes out.
type Synchronizer struct {
	store  conversations.Store
	sender Sender
	logger *slog.Logger

	mu     sync.Mutex
	states map[int64]*convState
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(store conversations.Store, sender Sender, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:  store,
		sender: sender,
		logger: logger.With("component", "deltasync"),
		states: make(map[int64]*convState),
	}
}

func (s *Synchronizer) state(conversationID int64) *convState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	if !ok {
		st = &convState{}
		s.states[conversationID] = st
	}
	return st
}

// NewConversation announces a freshly created conversation.
func (s *Synchronizer) NewConversation(ctx context.Context, conv *models.Conversation) error {
	return s.send(ctx, conv.ID, Delta{
		Action:           ActionNewConversation,
		ConversationUUID: conv.UUID,
	})
}

// AddMessage announces a newly persisted message.
func (s *Synchronizer) AddMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	payload := PayloadFor(msg)
	return s.send(ctx, conv.ID, Delta{
		Action:           ActionAddMessage,
		ConversationUUID: conv.UUID,
		Message:          &payload,
	})
}

// SetSummary announces an advanced summarization fold point.
func (s *Synchronizer) SetSummary(ctx context.Context, conv *models.Conversation, summary string, upToID int64) error {
	return s.send(ctx, conv.ID, Delta{
		Action:           ActionSetSummary,
		ConversationUUID: conv.UUID,
		Summary:          summary,
		SummarizedUpToID: upToID,
	})
}

// SyncFull retransmits the active window of a conversation. Reserved for
// cold start, engine restart, and repair after failed incremental delivery.
func (s *Synchronizer) SyncFull(ctx context.Context, conversationID int64) error {
	st := s.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.syncFullLocked(ctx, conversationID, st)
}

// syncFullLocked performs the full resync (must hold st.mu).
func (s *Synchronizer) syncFullLocked(ctx context.Context, conversationID int64, st *convState) error {
	active, err := conversations.LoadActive(ctx, s.store, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", conversationID, err)
	}

	payloads := make([]MessagePayload, 0, len(active.Messages))
	for _, msg := range active.Messages {
		payloads = append(payloads, PayloadFor(msg))
	}

	st.seq++
	delta := Delta{
		Action:           ActionSyncFull,
		Seq:              st.seq,
		ConversationUUID: active.Conversation.UUID,
		Summary:          active.Summary,
		SummarizedUpToID: active.Conversation.SummarizedUpToID,
		Messages:         payloads,
	}
	if err := s.sender.ApplyDelta(ctx, delta); err != nil {
		st.dirty = true
		return fmt.Errorf("full resync for %d: %w", conversationID, err)
	}
	st.dirty = false
	return nil
}

// send delivers one incremental delta, repairing a dirty conversation with
// a full resync first. A failed incremental send is retried once as a full
// resync before giving up.
func (s *Synchronizer) send(ctx context.Context, conversationID int64, delta Delta) error {
	st := s.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.dirty {
		if err := s.syncFullLocked(ctx, conversationID, st); err != nil {
			return err
		}
	}

	st.seq++
	delta.Seq = st.seq
	if err := s.sender.ApplyDelta(ctx, delta); err != nil {
		s.logger.Warn("incremental delta failed, falling back to full resync",
			"conversation_id", conversationID, "action", delta.Action, "error", err)
		st.dirty = true
		return s.syncFullLocked(ctx, conversationID, st)
	}
	return nil
}
