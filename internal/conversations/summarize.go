package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// SummarizeConfig configures the rolling summarization policy.
type SummarizeConfig struct {
	// Threshold is the message count at which summarization kicks in.
	Threshold int `yaml:"threshold"`

	// KeepRecent is how many of the newest messages stay out of the
	// summary so the active window keeps verbatim context.
	KeepRecent int `yaml:"keep_recent"`

	// MinNewMessages is how many messages must accumulate past the last
	// fold point before re-summarizing an already-summarized conversation.
	MinNewMessages int `yaml:"min_new_messages"`
}

// DefaultSummarizeConfig returns the default summarization policy.
func DefaultSummarizeConfig() SummarizeConfig {
	return SummarizeConfig{
		Threshold:      50,
		KeepRecent:     20,
		MinNewMessages: 30,
	}
}

// SummaryProvider generates a summary from a conversation digest. The
// production implementation sends an internal request to the reasoning
// engine that bypasses cost-limit checks.
type SummaryProvider interface {
	Summarize(ctx context.Context, digest string) (string, error)
}

// SummaryNotifier is told about a newly persisted fold point so the engine
// side of the session can advance with it.
type SummaryNotifier interface {
	SetSummary(ctx context.Context, conv *models.Conversation, summary string, upToID int64) error
}

// Summarizer compresses old conversation history into a rolling summary.
// Summarization is a background optimization: failures are logged and
// swallowed, and message persistence never waits on it.
type Summarizer struct {
	store    Store
	provider SummaryProvider
	config   SummarizeConfig
	notifier SummaryNotifier
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewSummarizer creates a summarizer.
func NewSummarizer(store Store, provider SummaryProvider, config SummarizeConfig, logger *slog.Logger) *Summarizer {
	if config.Threshold <= 0 {
		config.Threshold = DefaultSummarizeConfig().Threshold
	}
	if config.KeepRecent <= 0 {
		config.KeepRecent = DefaultSummarizeConfig().KeepRecent
	}
	if config.MinNewMessages <= 0 {
		config.MinNewMessages = DefaultSummarizeConfig().MinNewMessages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		store:    store,
		provider: provider,
		config:   config,
		logger:   logger.With("component", "summarizer"),
	}
}

// CheckAsync triggers a summarization check in the background. Callers
// return immediately; Wait blocks until in-flight checks finish (tests and
// shutdown).
func (s *Summarizer) CheckAsync(ctx context.Context, conversationID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Check(ctx, conversationID); err != nil {
			s.logger.Warn("summarization failed", "conversation_id", conversationID, "error", err)
		}
	}()
}

// SetNotifier wires the fold-point notifier after construction. The
// notifier is typically the delta synchronizer, which is built after the
// summarizer because it also consumes the store.
func (s *Summarizer) SetNotifier(n SummaryNotifier) {
	s.notifier = n
}

// Wait blocks until all background summarization checks complete.
func (s *Summarizer) Wait() {
	s.wg.Wait()
}

// Check summarizes the conversation if the policy calls for it.
func (s *Summarizer) Check(ctx context.Context, conversationID int64) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	count, err := s.store.CountMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if !s.shouldSummarize(ctx, conv, count) {
		return nil
	}

	messages, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(messages) <= s.config.KeepRecent {
		return nil
	}

	toFold := messages[:len(messages)-s.config.KeepRecent]
	digest := BuildDigest(conv.Summary, toFold)

	summary, err := s.provider.Summarize(ctx, digest)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		// An empty response leaves the fold point untouched.
		return nil
	}

	upToID := toFold[len(toFold)-1].ID
	if err := s.store.SetSummary(ctx, conversationID, summary, upToID); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}
	if s.notifier != nil {
		// A failed delivery is the notifier's to repair on its next send.
		if err := s.notifier.SetSummary(ctx, conv, summary, upToID); err != nil {
			s.logger.Warn("summary delta failed", "conversation_id", conversationID, "error", err)
		}
	}
	s.logger.Info("conversation summarized",
		"conversation_id", conversationID, "folded", len(toFold), "up_to_id", upToID)
	return nil
}

// shouldSummarize applies the trigger policy: total count at the threshold,
// and either never summarized or enough new messages past the fold point.
func (s *Summarizer) shouldSummarize(ctx context.Context, conv *models.Conversation, count int) bool {
	if count < s.config.Threshold {
		return false
	}
	if conv.SummarizedUpToID == 0 {
		return true
	}
	newer, err := s.store.MessagesAfter(ctx, conv.ID, conv.SummarizedUpToID)
	if err != nil {
		s.logger.Warn("counting new messages failed", "conversation_id", conv.ID, "error", err)
		return false
	}
	return len(newer) >= s.config.MinNewMessages
}

// BuildDigest renders messages (prefixed by any prior summary) into the
// textual digest sent to the engine for summarization.
func BuildDigest(priorSummary string, messages []*models.Message) string {
	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	for _, msg := range messages {
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}
