package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// Connectivity reports whether the engine channel is reachable.
type Connectivity interface {
	Online() bool
}

// Dispatcher replays one queued query against the engine.
type Dispatcher interface {
	DispatchQueued(ctx context.Context, query *models.PendingQuery) error
}

// Manager owns the offline queue lifecycle: enqueue while disconnected,
// replay in creation order on a connectivity or resume trigger, and emit
// progress events for status banners.
type Manager struct {
	store        Store
	dispatcher   Dispatcher
	connectivity Connectivity
	events       *Emitter
	logger       *slog.Logger

	// processMu serializes replay runs; overlapping triggers coalesce.
	processMu sync.Mutex

	mu           sync.Mutex
	emptyEmitted bool
}

// NewManager creates a queue manager.
func NewManager(store Store, dispatcher Dispatcher, connectivity Connectivity, events *Emitter, logger *slog.Logger) *Manager {
	if events == nil {
		events = NewEmitter(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:        store,
		dispatcher:   dispatcher,
		connectivity: connectivity,
		events:       events,
		logger:       logger.With("component", "queue"),
	}
}

// Events exposes the progress event stream.
func (m *Manager) Events() *Emitter {
	return m.events
}

// Enqueue persists a query in pending state and returns immediately,
// without waiting for network.
func (m *Manager) Enqueue(ctx context.Context, conversationID int64, query string, attachmentPaths []string) (*models.PendingQuery, error) {
	pending := &models.PendingQuery{
		ConversationID:  conversationID,
		Query:           query,
		AttachmentPaths: attachmentPaths,
		Status:          models.PendingQueryPending,
	}
	if err := m.store.Enqueue(ctx, pending); err != nil {
		return nil, fmt.Errorf("enqueue query: %w", err)
	}

	m.mu.Lock()
	m.emptyEmitted = false
	m.mu.Unlock()

	m.logger.Info("query queued for offline replay", "id", pending.ID, "conversation_id", conversationID)
	m.events.Emit(Event{Kind: EventMessageQueued, Query: pending})
	return pending, nil
}

// Retry returns a failed query to pending so the next replay picks it up.
// Failed queries are never retried automatically.
func (m *Manager) Retry(ctx context.Context, id int64) error {
	query, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if query.Status != models.PendingQueryFailed {
		return fmt.Errorf("query %d is %s, only failed queries can be retried", id, query.Status)
	}
	if err := m.store.SetStatus(ctx, id, models.PendingQueryPending, ""); err != nil {
		return err
	}
	m.mu.Lock()
	m.emptyEmitted = false
	m.mu.Unlock()
	return nil
}

// List returns every queued query in creation order.
func (m *Manager) List(ctx context.Context) ([]*models.PendingQuery, error) {
	return m.store.List(ctx)
}

// ProcessQueue replays pending queries strictly in creation order. Called
// on connectivity change and app resume. A failed item does not block the
// items behind it; connectivity loss mid-replay pauses instead, leaving
// the remaining items pending for the next trigger.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	m.processMu.Lock()
	defer m.processMu.Unlock()

	items, err := m.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending queries: %w", err)
	}

	processed := 0
	for _, item := range items {
		if !m.connectivity.Online() {
			m.logger.Info("replay paused, connectivity lost", "remaining", item.ID)
			m.events.Emit(Event{Kind: EventProcessingPaused, Query: item})
			return nil
		}

		if err := m.store.SetStatus(ctx, item.ID, models.PendingQueryProcessing, ""); err != nil {
			return fmt.Errorf("mark query %d processing: %w", item.ID, err)
		}
		item.Status = models.PendingQueryProcessing
		m.events.Emit(Event{Kind: EventProcessingStarted, Query: item})

		if err := m.dispatcher.DispatchQueued(ctx, item); err != nil {
			if !m.connectivity.Online() {
				// Not the item's fault; put it back for the next trigger.
				if serr := m.store.SetStatus(ctx, item.ID, models.PendingQueryPending, ""); serr != nil {
					return fmt.Errorf("restore query %d to pending: %w", item.ID, serr)
				}
				m.events.Emit(Event{Kind: EventProcessingPaused, Query: item})
				return nil
			}
			m.logger.Warn("queued query failed", "id", item.ID, "error", err)
			if serr := m.store.SetStatus(ctx, item.ID, models.PendingQueryFailed, err.Error()); serr != nil {
				return fmt.Errorf("mark query %d failed: %w", item.ID, serr)
			}
			processed++
			continue
		}

		// Completed queries are not retained.
		if err := m.store.Delete(ctx, item.ID); err != nil {
			return fmt.Errorf("remove completed query %d: %w", item.ID, err)
		}
		m.events.Emit(Event{Kind: EventMessageSent, Query: item})
		processed++
	}

	// queueEmpty marks a drain finishing, not a queue that was never
	// populated; a replay that touched nothing emits nothing.
	if processed == 0 {
		return nil
	}

	active, err := m.store.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("count active queries: %w", err)
	}
	if active == 0 {
		m.mu.Lock()
		emit := !m.emptyEmitted
		m.emptyEmitted = true
		m.mu.Unlock()
		if emit {
			m.events.Emit(Event{Kind: EventQueueEmpty})
		}
	}
	return nil
}
