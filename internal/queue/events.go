// Package queue persists queries submitted while the engine channel is
// unavailable and replays them in creation order once connectivity returns.
package queue

import (
	"log/slog"
	"sync"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// EventKind identifies a queue progress event.
type EventKind string

const (
	EventMessageQueued     EventKind = "messageQueued"
	EventProcessingStarted EventKind = "processingStarted"
	EventMessageSent       EventKind = "messageSent"
	EventProcessingPaused  EventKind = "processingPaused"
	EventQueueEmpty        EventKind = "queueEmpty"
)

// Event is one progress update, consumed by the UI for status banners.
type Event struct {
	Kind  EventKind
	Query *models.PendingQuery
	Error string
}

const eventBuffer = 64

// Emitter fans queue events out to subscribers. Slow subscribers drop
// events rather than stall replay.
type Emitter struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	logger *slog.Logger
}

// NewEmitter creates an event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		subs:   make(map[int]chan Event),
		logger: logger.With("component", "queue"),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	ch := make(chan Event, eventBuffer)
	e.subs[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers an event to every current subscriber.
func (e *Emitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, sub := range e.subs {
		select {
		case sub <- event:
		default:
			e.logger.Warn("dropping queue event for slow subscriber",
				"subscriber", id, "kind", event.Kind)
		}
	}
}
