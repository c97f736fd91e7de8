package rpc

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 64

// Broadcaster fans notifications out to multiple subscribers. Subscribers
// only receive events published after they subscribe; there is no replay.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *Notification
	logger *slog.Logger
	closed bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[int]chan *Notification),
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan *Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Notification, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a notification to all current subscribers. Slow
// subscribers with a full buffer drop the event rather than block the
// channel read loop.
func (b *Broadcaster) Publish(n *Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warn("notification subscriber full, dropping", "subscriber", id, "method", n.Method)
		}
	}
}

// Close terminates all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
