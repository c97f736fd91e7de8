package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// fakeConnectivity is a settable online/offline signal.
type fakeConnectivity struct {
	mu     sync.Mutex
	online bool
}

func (c *fakeConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeConnectivity) set(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
}

// fakeDispatcher records dispatch order and can fail chosen queries or
// drop connectivity mid-dispatch.
type fakeDispatcher struct {
	mu          sync.Mutex
	dispatched  []string
	failQueries map[string]error
	dropConnOn  string
	conn        *fakeConnectivity
}

func (d *fakeDispatcher) DispatchQueued(ctx context.Context, query *models.PendingQuery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if query.Query == d.dropConnOn {
		d.conn.set(false)
		return errors.New("send failed: connection lost")
	}
	if err, ok := d.failQueries[query.Query]; ok {
		return err
	}
	d.dispatched = append(d.dispatched, query.Query)
	return nil
}

func (d *fakeDispatcher) order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dispatched))
	copy(out, d.dispatched)
	return out
}

func setupManager(t *testing.T) (*Manager, *MemoryStore, *fakeDispatcher, *fakeConnectivity, <-chan Event) {
	t.Helper()
	store := NewMemoryStore()
	conn := &fakeConnectivity{online: true}
	dispatcher := &fakeDispatcher{conn: conn, failQueries: make(map[string]error)}
	manager := NewManager(store, dispatcher, conn, nil, nil)
	events, cancel := manager.Events().Subscribe()
	t.Cleanup(cancel)
	return manager, store, dispatcher, conn, events
}

// drain collects the events emitted so far.
func drain(events <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestManager_EnqueuePersistsAndEmits(t *testing.T) {
	manager, store, _, _, events := setupManager(t)
	ctx := context.Background()

	queued, err := manager.Enqueue(ctx, 3, "hello", []string{"/tmp/pic.png"})
	if err != nil {
		t.Fatal(err)
	}
	if queued.Status != models.PendingQueryPending {
		t.Errorf("status = %s, want pending", queued.Status)
	}

	stored, err := store.Get(ctx, queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Query != "hello" || len(stored.AttachmentPaths) != 1 {
		t.Errorf("stored = %+v", stored)
	}

	got := drain(events)
	if len(got) != 1 || got[0].Kind != EventMessageQueued {
		t.Errorf("events = %v", kinds(got))
	}
}

func TestManager_ProcessQueueFIFO(t *testing.T) {
	manager, store, dispatcher, _, events := setupManager(t)
	ctx := context.Background()

	// Stagger CreatedAt so ordering is by creation time, not insertion luck.
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for _, q := range []string{"first", "second", "third"} {
		if _, err := manager.Enqueue(ctx, 0, q, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	order := dispatcher.order()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("dispatch order = %v", order)
	}

	// Completed queries are deleted.
	remaining, _ := store.List(ctx)
	if len(remaining) != 0 {
		t.Errorf("remaining = %+v, want none", remaining)
	}

	got := kinds(drain(events))
	want := []EventKind{
		EventMessageQueued, EventMessageQueued, EventMessageQueued,
		EventProcessingStarted, EventMessageSent,
		EventProcessingStarted, EventMessageSent,
		EventProcessingStarted, EventMessageSent,
		EventQueueEmpty,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManager_FailedItemDoesNotBlockQueue(t *testing.T) {
	manager, store, dispatcher, _, _ := setupManager(t)
	ctx := context.Background()

	if _, err := manager.Enqueue(ctx, 0, "first", nil); err != nil {
		t.Fatal(err)
	}
	bad, err := manager.Enqueue(ctx, 0, "second", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Enqueue(ctx, 0, "third", nil); err != nil {
		t.Fatal(err)
	}
	dispatcher.failQueries["second"] = errors.New("engine rejected query")

	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	order := dispatcher.order()
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Errorf("dispatch order = %v", order)
	}

	// The failed query stays, with its error, for inspection and retry.
	failed, err := store.Get(ctx, bad.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.PendingQueryFailed || failed.Error != "engine rejected query" {
		t.Errorf("failed query = %+v", failed)
	}
}

func TestManager_QueueEmptyEmittedExactlyOnce(t *testing.T) {
	manager, _, _, _, events := setupManager(t)
	ctx := context.Background()

	if _, err := manager.Enqueue(ctx, 0, "only", nil); err != nil {
		t.Fatal(err)
	}
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	// A redundant trigger on an already-empty queue stays silent.
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	empties := 0
	for _, e := range drain(events) {
		if e.Kind == EventQueueEmpty {
			empties++
		}
	}
	if empties != 1 {
		t.Fatalf("queueEmpty emitted %d times, want 1", empties)
	}

	// A fresh enqueue re-arms the event for the next drain.
	if _, err := manager.Enqueue(ctx, 0, "another", nil); err != nil {
		t.Fatal(err)
	}
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	for _, e := range drain(events) {
		if e.Kind == EventQueueEmpty {
			empties++
		}
	}
	if empties != 2 {
		t.Errorf("queueEmpty emitted %d times after second drain, want 2", empties)
	}
}

func TestManager_EmptyReplayStaysSilent(t *testing.T) {
	manager, _, _, _, events := setupManager(t)
	ctx := context.Background()

	// Periodic replay triggers on a queue that never held anything must
	// not announce a drain.
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	if got := drain(events); len(got) != 0 {
		t.Errorf("events = %v, want none", kinds(got))
	}
}

func TestManager_ConnectivityLossPausesNotFails(t *testing.T) {
	manager, store, dispatcher, conn, events := setupManager(t)
	ctx := context.Background()

	if _, err := manager.Enqueue(ctx, 0, "first", nil); err != nil {
		t.Fatal(err)
	}
	second, err := manager.Enqueue(ctx, 0, "second", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := manager.Enqueue(ctx, 0, "third", nil); err != nil {
		t.Fatal(err)
	}
	dispatcher.dropConnOn = "second"

	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	// The interrupted item is pending again, not failed.
	interrupted, err := store.Get(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if interrupted.Status != models.PendingQueryPending || interrupted.Error != "" {
		t.Errorf("interrupted query = %+v, want pending without error", interrupted)
	}

	got := kinds(drain(events))
	sawPause, sawEmpty := false, false
	for _, k := range got {
		if k == EventProcessingPaused {
			sawPause = true
		}
		if k == EventQueueEmpty {
			sawEmpty = true
		}
	}
	if !sawPause {
		t.Errorf("events = %v, want processingPaused", got)
	}
	if sawEmpty {
		t.Errorf("events = %v, queueEmpty must not fire while items remain", got)
	}

	// Next trigger after reconnecting drains the rest in order.
	conn.set(true)
	dispatcher.dropConnOn = ""
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	order := dispatcher.order()
	if len(order) != 3 || order[1] != "second" || order[2] != "third" {
		t.Errorf("dispatch order = %v", order)
	}
}

func TestManager_RetryReturnsFailedToPending(t *testing.T) {
	manager, store, dispatcher, _, _ := setupManager(t)
	ctx := context.Background()

	queued, err := manager.Enqueue(ctx, 0, "flaky", nil)
	if err != nil {
		t.Fatal(err)
	}
	dispatcher.failQueries["flaky"] = errors.New("transient")
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}

	if err := manager.Retry(ctx, queued.ID); err != nil {
		t.Fatal(err)
	}
	restored, _ := store.Get(ctx, queued.ID)
	if restored.Status != models.PendingQueryPending || restored.Error != "" {
		t.Errorf("after retry = %+v", restored)
	}

	// Only failed queries can be retried.
	if err := manager.Retry(ctx, queued.ID); err == nil {
		t.Error("retrying a pending query should fail")
	}

	delete(dispatcher.failQueries, "flaky")
	if err := manager.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, queued.ID); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound after successful replay", err)
	}
}
