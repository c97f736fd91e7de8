package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// ErrNotFound is returned when a pending query does not exist.
var ErrNotFound = errors.New("pending query not found")

// Store persists pending queries across restarts.
type Store interface {
	// Enqueue persists a query and assigns its ID.
	Enqueue(ctx context.Context, query *models.PendingQuery) error

	// Get returns one query by ID.
	Get(ctx context.Context, id int64) (*models.PendingQuery, error)

	// List returns all queries in creation order.
	List(ctx context.Context) ([]*models.PendingQuery, error)

	// ListPending returns queries in pending state, in creation order.
	ListPending(ctx context.Context) ([]*models.PendingQuery, error)

	// SetStatus updates a query's status and error text.
	SetStatus(ctx context.Context, id int64, status models.PendingQueryStatus, errMsg string) error

	// Delete removes a query.
	Delete(ctx context.Context, id int64) error

	// CountActive returns the number of queries still pending or processing.
	CountActive(ctx context.Context) (int, error)
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	queries map[int64]*models.PendingQuery

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		queries: make(map[int64]*models.PendingQuery),
		now:     time.Now,
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, query *models.PendingQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	query.ID = s.nextID
	s.nextID++
	if query.Status == "" {
		query.Status = models.PendingQueryPending
	}
	if query.CreatedAt.IsZero() {
		query.CreatedAt = s.now()
	}
	stored := *query
	s.queries[query.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.PendingQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	query, ok := s.queries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *query
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.PendingQuery, error) {
	return s.list(nil), nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*models.PendingQuery, error) {
	pending := models.PendingQueryPending
	return s.list(&pending), nil
}

func (s *MemoryStore) list(status *models.PendingQueryStatus) []*models.PendingQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PendingQuery, 0, len(s.queries))
	for _, query := range s.queries {
		if status != nil && query.Status != *status {
			continue
		}
		copied := *query
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) SetStatus(ctx context.Context, id int64, status models.PendingQueryStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	query, ok := s.queries[id]
	if !ok {
		return ErrNotFound
	}
	query.Status = status
	query.Error = errMsg
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[id]; !ok {
		return ErrNotFound
	}
	delete(s.queries, id)
	return nil
}

func (s *MemoryStore) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, query := range s.queries {
		if query.Status == models.PendingQueryPending || query.Status == models.PendingQueryProcessing {
			count++
		}
	}
	return count, nil
}
