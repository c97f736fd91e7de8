package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record is one usage entry per model invocation. Date is truncated to day
// granularity so daily and monthly aggregation are simple range sums.
type Record struct {
	ID               int64     `json:"id"`
	Model            string    `json:"model"`
	InputTokens      int64     `json:"input_tokens"`
	OutputTokens     int64     `json:"output_tokens"`
	Date             time.Time `json:"date"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
}

// Store is the interface for usage persistence.
type Store interface {
	// Append persists a record and fills in its ID.
	Append(ctx context.Context, rec *Record) error

	// SumCost returns the total estimated cost for records with
	// from <= date < to.
	SumCost(ctx context.Context, from, to time.Time) (float64, error)

	// List returns all records ordered by date ascending.
	List(ctx context.Context) ([]Record, error)
}

// DayOf truncates a time to day granularity in its own location.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []Record
}

// NewMemoryStore creates a new in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) SumCost(ctx context.Context, from, to time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, r := range s.records {
		if !r.Date.Before(from) && r.Date.Before(to) {
			total += r.EstimatedCostUSD
		}
	}
	return total, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
