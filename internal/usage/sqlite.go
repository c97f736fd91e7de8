package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteStore implements Store on the shared SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a usage store backed by an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (model, input_tokens, output_tokens, date, estimated_cost_usd)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Model, rec.InputTokens, rec.OutputTokens, rec.Date, rec.EstimatedCostUSD,
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("usage record id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) SumCost(ctx context.Context, from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(estimated_cost_usd) FROM api_usage WHERE date >= ? AND date < ?`,
		from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage cost: %w", err)
	}
	return total.Float64, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, input_tokens, output_tokens, date, estimated_cost_usd
		 FROM api_usage ORDER BY date ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Model, &r.InputTokens, &r.OutputTokens, &r.Date, &r.EstimatedCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
