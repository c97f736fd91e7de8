package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// SQLiteStore persists pending queries in the shared SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a store over an opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

const pendingColumns = "id, conversation_id, query, attachment_paths, status, error, created_at"

func (s *SQLiteStore) Enqueue(ctx context.Context, query *models.PendingQuery) error {
	if query.Status == "" {
		query.Status = models.PendingQueryPending
	}
	if query.CreatedAt.IsZero() {
		query.CreatedAt = s.now()
	}
	paths, err := json.Marshal(query.AttachmentPaths)
	if err != nil {
		return fmt.Errorf("marshal attachment paths: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_queries (conversation_id, query, attachment_paths, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		query.ConversationID, query.Query, string(paths), query.Status, query.Error, query.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue pending query: %w", err)
	}
	query.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("enqueue pending query: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*models.PendingQuery, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_queries WHERE id = ?", id)
	query, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending query %d: %w", id, err)
	}
	return query, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*models.PendingQuery, error) {
	return s.query(ctx,
		"SELECT "+pendingColumns+" FROM pending_queries ORDER BY created_at ASC, id ASC")
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]*models.PendingQuery, error) {
	return s.query(ctx,
		"SELECT "+pendingColumns+" FROM pending_queries WHERE status = ? ORDER BY created_at ASC, id ASC",
		models.PendingQueryPending)
}

func (s *SQLiteStore) query(ctx context.Context, stmt string, args ...any) ([]*models.PendingQuery, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending queries: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingQuery
	for rows.Next() {
		query, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending query: %w", err)
		}
		out = append(out, query)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status models.PendingQueryStatus, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE pending_queries SET status = ?, error = ? WHERE id = ?", status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update pending query %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pending query %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM pending_queries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pending query %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete pending query %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pending_queries WHERE status IN (?, ?)",
		models.PendingQueryPending, models.PendingQueryProcessing).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active queries: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*models.PendingQuery, error) {
	var query models.PendingQuery
	var paths string
	err := row.Scan(&query.ID, &query.ConversationID, &query.Query, &paths,
		&query.Status, &query.Error, &query.CreatedAt)
	if err != nil {
		return nil, err
	}
	if paths != "" && paths != "[]" {
		if err := json.Unmarshal([]byte(paths), &query.AttachmentPaths); err != nil {
			return nil, fmt.Errorf("unmarshal attachment paths: %w", err)
		}
	}
	return &query, nil
}
