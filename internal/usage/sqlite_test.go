package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLiteStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock, NewSQLiteStore(db)
}

func TestSQLiteStore_Append(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO api_usage").
		WithArgs("claude-sonnet-4", int64(1000), int64(500), day, 0.0105).
		WillReturnResult(sqlmock.NewResult(7, 1))

	rec := Record{
		Model:            "claude-sonnet-4",
		InputTokens:      1000,
		OutputTokens:     500,
		Date:             day,
		EstimatedCostUSD: 0.0105,
	}
	if err := store.Append(context.Background(), &rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if rec.ID != 7 {
		t.Errorf("ID = %d, want 7", rec.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteStore_SumCost(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	from := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery("SELECT SUM").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0.021))

	got, err := store.SumCost(context.Background(), from, to)
	if err != nil {
		t.Fatalf("SumCost: %v", err)
	}
	if got != 0.021 {
		t.Errorf("SumCost = %v, want 0.021", got)
	}
}

func TestSQLiteStore_SumCost_NoRows(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	from := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	// SUM over an empty range yields NULL; treat it as zero.
	mock.ExpectQuery("SELECT SUM").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	got, err := store.SumCost(context.Background(), from, to)
	if err != nil {
		t.Fatalf("SumCost: %v", err)
	}
	if got != 0 {
		t.Errorf("SumCost over empty range = %v, want 0", got)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "model", "input_tokens", "output_tokens", "date", "estimated_cost_usd"}).
		AddRow(1, "claude-haiku-3-5", 200, 100, day, 0.00056).
		AddRow(2, "claude-sonnet-4", 1000, 500, day, 0.0105)
	mock.ExpectQuery("SELECT id, model").WillReturnRows(rows)

	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Model != "claude-haiku-3-5" || records[1].Model != "claude-sonnet-4" {
		t.Errorf("unexpected record order: %+v", records)
	}
}
