package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/sells-group/enrichment-api/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_GetBatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	domains, _ := json.Marshal([]string{"acme.com"})
	created := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, name, input_domains, status`).
		WithArgs("batch-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "input_domains", "status", "total_domains", "processed_domains",
			"similarity_weight", "country_code", "webhook_url", "created_at", "completed_at", "error_message",
		}).AddRow("batch-1", "nightly", domains, model.BatchStatus("processing"), 1, 0,
			float64(0.5), "us", "", created, (*time.Time)(nil), (*string)(nil)))

	b, err := s.GetBatch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.Name != "nightly" || b.TotalDomains != 1 {
		t.Errorf("unexpected batch: %+v", b)
	}
	if len(b.InputDomains) != 1 || b.InputDomains[0] != "acme.com" {
		t.Errorf("unexpected input domains: %v", b.InputDomains)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_GetBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, input_domains, status`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBatch(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_MarkItemDone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrich_queue SET status = \$1`).
		WithArgs("done", "item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := s.MarkItemDone(context.Background(), "item-1"); err != nil {
		t.Fatalf("MarkItemDone: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_MarkItem_TerminalIsNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// A done or error item does not match the processing guard.
	mock.ExpectExec(`UPDATE enrich_queue SET status = \$1`).
		WithArgs("error", "item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkItemError(context.Background(), "item-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_RefreshBatchProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE enrich_batches`).
		WithArgs("batch-1").
		WillReturnRows(pgxmock.NewRows([]string{"processed_domains"}).AddRow(7))

	processed, err := s.RefreshBatchProgress(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("RefreshBatchProgress: %v", err)
	}
	if processed != 7 {
		t.Errorf("processed = %d, want 7", processed)
	}
}

func TestPostgresStore_FinalizeBatch_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrich_batches`).
		WithArgs("completed", "", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinalizeBatch(context.Background(), "missing", model.BatchStatusCompleted, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ClaimBatch_EmptyQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, domain, enqueued_at`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "domain", "enqueued_at"}))
	mock.ExpectCommit()

	batch, items, err := s.ClaimBatch(context.Background(), 50, "nightly", model.BatchParams{})
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if batch != nil || items != nil {
		t.Errorf("expected no-op claim, got batch=%v items=%v", batch, items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_InsertExtractedCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"extracted_companies"}, extractedColumns).
		WillReturnResult(2)

	score := 0.8
	n, err := s.InsertExtractedCompanies(context.Background(), []model.ExtractedCompany{
		{ID: "e-1", RawResponseID: "raw-1", BatchID: "b-1", InputDomain: "acme.com", Name: "Beta", SimilarityScore: &score},
		{ID: "e-2", RawResponseID: "raw-1", BatchID: "b-1", InputDomain: "acme.com", Name: "Gamma"},
	})
	if err != nil {
		t.Fatalf("InsertExtractedCompanies: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_QueueCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("processing", 2).
			AddRow("done", 5).
			AddRow("error", 1))

	counts, err := s.QueueCounts(context.Background())
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	want := model.QueueCounts{Total: 11, Pending: 3, Processing: 2, Done: 5, Error: 1}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
}

func TestPostgresStore_ClearQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM enrich_queue WHERE status IN`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := s.ClearQueue(context.Background(), false)
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
}

func TestPostgresStore_ClearQueue_IncludeProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM enrich_queue`).
		WillReturnResult(pgxmock.NewResult("DELETE", 6))

	removed, err := s.ClearQueue(context.Background(), true)
	if err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if removed != 6 {
		t.Errorf("removed = %d, want 6", removed)
	}
}
