package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrichment-api/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local development and tests; claim atomicity comes from SQLite's
// single-writer transaction model instead of SKIP LOCKED.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrich_queue (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	batch_id     TEXT,
	enqueued_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_enrich_queue_status ON enrich_queue(status);
CREATE INDEX IF NOT EXISTS idx_enrich_queue_domain ON enrich_queue(domain);
CREATE INDEX IF NOT EXISTS idx_enrich_queue_batch_status ON enrich_queue(batch_id, status);

CREATE TABLE IF NOT EXISTS enrich_batches (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	input_domains     TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'processing',
	total_domains     INTEGER NOT NULL,
	processed_domains INTEGER NOT NULL DEFAULT 0,
	similarity_weight REAL NOT NULL DEFAULT 0,
	country_code      TEXT NOT NULL DEFAULT '',
	webhook_url       TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at      DATETIME,
	error_message     TEXT
);

CREATE TABLE IF NOT EXISTS raw_responses (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES enrich_batches(id),
	input_domain  TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	raw_body      TEXT,
	error_message TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_raw_responses_batch ON raw_responses(batch_id);

CREATE TABLE IF NOT EXISTS extracted_companies (
	id               TEXT PRIMARY KEY,
	raw_response_id  TEXT NOT NULL REFERENCES raw_responses(id),
	batch_id         TEXT NOT NULL,
	input_domain     TEXT NOT NULL,
	external_id      TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL DEFAULT '',
	domain           TEXT NOT NULL DEFAULT '',
	website          TEXT NOT NULL DEFAULT '',
	industry         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	keywords         TEXT NOT NULL DEFAULT '',
	logo_url         TEXT NOT NULL DEFAULT '',
	similarity_score REAL
);

CREATE INDEX IF NOT EXISTS idx_extracted_companies_batch ON extracted_companies(batch_id);
CREATE INDEX IF NOT EXISTS idx_extracted_companies_input_domain ON extracted_companies(input_domain);

CREATE TABLE IF NOT EXISTS target_companies (
	domain   TEXT PRIMARY KEY,
	name     TEXT NOT NULL DEFAULT '',
	added_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for raw queries in tooling and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) EnqueueDomains(ctx context.Context, domains []string) (int, error) {
	if len(domains) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx for enqueue")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, d := range domains {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO enrich_queue (id, domain, status, enqueued_at) VALUES (?, ?, 'pending', ?)`,
			uuid.New().String(), d, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: enqueue %s", d)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit enqueue")
	}
	return len(domains), nil
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (s *SQLiteStore) QueuedSet(ctx context.Context, domains []string) (map[string]bool, error) {
	if len(domains) == 0 {
		return map[string]bool{}, nil
	}
	query := `SELECT DISTINCT domain FROM enrich_queue WHERE domain IN (` + placeholders(len(domains)) + `) AND status IN ('pending', 'processing')`
	return s.membershipSet(ctx, query, domains, "queued set")
}

func (s *SQLiteStore) EnrichedSet(ctx context.Context, domains []string) (map[string]bool, error) {
	if len(domains) == 0 {
		return map[string]bool{}, nil
	}
	query := `SELECT DISTINCT input_domain FROM extracted_companies WHERE input_domain IN (` + placeholders(len(domains)) + `)`
	return s.membershipSet(ctx, query, domains, "enriched set")
}

func (s *SQLiteStore) membershipSet(ctx context.Context, query string, domains []string, op string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(domains)...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	set := make(map[string]bool, len(domains))
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", op)
		}
		set[d] = true
	}
	return set, eris.Wrapf(rows.Err(), "sqlite: iterate %s", op)
}

const sqlitePendingUniverseWhere = `
	FROM target_companies tc
	WHERE NOT EXISTS (SELECT 1 FROM extracted_companies e WHERE e.input_domain = tc.domain)
	  AND NOT EXISTS (SELECT 1 FROM enrich_queue q WHERE q.domain = tc.domain AND q.status IN ('pending', 'processing'))`

func (s *SQLiteStore) PendingUniverse(ctx context.Context, limit, offset int) ([]string, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+sqlitePendingUniverseWhere).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count pending universe")
	}

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tc.domain`+sqlitePendingUniverseWhere+` ORDER BY tc.domain LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: pending universe")
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan pending universe")
		}
		domains = append(domains, d)
	}
	return domains, total, eris.Wrap(rows.Err(), "sqlite: iterate pending universe")
}

func (s *SQLiteStore) ClaimBatch(ctx context.Context, batchSize int, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: begin claim tx")
	}
	defer func() { _ = tx.Rollback() }()

	batchID := uuid.New().String()

	// Single-statement claim: flip the oldest pending rows to this
	// batch and read them back in one go.
	rows, err := tx.QueryContext(ctx, `
		UPDATE enrich_queue
		SET status = 'processing', batch_id = ?
		WHERE id IN (SELECT id FROM enrich_queue WHERE status = 'pending' ORDER BY enqueued_at LIMIT ?)
		RETURNING id, domain, enqueued_at`,
		batchID, batchSize,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: claim rows")
	}

	var claimed []model.QueueItem
	for rows.Next() {
		it := model.QueueItem{Status: model.QueueStatusProcessing, BatchID: &batchID}
		if err := rows.Scan(&it.ID, &it.Domain, &it.EnqueuedAt); err != nil {
			rows.Close()
			return nil, nil, eris.Wrap(err, "sqlite: scan claimed row")
		}
		claimed = append(claimed, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: iterate claimed rows")
	}

	// Zero pending items is a no-op, not an error: roll back so no
	// empty batch row is left behind.
	if len(claimed) == 0 {
		return nil, nil, nil
	}

	batch, err := sqliteInsertBatch(ctx, tx, batchID, claimed, name, params)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: commit claim")
	}
	return batch, claimed, nil
}

func (s *SQLiteStore) CreateDirectBatch(ctx context.Context, domains []string, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error) {
	if len(domains) == 0 {
		return nil, nil, eris.New("sqlite: direct batch requires at least one domain")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: begin direct batch tx")
	}
	defer func() { _ = tx.Rollback() }()

	batchID := uuid.New().String()
	now := time.Now().UTC()

	items := make([]model.QueueItem, len(domains))
	for i, d := range domains {
		items[i] = model.QueueItem{
			ID:         uuid.New().String(),
			Domain:     d,
			Status:     model.QueueStatusProcessing,
			BatchID:    &batchID,
			EnqueuedAt: now,
		}
	}

	batch, err := sqliteInsertBatch(ctx, tx, batchID, items, name, params)
	if err != nil {
		return nil, nil, err
	}

	for i := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO enrich_queue (id, domain, status, batch_id, enqueued_at) VALUES (?, ?, 'processing', ?, ?)`,
			items[i].ID, items[i].Domain, batchID, now,
		)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "sqlite: insert direct item %s", items[i].Domain)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: commit direct batch")
	}
	return batch, items, nil
}

func sqliteInsertBatch(ctx context.Context, tx *sql.Tx, batchID string, items []model.QueueItem, name string, params model.BatchParams) (*model.Batch, error) {
	now := time.Now().UTC()
	batch := &model.Batch{
		ID:               batchID,
		Name:             name,
		Status:           model.BatchStatusProcessing,
		TotalDomains:     len(items),
		SimilarityWeight: params.SimilarityWeight,
		CountryCode:      params.CountryCode,
		WebhookURL:       params.WebhookURL,
		CreatedAt:        now,
	}
	batch.InputDomains = make([]string, len(items))
	for i := range items {
		batch.InputDomains[i] = items[i].Domain
	}

	domainsJSON, err := json.Marshal(batch.InputDomains)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal input domains")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrich_batches
			(id, name, input_domains, status, total_domains, processed_domains,
			 similarity_weight, country_code, webhook_url, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		batch.ID, batch.Name, string(domainsJSON), string(batch.Status), batch.TotalDomains,
		batch.SimilarityWeight, batch.CountryCode, batch.WebhookURL, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}
	return batch, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	var b model.Batch
	var domainsJSON string
	var completedAt sql.NullTime
	var errorMessage sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, input_domains, status, total_domains, processed_domains, similarity_weight,
		       country_code, webhook_url, created_at, completed_at, error_message
		FROM enrich_batches WHERE id = ?`,
		batchID,
	).Scan(&b.ID, &b.Name, &domainsJSON, &b.Status, &b.TotalDomains, &b.ProcessedDomains,
		&b.SimilarityWeight, &b.CountryCode, &b.WebhookURL, &b.CreatedAt, &completedAt, &errorMessage)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}

	if err := json.Unmarshal([]byte(domainsJSON), &b.InputDomains); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal input domains")
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	if errorMessage.Valid {
		b.ErrorMessage = errorMessage.String
	}
	return &b, nil
}

func (s *SQLiteStore) RefreshBatchProgress(ctx context.Context, batchID string) (int, error) {
	var processed int
	err := s.db.QueryRowContext(ctx, `
		UPDATE enrich_batches
		SET processed_domains = (SELECT COUNT(*) FROM enrich_queue WHERE batch_id = ? AND status IN ('done', 'error'))
		WHERE id = ?
		RETURNING processed_domains`,
		batchID, batchID,
	).Scan(&processed)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: refresh batch progress %s", batchID)
	}
	return processed, nil
}

func (s *SQLiteStore) FinalizeBatch(ctx context.Context, batchID string, status model.BatchStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrich_batches
		SET status = ?, completed_at = ?, error_message = NULLIF(?, '')
		WHERE id = ?`,
		string(status), time.Now().UTC(), errorMessage, batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize batch %s", batchID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) MarkItemDone(ctx context.Context, itemID string) error {
	return s.markItem(ctx, itemID, "done")
}

func (s *SQLiteStore) MarkItemError(ctx context.Context, itemID string) error {
	return s.markItem(ctx, itemID, "error")
}

func (s *SQLiteStore) markItem(ctx context.Context, itemID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrich_queue SET status = ?, processed_at = ? WHERE id = ? AND status = 'processing'`,
		status, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark item %s %s", itemID, status)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) InsertRawResponse(ctx context.Context, raw model.RawResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_responses (id, batch_id, input_domain, status_code, raw_body, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		raw.ID, raw.BatchID, raw.InputDomain, raw.StatusCode, raw.RawBody, raw.ErrorMessage, raw.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert raw response for %s", raw.InputDomain)
}

func (s *SQLiteStore) InsertExtractedCompanies(ctx context.Context, companies []model.ExtractedCompany) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx for extracted companies")
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range companies {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extracted_companies
				(id, raw_response_id, batch_id, input_domain, external_id, name,
				 domain, website, industry, description, keywords, logo_url, similarity_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RawResponseID, c.BatchID, c.InputDomain, c.ExternalID, c.Name,
			c.Domain, c.Website, c.Industry, c.Description, c.Keywords, c.LogoURL, c.SimilarityScore,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert extracted company %s", c.ExternalID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit extracted companies")
	}
	return len(companies), nil
}

func (s *SQLiteStore) CountExtracted(ctx context.Context, batchID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extracted_companies WHERE batch_id = ?`,
		batchID,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count extracted for batch %s", batchID)
}

func (s *SQLiteStore) QueueCounts(ctx context.Context) (model.QueueCounts, error) {
	var counts model.QueueCounts

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM enrich_queue GROUP BY status`)
	if err != nil {
		return counts, eris.Wrap(err, "sqlite: queue counts")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, eris.Wrap(err, "sqlite: scan queue counts")
		}
		switch model.QueueStatus(status) {
		case model.QueueStatusPending:
			counts.Pending = n
		case model.QueueStatusProcessing:
			counts.Processing = n
		case model.QueueStatusDone:
			counts.Done = n
		case model.QueueStatusError:
			counts.Error = n
		}
		counts.Total += n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate queue counts")
}

func (s *SQLiteStore) ClearQueue(ctx context.Context, includeProcessing bool) (int64, error) {
	query := `DELETE FROM enrich_queue WHERE status IN ('pending', 'done', 'error')`
	if includeProcessing {
		query = `DELETE FROM enrich_queue`
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear queue")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
