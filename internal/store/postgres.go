package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-api/internal/db"
	"github.com/sells-group/enrichment-api/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection
// for the hot per-item worker path.
var preparedStatements = map[string]string{
	"mark_item_done":  `UPDATE enrich_queue SET status = 'done', processed_at = now() WHERE id = $1 AND status = 'processing'`,
	"mark_item_error": `UPDATE enrich_queue SET status = 'error', processed_at = now() WHERE id = $1 AND status = 'processing'`,
	"refresh_batch_progress": `UPDATE enrich_batches
		 SET processed_domains = (SELECT COUNT(*) FROM enrich_queue WHERE batch_id = $1 AND status IN ('done', 'error'))
		 WHERE id = $1 RETURNING processed_domains`,
	"insert_raw_response": `INSERT INTO raw_responses (id, batch_id, input_domain, status_code, raw_body, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_batch": `SELECT id, name, input_domains, status, total_domains, processed_domains, similarity_weight,
		 country_code, webhook_url, created_at, completed_at, error_message FROM enrich_batches WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrich_queue (
	id           TEXT PRIMARY KEY,
	domain       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	batch_id     TEXT,
	enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_enrich_queue_status ON enrich_queue(status);
CREATE INDEX IF NOT EXISTS idx_enrich_queue_domain ON enrich_queue(domain);
CREATE INDEX IF NOT EXISTS idx_enrich_queue_batch_status ON enrich_queue(batch_id, status);

CREATE TABLE IF NOT EXISTS enrich_batches (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	input_domains     JSONB NOT NULL,
	status            TEXT NOT NULL DEFAULT 'processing',
	total_domains     INTEGER NOT NULL,
	processed_domains INTEGER NOT NULL DEFAULT 0,
	similarity_weight REAL NOT NULL DEFAULT 0,
	country_code      TEXT NOT NULL DEFAULT '',
	webhook_url       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ,
	error_message     TEXT
);

CREATE INDEX IF NOT EXISTS idx_enrich_batches_status ON enrich_batches(status);

CREATE TABLE IF NOT EXISTS raw_responses (
	id            TEXT PRIMARY KEY,
	batch_id      TEXT NOT NULL REFERENCES enrich_batches(id),
	input_domain  TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	raw_body      TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_responses_batch ON raw_responses(batch_id);
CREATE INDEX IF NOT EXISTS idx_raw_responses_domain ON raw_responses(input_domain);

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
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) EnqueueDomains(ctx context.Context, domains []string) (int, error) {
	if len(domains) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin tx for enqueue")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for _, d := range domains {
		_, err := tx.Exec(ctx,
			`INSERT INTO enrich_queue (id, domain, status, enqueued_at) VALUES ($1, $2, 'pending', $3)`,
			uuid.New().String(), d, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: enqueue %s", d)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit enqueue")
	}
	return len(domains), nil
}

func (s *PostgresStore) QueuedSet(ctx context.Context, domains []string) (map[string]bool, error) {
	return s.membershipSet(ctx,
		`SELECT DISTINCT domain FROM enrich_queue WHERE domain = ANY($1) AND status IN ('pending', 'processing')`,
		domains, "queued set")
}

func (s *PostgresStore) EnrichedSet(ctx context.Context, domains []string) (map[string]bool, error) {
	return s.membershipSet(ctx,
		`SELECT DISTINCT input_domain FROM extracted_companies WHERE input_domain = ANY($1)`,
		domains, "enriched set")
}

func (s *PostgresStore) membershipSet(ctx context.Context, query string, domains []string, op string) (map[string]bool, error) {
	set := make(map[string]bool, len(domains))
	if len(domains) == 0 {
		return set, nil
	}

	rows, err := s.pool.Query(ctx, query, domains)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", op)
		}
		set[d] = true
	}
	return set, eris.Wrapf(rows.Err(), "postgres: iterate %s", op)
}

const pendingUniverseWhere = `
	FROM target_companies tc
	WHERE NOT EXISTS (SELECT 1 FROM extracted_companies e WHERE e.input_domain = tc.domain)
	  AND NOT EXISTS (SELECT 1 FROM enrich_queue q WHERE q.domain = tc.domain AND q.status IN ('pending', 'processing'))`

func (s *PostgresStore) PendingUniverse(ctx context.Context, limit, offset int) ([]string, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)`+pendingUniverseWhere).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count pending universe")
	}

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tc.domain`+pendingUniverseWhere+` ORDER BY tc.domain LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: pending universe")
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan pending universe")
		}
		domains = append(domains, d)
	}
	return domains, total, eris.Wrap(rows.Err(), "postgres: iterate pending universe")
}

// ClaimBatch atomically claims up to batchSize pending queue items and
// creates the batch that owns them. The SKIP LOCKED select, the batch
// insert, and the pending→processing flip commit together, so two
// concurrent submissions can never claim overlapping items.
func (s *PostgresStore) ClaimBatch(ctx context.Context, batchSize int, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, domain, enqueued_at
		FROM enrich_queue
		WHERE status = 'pending'
		ORDER BY enqueued_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		batchSize,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: claim rows")
	}

	var claimed []model.QueueItem
	for rows.Next() {
		var it model.QueueItem
		if err := rows.Scan(&it.ID, &it.Domain, &it.EnqueuedAt); err != nil {
			rows.Close()
			return nil, nil, eris.Wrap(err, "postgres: scan claimed row")
		}
		claimed = append(claimed, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: iterate claimed rows")
	}

	if len(claimed) == 0 {
		_ = tx.Commit(ctx)
		return nil, nil, nil
	}

	batch, err := insertBatchTx(ctx, tx, claimed, name, params)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(claimed))
	for i := range claimed {
		ids[i] = claimed[i].ID
	}
	_, err = tx.Exec(ctx, `
		UPDATE enrich_queue
		SET status = 'processing', batch_id = $1
		WHERE id = ANY($2)`,
		batch.ID, ids,
	)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: mark claimed processing")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: commit claim")
	}

	for i := range claimed {
		claimed[i].Status = model.QueueStatusProcessing
		claimed[i].BatchID = &batch.ID
	}
	return batch, claimed, nil
}

// CreateDirectBatch creates a batch from an explicit domain list,
// bypassing queue claiming. The queue rows are born processing and
// already assigned, which keeps the progress invariant intact.
func (s *PostgresStore) CreateDirectBatch(ctx context.Context, domains []string, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error) {
	if len(domains) == 0 {
		return nil, nil, eris.New("postgres: direct batch requires at least one domain")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: begin direct batch tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	items := make([]model.QueueItem, len(domains))
	for i, d := range domains {
		items[i] = model.QueueItem{
			ID:         uuid.New().String(),
			Domain:     d,
			EnqueuedAt: now,
		}
	}

	batch, err := insertBatchTx(ctx, tx, items, name, params)
	if err != nil {
		return nil, nil, err
	}

	for i := range items {
		_, err := tx.Exec(ctx,
			`INSERT INTO enrich_queue (id, domain, status, batch_id, enqueued_at) VALUES ($1, $2, 'processing', $3, $4)`,
			items[i].ID, items[i].Domain, batch.ID, now,
		)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "postgres: insert direct item %s", items[i].Domain)
		}
		items[i].Status = model.QueueStatusProcessing
		items[i].BatchID = &batch.ID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: commit direct batch")
	}
	return batch, items, nil
}

func insertBatchTx(ctx context.Context, tx pgx.Tx, items []model.QueueItem, name string, params model.BatchParams) (*model.Batch, error) {
	now := time.Now().UTC()
	batch := &model.Batch{
		ID:               uuid.New().String(),
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
		return nil, eris.Wrap(err, "postgres: marshal input domains")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO enrich_batches
			(id, name, input_domains, status, total_domains, processed_domains,
			 similarity_weight, country_code, webhook_url, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9)`,
		batch.ID, batch.Name, domainsJSON, string(batch.Status), batch.TotalDomains,
		batch.SimilarityWeight, batch.CountryCode, batch.WebhookURL, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}
	return batch, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.Batch, error) {
	var b model.Batch
	var domainsJSON []byte
	var completedAt *time.Time
	var errorMessage *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, input_domains, status, total_domains, processed_domains, similarity_weight,
		       country_code, webhook_url, created_at, completed_at, error_message
		FROM enrich_batches WHERE id = $1`,
		batchID,
	).Scan(&b.ID, &b.Name, &domainsJSON, &b.Status, &b.TotalDomains, &b.ProcessedDomains,
		&b.SimilarityWeight, &b.CountryCode, &b.WebhookURL, &b.CreatedAt, &completedAt, &errorMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}

	if err := json.Unmarshal(domainsJSON, &b.InputDomains); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal input domains")
	}
	b.CompletedAt = completedAt
	if errorMessage != nil {
		b.ErrorMessage = *errorMessage
	}
	return &b, nil
}

// RefreshBatchProgress recomputes processed_domains from the owning
// queue rows, which keeps the counter equal to count(done+error) and
// monotonically non-decreasing.
func (s *PostgresStore) RefreshBatchProgress(ctx context.Context, batchID string) (int, error) {
	var processed int
	err := s.pool.QueryRow(ctx, `
		UPDATE enrich_batches
		SET processed_domains = (SELECT COUNT(*) FROM enrich_queue WHERE batch_id = $1 AND status IN ('done', 'error'))
		WHERE id = $1
		RETURNING processed_domains`,
		batchID,
	).Scan(&processed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, eris.Wrapf(err, "postgres: refresh batch progress %s", batchID)
	}
	return processed, nil
}

func (s *PostgresStore) FinalizeBatch(ctx context.Context, batchID string, status model.BatchStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE enrich_batches
		SET status = $1, completed_at = now(), error_message = NULLIF($2, '')
		WHERE id = $3`,
		string(status), errorMessage, batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkItemDone(ctx context.Context, itemID string) error {
	return s.markItem(ctx, itemID, "done")
}

func (s *PostgresStore) MarkItemError(ctx context.Context, itemID string) error {
	return s.markItem(ctx, itemID, "error")
}

// markItem transitions a processing item to a terminal status. The
// status guard makes the transition idempotent-safe: a done or error
// item never reverts.
func (s *PostgresStore) markItem(ctx context.Context, itemID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrich_queue SET status = $1, processed_at = now() WHERE id = $2 AND status = 'processing'`,
		status, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark item %s %s", itemID, status)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertRawResponse(ctx context.Context, raw model.RawResponse) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO raw_responses (id, batch_id, input_domain, status_code, raw_body, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		raw.ID, raw.BatchID, raw.InputDomain, raw.StatusCode, raw.RawBody, raw.ErrorMessage, raw.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert raw response for %s", raw.InputDomain)
}

var extractedColumns = []string{
	"id", "raw_response_id", "batch_id", "input_domain", "external_id", "name",
	"domain", "website", "industry", "description", "keywords", "logo_url", "similarity_score",
}

func (s *PostgresStore) InsertExtractedCompanies(ctx context.Context, companies []model.ExtractedCompany) (int, error) {
	if len(companies) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(companies))
	for i, c := range companies {
		rows[i] = []any{
			c.ID, c.RawResponseID, c.BatchID, c.InputDomain, c.ExternalID, c.Name,
			c.Domain, c.Website, c.Industry, c.Description, c.Keywords, c.LogoURL, c.SimilarityScore,
		}
	}

	n, err := db.CopyFrom(ctx, s.pool, "extracted_companies", extractedColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert extracted companies")
	}
	return int(n), nil
}

func (s *PostgresStore) CountExtracted(ctx context.Context, batchID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM extracted_companies WHERE batch_id = $1`,
		batchID,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count extracted for batch %s", batchID)
}

func (s *PostgresStore) QueueCounts(ctx context.Context) (model.QueueCounts, error) {
	var counts model.QueueCounts

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM enrich_queue GROUP BY status`)
	if err != nil {
		return counts, eris.Wrap(err, "postgres: queue counts")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, eris.Wrap(err, "postgres: scan queue counts")
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
	return counts, eris.Wrap(rows.Err(), "postgres: iterate queue counts")
}

// ClearQueue deletes terminal and pending items. Processing items are
// in-flight work and are only removed when explicitly requested.
func (s *PostgresStore) ClearQueue(ctx context.Context, includeProcessing bool) (int64, error) {
	query := `DELETE FROM enrich_queue WHERE status IN ('pending', 'done', 'error')`
	if includeProcessing {
		query = `DELETE FROM enrich_queue`
	}

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear queue")
	}
	return tag.RowsAffected(), nil
}
