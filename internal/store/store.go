package store

import (
	"context"
	"errors"

	"github.com/sells-group/enrichment-api/internal/model"
)

// ErrNotFound is returned when a lookup targets a row that does not
// exist (unknown batch id, unknown queue item).
var ErrNotFound = errors.New("not found")

// Store is the persistence contract for the enrichment engine. Two
// backends implement it: PostgresStore (production) and SQLiteStore
// (local/dev). All writes preserve the queue-item and batch state
// machines; callers never regress a status.
type Store interface {
	// Queue intake
	EnqueueDomains(ctx context.Context, domains []string) (int, error)
	QueuedSet(ctx context.Context, domains []string) (map[string]bool, error)
	EnrichedSet(ctx context.Context, domains []string) (map[string]bool, error)
	PendingUniverse(ctx context.Context, limit, offset int) ([]string, int, error)

	// Batches
	ClaimBatch(ctx context.Context, batchSize int, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error)
	CreateDirectBatch(ctx context.Context, domains []string, name string, params model.BatchParams) (*model.Batch, []model.QueueItem, error)
	GetBatch(ctx context.Context, batchID string) (*model.Batch, error)
	RefreshBatchProgress(ctx context.Context, batchID string) (int, error)
	FinalizeBatch(ctx context.Context, batchID string, status model.BatchStatus, errorMessage string) error

	// Queue items (worker-owned transitions)
	MarkItemDone(ctx context.Context, itemID string) error
	MarkItemError(ctx context.Context, itemID string) error

	// Raw + extracted records
	InsertRawResponse(ctx context.Context, raw model.RawResponse) error
	InsertExtractedCompanies(ctx context.Context, rows []model.ExtractedCompany) (int, error)
	CountExtracted(ctx context.Context, batchID string) (int, error)

	// Status + maintenance
	QueueCounts(ctx context.Context) (model.QueueCounts, error)
	ClearQueue(ctx context.Context, includeProcessing bool) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
