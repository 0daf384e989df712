package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-api/internal/model"
	"github.com/sells-group/enrichment-api/internal/store"
)

// Tracker answers read-only status questions about batches and the
// queue.
type Tracker struct {
	store store.Store
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st}
}

// BatchStatusReport is the status payload for one batch. The company
// count is populated only once the batch is terminal; mid-flight it
// would be a moving number.
type BatchStatusReport struct {
	BatchID               string            `json:"batch_id"`
	Name                  string            `json:"name"`
	Status                model.BatchStatus `json:"status"`
	TotalDomains          int               `json:"total_domains"`
	ProcessedDomains      int               `json:"processed_domains"`
	ProgressPercent       float64           `json:"progress_percent"`
	SimilarCompaniesFound *int              `json:"similar_companies_found,omitempty"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// BatchStatus returns the current status of a batch, or
// store.ErrNotFound for an unknown id.
func (t *Tracker) BatchStatus(ctx context.Context, batchID string) (BatchStatusReport, error) {
	batch, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return BatchStatusReport{}, store.ErrNotFound
		}
		return BatchStatusReport{}, eris.Wrapf(err, "tracker: get batch %s", batchID)
	}

	report := BatchStatusReport{
		BatchID:          batch.ID,
		Name:             batch.Name,
		Status:           batch.Status,
		TotalDomains:     batch.TotalDomains,
		ProcessedDomains: batch.ProcessedDomains,
		ProgressPercent:  batch.ProgressPercent(),
		ErrorMessage:     batch.ErrorMessage,
		CreatedAt:        batch.CreatedAt,
		CompletedAt:      batch.CompletedAt,
	}

	if batch.Status.Terminal() {
		count, err := t.store.CountExtracted(ctx, batchID)
		if err != nil {
			return BatchStatusReport{}, eris.Wrapf(err, "tracker: count extracted for %s", batchID)
		}
		report.SimilarCompaniesFound = &count
	}
	return report, nil
}

// QueueStatus returns queue item counts grouped by status.
func (t *Tracker) QueueStatus(ctx context.Context) (model.QueueCounts, error) {
	counts, err := t.store.QueueCounts(ctx)
	if err != nil {
		return model.QueueCounts{}, eris.Wrap(err, "tracker: queue counts")
	}
	return counts, nil
}
