package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-api/internal/model"
	"github.com/sells-group/enrichment-api/internal/resilience"
	"github.com/sells-group/enrichment-api/internal/store"
	"github.com/sells-group/enrichment-api/pkg/similar"
)

// MetricHooks carries the metric callback functions injected at startup.
// Using a struct keeps the worker constructor signature clean; nil
// fields are replaced with no-ops.
type MetricHooks struct {
	OnProviderCall func(outcome string, latency time.Duration)
	OnRetry        func()
	OnItemDone     func(status string, companies int)
	OnBatchStarted func()
	OnBatchDone    func(status string)
}

func (h MetricHooks) normalize() MetricHooks {
	if h.OnProviderCall == nil {
		h.OnProviderCall = func(string, time.Duration) {}
	}
	if h.OnRetry == nil {
		h.OnRetry = func() {}
	}
	if h.OnItemDone == nil {
		h.OnItemDone = func(string, int) {}
	}
	if h.OnBatchStarted == nil {
		h.OnBatchStarted = func() {}
	}
	if h.OnBatchDone == nil {
		h.OnBatchDone = func(string) {}
	}
	return h
}

// Worker processes one batch at a time: serial per-domain provider
// lookups with retries, raw-response and extraction persistence, item
// state transitions, and batch finalization plus webhook notification.
type Worker struct {
	store    store.Store
	client   similar.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	notifier *Notifier
	hooks    MetricHooks
}

// NewWorker constructs a Worker. The limiter is shared across all
// workers so the provider ceiling holds regardless of batch concurrency.
func NewWorker(
	st store.Store,
	client similar.Client,
	limiter *rate.Limiter,
	retry resilience.RetryConfig,
	notifier *Notifier,
	hooks MetricHooks,
) *Worker {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
	}
	return &Worker{
		store:    st,
		client:   client,
		limiter:  limiter,
		retry:    retry,
		notifier: notifier,
		hooks:    hooks.normalize(),
	}
}

// retryableLookup reports whether a provider failure is worth retrying:
// transport-level transients, or an HTTP status in the retryable set.
// Other 4xx responses are definitive answers about this domain.
func retryableLookup(err error) bool {
	var se *similar.StatusError
	if errors.As(err, &se) {
		return resilience.IsRetryableStatus(se.StatusCode)
	}
	return resilience.IsTransient(err)
}

// ProcessBatch runs the serial enrichment loop for one claimed batch.
// A failing domain never aborts the batch; every item reaches a
// terminal status unless ctx is cancelled mid-flight.
func (w *Worker) ProcessBatch(ctx context.Context, batch *model.Batch, items []model.QueueItem) {
	log := zap.L().With(
		zap.String("batch_id", batch.ID),
		zap.String("batch_name", batch.Name),
		zap.Int("total_domains", batch.TotalDomains),
	)
	log.Info("batch processing started")

	var failed []string
	companiesFound := 0

	for _, item := range items {
		if ctx.Err() != nil {
			log.Warn("batch processing interrupted", zap.Error(ctx.Err()))
			return
		}

		n, err := w.processItem(ctx, batch, item)
		if err != nil {
			failed = append(failed, item.Domain)
			log.Warn("domain enrichment failed",
				zap.String("domain", item.Domain), zap.Error(err))
		}
		companiesFound += n

		if _, err := w.store.RefreshBatchProgress(ctx, batch.ID); err != nil {
			log.Error("failed to refresh batch progress", zap.Error(err))
		}
	}

	status := model.BatchStatusCompleted
	if len(failed) > 0 {
		status = model.BatchStatusCompletedWithErrors
	}
	summary := model.ErrorSummary(failed, batch.TotalDomains)

	if err := w.store.FinalizeBatch(ctx, batch.ID, status, summary); err != nil {
		log.Error("failed to finalize batch", zap.Error(err))
		return
	}
	w.hooks.OnBatchDone(string(status))

	log.Info("batch processing finished",
		zap.String("status", string(status)),
		zap.Int("failed_domains", len(failed)),
		zap.Int("companies_found", companiesFound),
	)

	if w.notifier != nil {
		w.notifier.Notify(ctx, batch, status, summary, companiesFound, failed)
	}
}

// processItem enriches a single domain and transitions its queue item
// to a terminal status. Returns the number of companies extracted.
func (w *Worker) processItem(ctx context.Context, batch *model.Batch, item model.QueueItem) (int, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	retry := w.retry
	retry.ShouldRetry = retryableLookup
	retry.OnRetry = func(attempt int, err error) {
		w.hooks.OnRetry()
		resilience.RetryLogger("similar", "lookup")(attempt, err)
	}

	resp, lookupErr := resilience.DoVal(ctx, retry, func(ctx context.Context) (*similar.LookupResponse, error) {
		return w.client.Lookup(ctx, similar.LookupRequest{
			Domain:           item.Domain,
			SimilarityWeight: batch.SimilarityWeight,
			CountryCode:      batch.CountryCode,
		})
	})
	elapsed := time.Since(start)

	// One raw response per domain, reflecting the final attempt only.
	raw := w.buildRawResponse(batch.ID, item.Domain, resp, lookupErr)
	if err := w.store.InsertRawResponse(ctx, raw); err != nil {
		zap.L().Error("failed to persist raw response",
			zap.String("domain", item.Domain), zap.Error(err))
	}

	if lookupErr != nil {
		w.hooks.OnProviderCall("error", elapsed)
		w.markItem(ctx, item.ID, false)
		w.hooks.OnItemDone("error", 0)
		return 0, lookupErr
	}
	w.hooks.OnProviderCall("success", elapsed)

	companies := extractCompanies(raw.ID, batch.ID, item.Domain, resp)
	stored := 0
	if len(companies) > 0 {
		n, err := w.store.InsertExtractedCompanies(ctx, companies)
		if err != nil {
			// The lookup itself succeeded and the raw response is on
			// disk; losing the extraction is an error outcome for the
			// item so it can be replayed.
			zap.L().Error("failed to persist extracted companies",
				zap.String("domain", item.Domain), zap.Error(err))
			w.markItem(ctx, item.ID, false)
			w.hooks.OnItemDone("error", 0)
			return 0, err
		}
		stored = n
	}

	w.markItem(ctx, item.ID, true)
	w.hooks.OnItemDone("done", stored)
	return stored, nil
}

func (w *Worker) markItem(ctx context.Context, itemID string, done bool) {
	var err error
	if done {
		err = w.store.MarkItemDone(ctx, itemID)
	} else {
		err = w.store.MarkItemError(ctx, itemID)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("failed to mark queue item",
			zap.String("item_id", itemID), zap.Bool("done", done), zap.Error(err))
	}
}

func (w *Worker) buildRawResponse(batchID, domain string, resp *similar.LookupResponse, lookupErr error) model.RawResponse {
	raw := model.RawResponse{
		ID:          uuid.New().String(),
		BatchID:     batchID,
		InputDomain: domain,
		CreatedAt:   time.Now().UTC(),
	}

	if lookupErr == nil {
		raw.StatusCode = resp.StatusCode
		body := string(resp.RawBody)
		raw.RawBody = &body
		return raw
	}

	msg := lookupErr.Error()
	raw.ErrorMessage = &msg

	var se *similar.StatusError
	if errors.As(lookupErr, &se) {
		raw.StatusCode = se.StatusCode
		body := string(se.Body)
		raw.RawBody = &body
	}
	return raw
}

// extractCompanies maps the provider payload to storable rows, joining
// each item with its similarity score by provider id. Items without a
// score are kept with a null score.
func extractCompanies(rawResponseID, batchID, inputDomain string, resp *similar.LookupResponse) []model.ExtractedCompany {
	if resp == nil || len(resp.Items) == 0 {
		return nil
	}

	out := make([]model.ExtractedCompany, 0, len(resp.Items))
	for _, it := range resp.Items {
		c := model.ExtractedCompany{
			ID:            uuid.New().String(),
			RawResponseID: rawResponseID,
			BatchID:       batchID,
			InputDomain:   inputDomain,
			ExternalID:    it.ID,
			Name:          it.Name,
			Domain:        it.Domain,
			Website:       it.Website,
			Industry:      it.Industry,
			Description:   it.Description,
			Keywords:      strings.Join(it.Keywords, ", "),
			LogoURL:       it.LogoURL,
		}
		if score, ok := resp.Scores[it.ID]; ok {
			s := score
			c.SimilarityScore = &s
		}
		out = append(out, c)
	}
	return out
}
