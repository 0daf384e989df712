// Package enrich implements the enrichment engine: enqueueing domains,
// claiming batches, the per-batch worker loop, status tracking, and the
// completion webhook.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-api/internal/model"
	"github.com/sells-group/enrichment-api/internal/store"
)

// Enqueuer admits domains into the enrichment queue, skipping anything
// already queued or already enriched so repeated submissions are safe.
type Enqueuer struct {
	store store.Store
}

// NewEnqueuer creates an Enqueuer backed by the given store.
func NewEnqueuer(st store.Store) *Enqueuer {
	return &Enqueuer{store: st}
}

// EnqueueResult reports the outcome of one enqueue call.
type EnqueueResult struct {
	Queued                 int      `json:"queued"`
	SkippedAlreadyQueued   int      `json:"skipped_already_queued"`
	SkippedAlreadyEnriched int      `json:"skipped_already_enriched"`
	QueuedDomains          []string `json:"queued_domains,omitempty"`
}

// Enqueue normalizes and deduplicates the given domains, then inserts
// the ones that are neither pending/processing nor already enriched.
func (e *Enqueuer) Enqueue(ctx context.Context, raw []string) (EnqueueResult, error) {
	var res EnqueueResult

	domains := model.NormalizeDomains(raw)
	if len(domains) == 0 {
		return res, nil
	}

	queued, err := e.store.QueuedSet(ctx, domains)
	if err != nil {
		return res, eris.Wrap(err, "enqueuer: check queued set")
	}
	enriched, err := e.store.EnrichedSet(ctx, domains)
	if err != nil {
		return res, eris.Wrap(err, "enqueuer: check enriched set")
	}

	toQueue := make([]string, 0, len(domains))
	for _, d := range domains {
		switch {
		case queued[d]:
			res.SkippedAlreadyQueued++
		case enriched[d]:
			res.SkippedAlreadyEnriched++
		default:
			toQueue = append(toQueue, d)
		}
	}

	n, err := e.store.EnqueueDomains(ctx, toQueue)
	if err != nil {
		return res, eris.Wrap(err, "enqueuer: insert queue items")
	}
	res.Queued = n
	res.QueuedDomains = toQueue
	return res, nil
}

// PendingPage is one page of the derived "needs enrichment" universe:
// known target companies minus anything enriched or already in flight.
type PendingPage struct {
	Domains []string `json:"pending_domains"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// PendingUniverse pages through the domains still needing enrichment.
func (e *Enqueuer) PendingUniverse(ctx context.Context, limit, offset int) (PendingPage, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	domains, total, err := e.store.PendingUniverse(ctx, limit, offset)
	if err != nil {
		return PendingPage{}, eris.Wrap(err, "enqueuer: pending universe")
	}
	return PendingPage{
		Domains: domains,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(domains) < total,
	}, nil
}
