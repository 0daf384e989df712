package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-api/internal/model"
	"github.com/sells-group/enrichment-api/internal/store"
)

// perDomainEstimate is the planning figure for one domain: the rate
// limiter's 0.5 s spacing plus typical provider latency.
const perDomainEstimate = 2 * time.Second

// EstimateSeconds returns the rough wall-clock estimate for enriching
// n domains serially.
func EstimateSeconds(n int) int {
	return int((time.Duration(n) * perDomainEstimate).Seconds())
}

// Coordinator turns submissions into claimed batches and hands them to
// the dispatcher. Claiming and dispatching are separate steps: the
// claim commits before any processing starts.
type Coordinator struct {
	store      store.Store
	dispatcher *Dispatcher
	hooks      MetricHooks

	defaultBatchSize int
}

// NewCoordinator creates a Coordinator. batchSize is the default claim
// size when a submission does not specify one.
func NewCoordinator(st store.Store, d *Dispatcher, batchSize int, hooks MetricHooks) *Coordinator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Coordinator{
		store:            st,
		dispatcher:       d,
		hooks:            hooks.normalize(),
		defaultBatchSize: batchSize,
	}
}

// Submission reports the outcome of a batch submission.
type Submission struct {
	Batch            *model.Batch
	DomainsToProcess int
	QueuedPending    int
	EstimatedSeconds int
}

// SubmitFromQueue atomically claims up to batchSize pending queue items
// into a new batch and dispatches it. An empty queue is a no-op: the
// returned Submission has a nil Batch and no error.
func (c *Coordinator) SubmitFromQueue(ctx context.Context, batchSize int, params model.BatchParams) (Submission, error) {
	if batchSize <= 0 {
		batchSize = c.defaultBatchSize
	}

	name := batchName(time.Now().UTC())
	batch, items, err := c.store.ClaimBatch(ctx, batchSize, name, params)
	if err != nil {
		return Submission{}, eris.Wrap(err, "coordinator: claim batch")
	}
	if batch == nil {
		zap.L().Info("no pending items to claim")
		return Submission{}, nil
	}

	if err := c.dispatch(batch, items); err != nil {
		return Submission{}, err
	}
	return Submission{
		Batch:            batch,
		DomainsToProcess: len(items),
		EstimatedSeconds: EstimateSeconds(len(items)),
	}, nil
}

// SubmitDirect creates a batch from an explicit domain list, bypassing
// the pending queue. The first batchSize normalized domains become the
// batch; the remainder is enqueued as pending for later claims.
func (c *Coordinator) SubmitDirect(ctx context.Context, rawDomains []string, batchSize int, params model.BatchParams) (Submission, error) {
	if batchSize <= 0 {
		batchSize = c.defaultBatchSize
	}

	domains := model.NormalizeDomains(rawDomains)
	if len(domains) == 0 {
		return Submission{}, eris.New("coordinator: no valid domains in submission")
	}

	head := domains
	var tail []string
	if len(domains) > batchSize {
		head = domains[:batchSize]
		tail = domains[batchSize:]
	}

	batch, items, err := c.store.CreateDirectBatch(ctx, head, batchName(time.Now().UTC()), params)
	if err != nil {
		return Submission{}, eris.Wrap(err, "coordinator: create direct batch")
	}

	queued := 0
	if len(tail) > 0 {
		queued, err = c.store.EnqueueDomains(ctx, tail)
		if err != nil {
			// The batch is already committed and dispatchable; report
			// the overflow failure without losing it.
			zap.L().Error("failed to enqueue overflow domains",
				zap.String("batch_id", batch.ID), zap.Error(err))
		}
	}

	if err := c.dispatch(batch, items); err != nil {
		return Submission{}, err
	}
	return Submission{
		Batch:            batch,
		DomainsToProcess: len(items),
		QueuedPending:    queued,
		EstimatedSeconds: EstimateSeconds(len(items)),
	}, nil
}

func (c *Coordinator) dispatch(batch *model.Batch, items []model.QueueItem) error {
	if err := c.dispatcher.Submit(Task{Batch: batch, Items: items}); err != nil {
		return eris.Wrap(err, "coordinator: dispatch batch")
	}
	c.hooks.OnBatchStarted()
	return nil
}

func batchName(t time.Time) string {
	return fmt.Sprintf("enrich-%s", t.Format("20060102-150405"))
}
