package enrich

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrichment-api/internal/model"
)

// Task is one dispatched unit of work: a claimed batch and its items.
type Task struct {
	Batch *model.Batch
	Items []model.QueueItem
}

// Dispatcher decouples batch submission from batch processing. Submit
// hands the task to a bounded intake channel and returns immediately;
// a fixed pool of consumers drains the channel and runs the worker.
type Dispatcher struct {
	worker    *Worker
	consumers int
	tasks     chan Task
	g         errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher with the given consumer count and
// intake buffer. Zero or negative values fall back to 4 consumers and
// a buffer of 16 tasks.
func NewDispatcher(worker *Worker, consumers, buffer int) *Dispatcher {
	if consumers <= 0 {
		consumers = 4
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Dispatcher{
		worker:    worker,
		consumers: consumers,
		tasks:     make(chan Task, buffer),
	}
}

// Start launches the consumer pool. Cancelling ctx stops consumers
// after their current batch; queued tasks are abandoned.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.consumers; i++ {
		d.g.Go(func() error {
			for task := range d.tasks {
				if ctx.Err() != nil {
					return nil
				}
				d.worker.ProcessBatch(ctx, task.Batch, task.Items)
			}
			return nil
		})
	}
}

// Submit queues a batch for processing. It returns once the task is
// accepted; no provider I/O happens on the caller's goroutine. A full
// intake or a stopped dispatcher is an error so the caller can surface
// it instead of silently dropping the batch.
func (d *Dispatcher) Submit(task Task) error {
	// Held across the send so Shutdown cannot close the intake between
	// the closed check and the channel operation. The send is
	// non-blocking, so the critical section stays short.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return eris.New("dispatcher: stopped")
	}

	select {
	case d.tasks <- task:
		zap.L().Info("batch dispatched",
			zap.String("batch_id", task.Batch.ID),
			zap.Int("domains", len(task.Items)),
		)
		return nil
	default:
		return eris.Errorf("dispatcher: intake full, batch %s rejected", task.Batch.ID)
	}
}

// Shutdown closes the intake and waits for in-flight batches to finish.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()
	_ = d.g.Wait()
}
