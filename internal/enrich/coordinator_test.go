package enrich

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-api/internal/model"
	"github.com/sells-group/enrichment-api/internal/store"
	"github.com/sells-group/enrichment-api/pkg/similar"
)

func newTestCoordinator(t *testing.T, st store.Store, client similar.Client, batchSize int) (*Coordinator, *Dispatcher) {
	t.Helper()
	w := newTestWorker(st, client, nil, MetricHooks{})
	d := NewDispatcher(w, 2, 8)
	d.Start(context.Background())
	t.Cleanup(d.Shutdown)
	return NewCoordinator(st, d, batchSize, MetricHooks{}), d
}

func TestCoordinator_SubmitFromQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	client := newFakeClient()
	client.script("a.com", lookupOutcome{resp: successResponse(nil, nil)})
	client.script("b.com", lookupOutcome{resp: successResponse(nil, nil)})

	_, err := st.EnqueueDomains(ctx, []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)

	c, d := newTestCoordinator(t, st, client, 50)
	sub, err := c.SubmitFromQueue(ctx, 2, model.BatchParams{CountryCode: "us"})
	require.NoError(t, err)
	require.NotNil(t, sub.Batch)
	assert.Equal(t, 2, sub.DomainsToProcess)
	assert.Positive(t, sub.EstimatedSeconds)

	d.Shutdown()

	got, err := st.GetBatch(ctx, sub.Batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())

	counts, err := st.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func TestCoordinator_SubmitFromQueue_EmptyQueue(t *testing.T) {
	st := newTestStore(t)

	c, _ := newTestCoordinator(t, st, newFakeClient(), 50)
	sub, err := c.SubmitFromQueue(context.Background(), 10, model.BatchParams{})
	require.NoError(t, err)
	assert.Nil(t, sub.Batch)
	assert.Zero(t, sub.DomainsToProcess)
}

func TestCoordinator_ConcurrentSubmissionsAreDisjoint(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	client := newFakeClient()
	for _, d := range []string{"a.com", "b.com", "c.com", "d.com"} {
		client.script(d, lookupOutcome{resp: successResponse(nil, nil)})
	}

	_, err := st.EnqueueDomains(ctx, []string{"a.com", "b.com", "c.com", "d.com"})
	require.NoError(t, err)

	c, d := newTestCoordinator(t, st, client, 50)
	first, err := c.SubmitFromQueue(ctx, 2, model.BatchParams{})
	require.NoError(t, err)
	second, err := c.SubmitFromQueue(ctx, 2, model.BatchParams{})
	require.NoError(t, err)

	require.NotNil(t, first.Batch)
	require.NotNil(t, second.Batch)
	assert.NotEqual(t, first.Batch.ID, second.Batch.ID)

	// No domain appears in both batches.
	seen := map[string]bool{}
	for _, dom := range append(first.Batch.InputDomains, second.Batch.InputDomains...) {
		assert.False(t, seen[dom], "domain %s claimed twice", dom)
		seen[dom] = true
	}

	d.Shutdown()
}

func TestCoordinator_SubmitDirect_OverflowEnqueued(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	client := newFakeClient()
	client.script("a.com", lookupOutcome{resp: successResponse(nil, nil)})
	client.script("b.com", lookupOutcome{resp: successResponse(nil, nil)})

	c, d := newTestCoordinator(t, st, client, 50)
	sub, err := c.SubmitDirect(ctx, []string{"a.com", "b.com", "c.com", "d.com"}, 2, model.BatchParams{})
	require.NoError(t, err)
	require.NotNil(t, sub.Batch)
	assert.Equal(t, 2, sub.DomainsToProcess)
	assert.Equal(t, 2, sub.QueuedPending)
	assert.Equal(t, []string{"a.com", "b.com"}, sub.Batch.InputDomains)

	d.Shutdown()

	counts, err := st.QueueCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 2, counts.Done)
}

func TestCoordinator_SubmitDirect_NoValidDomains(t *testing.T) {
	st := newTestStore(t)

	c, _ := newTestCoordinator(t, st, newFakeClient(), 50)
	_, err := c.SubmitDirect(context.Background(), []string{"", "  "}, 10, model.BatchParams{})
	assert.Error(t, err)
}

func TestDispatcher_SubmitAfterShutdown(t *testing.T) {
	st := newTestStore(t)
	w := newTestWorker(st, newFakeClient(), nil, MetricHooks{})
	d := NewDispatcher(w, 1, 1)
	d.Start(context.Background())
	d.Shutdown()

	err := d.Submit(Task{Batch: &model.Batch{ID: "b"}})
	assert.Error(t, err)
}

// Submit must never send on the intake after Shutdown has closed it,
// even when the two race from different goroutines. A send on the
// closed channel would panic and fail the run.
func TestDispatcher_SubmitShutdownRace(t *testing.T) {
	st := newTestStore(t)

	for i := 0; i < 200; i++ {
		w := newTestWorker(st, newFakeClient(), nil, MetricHooks{})
		d := NewDispatcher(w, 1, 1)
		d.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = d.Submit(Task{Batch: &model.Batch{ID: "b"}})
			}
		}()
		go func() {
			defer wg.Done()
			d.Shutdown()
		}()
		wg.Wait()

		assert.Error(t, d.Submit(Task{Batch: &model.Batch{ID: "b"}}))
	}
}
