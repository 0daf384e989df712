package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-api/internal/enrich"
	"github.com/sells-group/enrichment-api/internal/resilience"
	"github.com/sells-group/enrichment-api/internal/store"
	"github.com/sells-group/enrichment-api/pkg/similar"
)

// okClient answers every lookup with an empty success payload.
type okClient struct{}

func (okClient) Lookup(context.Context, similar.LookupRequest) (*similar.LookupResponse, error) {
	return &similar.LookupResponse{StatusCode: 200, RawBody: []byte(`{"items":[]}`)}, nil
}

type testAPI struct {
	store      store.Store
	dispatcher *enrich.Dispatcher
	srv        *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	worker := enrich.NewWorker(
		st, okClient{}, rate.NewLimiter(rate.Inf, 1),
		resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		nil, enrich.MetricHooks{},
	)
	dispatcher := enrich.NewDispatcher(worker, 1, 4)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Shutdown)

	h := NewHandler(
		enrich.NewEnqueuer(st),
		enrich.NewCoordinator(st, dispatcher, 50, enrich.MetricHooks{}),
		enrich.NewTracker(st),
		enrich.NewMaintenance(st),
	)
	srv := httptest.NewServer(NewRouter(h, prometheus.NewRegistry()))
	t.Cleanup(srv.Close)

	return &testAPI{store: st, dispatcher: dispatcher, srv: srv}
}

func (a *testAPI) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(a.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (a *testAPI) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAPI_Enqueue(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.post(t, "/api/v1/enqueue", map[string]any{
		"domains": []string{"https://www.Acme.com", "acme.com", "beta.io"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["queued"])
	assert.Equal(t, float64(0), body["skipped_already_queued"])

	// Second call with the same payload skips everything.
	resp, body = api.post(t, "/api/v1/enqueue", map[string]any{
		"domains": []string{"acme.com", "beta.io"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["queued"])
	assert.Equal(t, float64(2), body["skipped_already_queued"])
}

func TestAPI_SubmitFromQueue_Empty(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.post(t, "/api/v1/batches/from-queue", map[string]any{"batch_size": 10})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["batch_id"])
}

func TestAPI_SubmitFromQueue(t *testing.T) {
	api := newTestAPI(t)

	_, _ = api.post(t, "/api/v1/enqueue", map[string]any{"domains": []string{"a.com", "b.com"}})

	resp, body := api.post(t, "/api/v1/batches/from-queue", map[string]any{"batch_size": 10})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["batch_id"])
	assert.Equal(t, float64(2), body["domains_to_process"])

	// Drain the dispatcher, then the batch must be terminal.
	api.dispatcher.Shutdown()

	resp, status := api.get(t, "/api/v1/batches/"+body["batch_id"].(string)+"/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, float64(100), status["progress_percent"])
	assert.Equal(t, float64(0), status["similar_companies_found"])
}

func TestAPI_SubmitDirect(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.post(t, "/api/v1/batches", map[string]any{
		"domains":    []string{"a.com", "b.com", "c.com"},
		"batch_size": 2,
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(3), body["queued_domains"])
	assert.Equal(t, float64(2), body["domains_processing"])
	assert.Equal(t, float64(1), body["remaining_pending"])
}

func TestAPI_SubmitDirect_MissingDomains(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.post(t, "/api/v1/batches", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_BatchStatus_NotFound(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.get(t, "/api/v1/batches/unknown/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_QueueStatus(t *testing.T) {
	api := newTestAPI(t)

	_, _ = api.post(t, "/api/v1/enqueue", map[string]any{"domains": []string{"a.com"}})

	resp, body := api.get(t, "/api/v1/queue/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["pending"])
}

func TestAPI_ClearQueue(t *testing.T) {
	api := newTestAPI(t)

	_, _ = api.post(t, "/api/v1/enqueue", map[string]any{"domains": []string{"a.com", "b.com"}})

	req, err := http.NewRequest(http.MethodDelete, api.srv.URL+"/api/v1/queue", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["removed"])
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_QueueStatus_PostAlias(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.post(t, "/api/v1/queue/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
