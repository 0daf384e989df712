package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/enrichment-api/internal/enrich"
	"github.com/sells-group/enrichment-api/internal/model"
)

// Handler holds the engine components behind the HTTP surface.
type Handler struct {
	enqueuer    *enrich.Enqueuer
	coordinator *enrich.Coordinator
	tracker     *enrich.Tracker
	maintenance *enrich.Maintenance
}

// NewHandler creates the API handler set.
func NewHandler(e *enrich.Enqueuer, c *enrich.Coordinator, t *enrich.Tracker, m *enrich.Maintenance) *Handler {
	return &Handler{enqueuer: e, coordinator: c, tracker: t, maintenance: m}
}

type enqueueRequest struct {
	Domains []string `json:"domains"`
}

// Enqueue admits explicit domains into the queue and returns the
// current page of the derived pending universe. With no domains in the
// body it only pages the pending set.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.enqueuer.Enqueue(r.Context(), req.Domains)
	if err != nil {
		mapError(w, err)
		return
	}

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	page, err := h.enqueuer.PendingUniverse(r.Context(), limit, offset)
	if err != nil {
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":                  true,
		"queued":                   result.Queued,
		"skipped_already_queued":   result.SkippedAlreadyQueued,
		"skipped_already_enriched": result.SkippedAlreadyEnriched,
		"pending_domains":          page.Domains,
		"total":                    page.Total,
		"limit":                    page.Limit,
		"offset":                   page.Offset,
		"has_more":                 page.HasMore,
	})
}

type submitRequest struct {
	Domains          []string `json:"domains"`
	BatchSize        int      `json:"batch_size"`
	SimilarityWeight float64  `json:"similarity_weight"`
	CountryCode      string   `json:"country_code"`
	WebhookURL       string   `json:"webhook_url"`
}

func (r submitRequest) params() model.BatchParams {
	return model.BatchParams{
		SimilarityWeight: r.SimilarityWeight,
		CountryCode:      r.CountryCode,
		WebhookURL:       r.WebhookURL,
	}
}

// SubmitDirect creates and dispatches a batch from an explicit domain
// list; anything beyond batch_size is enqueued as pending.
func (h *Handler) SubmitDirect(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Domains) == 0 {
		respondError(w, http.StatusBadRequest, "domains is required")
		return
	}

	sub, err := h.coordinator.SubmitDirect(r.Context(), req.Domains, req.BatchSize, req.params())
	if err != nil {
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":                true,
		"batch_id":               sub.Batch.ID,
		"queued_domains":         sub.DomainsToProcess + sub.QueuedPending,
		"domains_processing":     sub.DomainsToProcess,
		"remaining_pending":      sub.QueuedPending,
		"estimated_time_seconds": sub.EstimatedSeconds,
	})
}

// SubmitFromQueue claims pending queue items into a batch and
// dispatches it. An empty queue reports success with no batch.
func (h *Handler) SubmitFromQueue(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.coordinator.SubmitFromQueue(r.Context(), req.BatchSize, req.params())
	if err != nil {
		mapError(w, err)
		return
	}

	if sub.Batch == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"batch_id": nil,
			"message":  "queue is empty, nothing to process",
		})
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"success":                true,
		"batch_id":               sub.Batch.ID,
		"domains_to_process":     sub.DomainsToProcess,
		"estimated_time_seconds": sub.EstimatedSeconds,
		"message":                "batch processing started",
	})
}

// BatchStatus reports progress for one batch.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.tracker.BatchStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// QueueStatus reports queue counts by status.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.tracker.QueueStatus(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// ClearQueue removes queue items; processing items only when
// include_processing=true.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	includeProcessing := r.URL.Query().Get("include_processing") == "true"

	removed, err := h.maintenance.ClearQueue(r.Context(), includeProcessing)
	if err != nil {
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
		"message": "queue cleared",
	})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
