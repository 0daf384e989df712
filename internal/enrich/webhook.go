package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrichment-api/internal/model"
)

// Notifier delivers best-effort batch_completed webhooks. Delivery
// failures are logged and never affect the batch outcome.
type Notifier struct {
	http *http.Client
}

// NewNotifier creates a Notifier with the given delivery timeout.
func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{http: &http.Client{Timeout: timeout}}
}

// webhookPayload is the batch_completed event body.
type webhookPayload struct {
	Event                 string    `json:"event"`
	BatchID               string    `json:"batch_id"`
	Name                  string    `json:"name"`
	Status                string    `json:"status"`
	TotalDomains          int       `json:"total"`
	ProcessedDomains      int       `json:"processed"`
	Errors                int       `json:"errors"`
	SimilarCompaniesFound int       `json:"similar_companies_found"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	FailedDomains         []string  `json:"error_details,omitempty"`
	CompletedAt           time.Time `json:"completed_at"`
}

// Notify posts the completion event to the batch's webhook URL, if one
// was registered. The failed domain list is bounded the same way as
// the batch error summary.
func (n *Notifier) Notify(ctx context.Context, batch *model.Batch, status model.BatchStatus, errorMessage string, companiesFound int, failedDomains []string) {
	if batch.WebhookURL == "" {
		return
	}

	log := zap.L().With(
		zap.String("batch_id", batch.ID),
		zap.String("webhook_url", batch.WebhookURL),
	)

	payload := webhookPayload{
		Event:                 "batch_completed",
		BatchID:               batch.ID,
		Name:                  batch.Name,
		Status:                string(status),
		TotalDomains:          batch.TotalDomains,
		ProcessedDomains:      batch.TotalDomains,
		Errors:                len(failedDomains),
		SimilarCompaniesFound: companiesFound,
		ErrorMessage:          errorMessage,
		FailedDomains:         model.ErrorDetails(failedDomains),
		CompletedAt:           time.Now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Warn("webhook payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batch.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Warn("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("webhook rejected", zap.Int("status_code", resp.StatusCode))
		return
	}
	log.Info("webhook delivered", zap.Int("status_code", resp.StatusCode))
}
