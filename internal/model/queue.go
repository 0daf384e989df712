package model

import (
	"strings"
	"time"
)

// QueueStatus is the lifecycle state of a single queued domain.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusDone       QueueStatus = "done"
	QueueStatusError      QueueStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusDone || s == QueueStatusError
}

// QueueItem is one durable unit of pending work: enrich this domain.
// Transitions are monotonic: pending, processing, then done or error.
type QueueItem struct {
	ID          string      `json:"id"`
	Domain      string      `json:"domain"`
	Status      QueueStatus `json:"status"`
	BatchID     *string     `json:"batch_id,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// QueueCounts groups queue items by current status.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
}

// NormalizeDomain canonicalizes a domain for use as the enrichment key:
// trimmed, lowercased, with any scheme or trailing slash stripped.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}

// NormalizeDomains normalizes and deduplicates a raw domain list,
// preserving first-seen order and dropping empties.
func NormalizeDomains(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		d := NormalizeDomain(r)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
