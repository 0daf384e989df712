package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchStatus is the lifecycle state of a batch of claimed queue items.
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "pending"
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusFailed              BatchStatus = "failed"
)

// Terminal reports whether the batch has reached a final state.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	}
	return false
}

// BatchParams are the opaque tuning parameters forwarded unchanged to
// the similarity provider, plus the optional completion webhook.
type BatchParams struct {
	SimilarityWeight float64 `json:"similarity_weight"`
	CountryCode      string  `json:"country_code,omitempty"`
	WebhookURL       string  `json:"webhook_url,omitempty"`
}

// Batch is a bounded group of queue items claimed together and
// processed by a single worker invocation.
type Batch struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	InputDomains     []string    `json:"input_domains"`
	Status           BatchStatus `json:"status"`
	TotalDomains     int         `json:"total_domains"`
	ProcessedDomains int         `json:"processed_domains"`
	SimilarityWeight float64     `json:"similarity_weight"`
	CountryCode      string      `json:"country_code,omitempty"`
	WebhookURL       string      `json:"webhook_url,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

// ProgressPercent returns processed/total as a percentage rounded to
// one decimal place. A batch with zero domains reports 0.
func (b *Batch) ProgressPercent() float64 {
	if b.TotalDomains == 0 {
		return 0
	}
	pct := float64(b.ProcessedDomains) / float64(b.TotalDomains) * 100
	return math.Round(pct*10) / 10
}

// maxErrorDetail bounds the number of failing domains carried in the
// batch error summary and the completion webhook.
const maxErrorDetail = 10

// ErrorSummary renders a bounded, human-readable failure summary:
// the first maxErrorDetail failing domains plus counts.
func ErrorSummary(failed []string, total int) string {
	if len(failed) == 0 {
		return ""
	}
	shown := failed
	extra := 0
	if len(shown) > maxErrorDetail {
		extra = len(shown) - maxErrorDetail
		shown = shown[:maxErrorDetail]
	}
	msg := fmt.Sprintf("%d of %d domains failed: %s", len(failed), total, strings.Join(shown, ", "))
	if extra > 0 {
		msg += fmt.Sprintf(" (+%d more)", extra)
	}
	return msg
}

// ErrorDetails returns at most maxErrorDetail failing domains for
// webhook payloads and status responses.
func ErrorDetails(failed []string) []string {
	if len(failed) > maxErrorDetail {
		return failed[:maxErrorDetail]
	}
	return failed
}
