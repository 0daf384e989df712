package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch_ProgressPercent(t *testing.T) {
	b := &Batch{TotalDomains: 3, ProcessedDomains: 1}
	assert.InDelta(t, 33.3, b.ProgressPercent(), 0.001)

	b = &Batch{TotalDomains: 2, ProcessedDomains: 2}
	assert.InDelta(t, 100.0, b.ProgressPercent(), 0.001)

	b = &Batch{TotalDomains: 0, ProcessedDomains: 0}
	assert.Zero(t, b.ProgressPercent())
}

func TestBatchStatus_Terminal(t *testing.T) {
	assert.False(t, BatchStatusPending.Terminal())
	assert.False(t, BatchStatusProcessing.Terminal())
	assert.True(t, BatchStatusCompleted.Terminal())
	assert.True(t, BatchStatusCompletedWithErrors.Terminal())
	assert.True(t, BatchStatusFailed.Terminal())
}

func TestErrorSummary(t *testing.T) {
	assert.Empty(t, ErrorSummary(nil, 10))

	got := ErrorSummary([]string{"x.com"}, 5)
	assert.Equal(t, "1 of 5 domains failed: x.com", got)

	failed := []string{
		"d0.com", "d1.com", "d2.com", "d3.com", "d4.com", "d5.com",
		"d6.com", "d7.com", "d8.com", "d9.com", "d10.com", "d11.com",
	}
	got = ErrorSummary(failed, 50)
	assert.Contains(t, got, "12 of 50 domains failed")
	assert.Contains(t, got, "d9.com")
	assert.NotContains(t, got, "d10.com,")
	assert.Contains(t, got, "(+2 more)")
}

func TestErrorDetails_Bounded(t *testing.T) {
	failed := make([]string, 15)
	for i := range failed {
		failed[i] = "x.com"
	}
	assert.Len(t, ErrorDetails(failed), 10)
	assert.Len(t, ErrorDetails(failed[:3]), 3)
}
