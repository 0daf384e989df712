package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	DomainsEnriched  *prometheus.CounterVec
	DomainsFailed    prometheus.Counter
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  prometheus.Histogram
	ProviderRetries  prometheus.Counter
	CompaniesStored  prometheus.Counter
	BatchesStarted   prometheus.Counter
	BatchesCompleted *prometheus.CounterVec
	QueuePending     prometheus.Gauge
	QueueProcessing  prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DomainsEnriched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_domains_processed_total",
			Help: "Total number of domains that reached a terminal status.",
		}, []string{"status"}),

		DomainsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_domains_failed_total",
			Help: "Total number of domains that ended in error after retries.",
		}),

		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_provider_calls_total",
			Help: "Total provider lookup attempts by outcome.",
		}, []string{"outcome"}),

		ProviderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enrich_provider_call_seconds",
			Help:    "Provider lookup latency per attempt.",
			Buckets: prometheus.DefBuckets,
		}),

		ProviderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_provider_retries_total",
			Help: "Total provider lookup retries after transient failures.",
		}),

		CompaniesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_companies_stored_total",
			Help: "Total similar-company rows extracted and persisted.",
		}),

		BatchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enrich_batches_started_total",
			Help: "Total batches submitted for processing.",
		}),

		BatchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enrich_batches_completed_total",
			Help: "Total batches that reached a terminal status.",
		}, []string{"status"}),

		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enrich_queue_pending",
			Help: "Current number of pending items in the enrichment queue.",
		}),
		QueueProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enrich_queue_processing",
			Help: "Current number of items claimed by in-flight batches.",
		}),
	}

	reg.MustRegister(
		m.DomainsEnriched,
		m.DomainsFailed,
		m.ProviderCalls,
		m.ProviderLatency,
		m.ProviderRetries,
		m.CompaniesStored,
		m.BatchesStarted,
		m.BatchesCompleted,
		m.QueuePending,
		m.QueueProcessing,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by
// enrich.MetricHooks. Centralises the prometheus observation calls so the
// worker stays free of prometheus imports.
func (m *Metrics) WorkerHooks() (
	onCall func(outcome string, latency time.Duration),
	onRetry func(),
	onItemDone func(status string, companies int),
) {
	onCall = func(outcome string, latency time.Duration) {
		m.ProviderCalls.WithLabelValues(outcome).Inc()
		m.ProviderLatency.Observe(latency.Seconds())
	}
	onRetry = func() {
		m.ProviderRetries.Inc()
	}
	onItemDone = func(status string, companies int) {
		m.DomainsEnriched.WithLabelValues(status).Inc()
		if status == "error" {
			m.DomainsFailed.Inc()
		}
		if companies > 0 {
			m.CompaniesStored.Add(float64(companies))
		}
	}
	return
}

// SetQueueDepths records the current queue gauge values.
func (m *Metrics) SetQueueDepths(pending, processing int) {
	m.QueuePending.Set(float64(pending))
	m.QueueProcessing.Set(float64(processing))
}
