package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrichment-api/internal/enrich"
	"github.com/sells-group/enrichment-api/internal/metrics"
	"github.com/sells-group/enrichment-api/internal/resilience"
	"github.com/sells-group/enrichment-api/internal/store"
	"github.com/sells-group/enrichment-api/pkg/similar"
)

// engineEnv holds all initialized components needed by the serve,
// enqueue, submit, and queue commands.
type engineEnv struct {
	Store       store.Store
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Dispatcher  *enrich.Dispatcher
	Enqueuer    *enrich.Enqueuer
	Coordinator *enrich.Coordinator
	Tracker     *enrich.Tracker
	Maintenance *enrich.Maintenance
}

// Close drains in-flight batches and releases the store.
func (e *engineEnv) Close() {
	if e.Dispatcher != nil {
		e.Dispatcher.Shutdown()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enrich.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, provider client, rate limiter, worker
// pool, and engine components. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	client := similar.NewClient(cfg.Provider.Key,
		similar.WithBaseURL(cfg.Provider.BaseURL),
		similar.WithTimeout(time.Duration(cfg.Provider.TimeoutSecs)*time.Second),
	)

	rps := cfg.Provider.RequestsPerSec
	if rps <= 0 {
		rps = 2.0
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	retry := resilience.DefaultRetryConfig()
	if cfg.Provider.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Provider.RetryAttempts
	}
	if cfg.Provider.RetryBackoffSec > 0 {
		retry.InitialBackoff = time.Duration(cfg.Provider.RetryBackoffSec) * time.Second
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	onCall, onRetry, onItemDone := m.WorkerHooks()
	hooks := enrich.MetricHooks{
		OnProviderCall: onCall,
		OnRetry:        onRetry,
		OnItemDone:     onItemDone,
		OnBatchStarted: m.BatchesStarted.Inc,
		OnBatchDone: func(status string) {
			m.BatchesCompleted.WithLabelValues(status).Inc()
		},
	}

	notifier := enrich.NewNotifier(time.Duration(cfg.Webhook.TimeoutSecs) * time.Second)
	worker := enrich.NewWorker(st, client, limiter, retry, notifier, hooks)

	dispatcher := enrich.NewDispatcher(worker, cfg.Worker.Consumers, cfg.Worker.QueueBuffer)
	dispatcher.Start(ctx)

	return &engineEnv{
		Store:       st,
		Registry:    registry,
		Metrics:     m,
		Dispatcher:  dispatcher,
		Enqueuer:    enrich.NewEnqueuer(st),
		Coordinator: enrich.NewCoordinator(st, dispatcher, cfg.Worker.BatchSize, hooks),
		Tracker:     enrich.NewTracker(st),
		Maintenance: enrich.NewMaintenance(st),
	}, nil
}
