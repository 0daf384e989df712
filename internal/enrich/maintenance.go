package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-api/internal/store"
)

// Maintenance groups destructive queue operations behind an explicit
// type so handlers and CLI commands cannot reach the store directly.
type Maintenance struct {
	store store.Store
}

// NewMaintenance creates a Maintenance helper for the given store.
func NewMaintenance(st store.Store) *Maintenance {
	return &Maintenance{store: st}
}

// ClearQueue removes pending and terminal queue items. Items owned by
// an in-flight batch are removed only when includeProcessing is set.
func (m *Maintenance) ClearQueue(ctx context.Context, includeProcessing bool) (int64, error) {
	removed, err := m.store.ClearQueue(ctx, includeProcessing)
	if err != nil {
		return 0, eris.Wrap(err, "maintenance: clear queue")
	}
	zap.L().Info("queue cleared",
		zap.Int64("removed", removed),
		zap.Bool("include_processing", includeProcessing),
	)
	return removed, nil
}
