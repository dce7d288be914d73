package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/store"
)

// DefaultRetention keeps audit records for 90 days.
const DefaultRetention = 90 * 24 * time.Hour

// Reaper periodically deletes audit records older than the retention window.
// Sweeps are best-effort: failures are logged and retried on the next tick,
// never escalated, and the deletions are not themselves audited. Purges run
// outside the gateway's transaction path so they never contend with writers.
type Reaper struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewReaper wires a reaper; zero retention or interval fall back to defaults.
func NewReaper(s store.Store, retention, interval time.Duration, logger *zap.Logger) *Reaper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		store:     s,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps on every tick until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("audit reaper started",
		zap.Duration("retention", r.retention),
		zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("audit reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep purges records past the retention window once.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.retention)
	removed, err := r.store.PurgeAudit(ctx, cutoff)
	if err != nil {
		r.logger.Warn("audit sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		r.logger.Info("audit sweep removed expired records",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
}
