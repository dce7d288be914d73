// Package audit exposes read access to the append-only mutation trail and
// the retention reaper that trims it. Appending happens only inside the
// mutation gateway's transaction; no update or delete API exists for callers.
package audit

import (
	"context"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/store"
)

// Trail reads committed audit records.
type Trail struct {
	store store.Store
}

// NewTrail wires the trail over the store.
func NewTrail(s store.Store) *Trail {
	return &Trail{store: s}
}

// List returns matching records, newest first.
func (t *Trail) List(ctx context.Context, filter domain.AuditFilter, page domain.Page) ([]domain.AuditRecord, error) {
	return t.store.ListAudit(ctx, filter, page)
}
