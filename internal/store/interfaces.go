// Package store provides transactional storage for the control plane's
// configuration entities, audit trail, sequence counters, and snapshots.
//
// All mutation happens through Store.Mutate, which runs the given function as
// one atomic unit: either every entity write, audit append, and sequence
// increment inside it commits, or none do. The mutation gateway is the only
// caller of Mutate; nothing else holds write access.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/karateway/controlplane/internal/domain"
)

// View is a consistent read context over the entity tables.
type View interface {
	// GetEntity returns the entity or domain.ErrNotFound.
	GetEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) (domain.Entity, error)
	// ListEntities returns entities of one type ordered by creation time then id.
	ListEntities(ctx context.Context, t domain.EntityType, activeOnly bool) ([]domain.Entity, error)
	// ListDependents returns the entities directly referencing the given parent.
	ListDependents(ctx context.Context, parent domain.EntityType, parentID uuid.UUID) ([]domain.Entity, error)
	// CheckUnique returns a domain.ConflictError when another entity already
	// holds one of e's unique keys.
	CheckUnique(ctx context.Context, e domain.Entity) error
}

// Tx extends a consistent view with writes. Implementations guarantee that
// NextSequence is gap-free per entity type: a rolled-back transaction leaves
// no hole behind.
type Tx interface {
	View

	InsertEntity(ctx context.Context, e domain.Entity) error
	UpdateEntity(ctx context.Context, e domain.Entity) error
	DeleteEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) error

	// NextSequence returns the next sequence number for the type, serialized
	// against concurrent transactions via the store's locking discipline.
	NextSequence(ctx context.Context, t domain.EntityType) (int64, error)

	AppendAudit(ctx context.Context, rec domain.AuditRecord) error
	InsertSnapshot(ctx context.Context, snap domain.ConfigSnapshot) error
}

// Store is the durable backing for the control plane. Postgres and the
// in-memory implementation satisfy the same contract.
type Store interface {
	// Mutate runs fn inside one atomic transaction.
	Mutate(ctx context.Context, fn func(Tx) error) error
	// ReadView runs fn over a consistent read-only view that never blocks writers.
	ReadView(ctx context.Context, fn func(View) error) error

	// Convenience reads outside any transaction.
	GetEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) (domain.Entity, error)
	ListEntities(ctx context.Context, t domain.EntityType, activeOnly bool) ([]domain.Entity, error)

	// CurrentSequences reports the last assigned sequence number per entity
	// type; types with no mutations yet are absent. The change feed uses this
	// to resume in committed order.
	CurrentSequences(ctx context.Context) (map[domain.EntityType]int64, error)

	ListAudit(ctx context.Context, filter domain.AuditFilter, page domain.Page) ([]domain.AuditRecord, error)
	// PurgeAudit removes audit records committed before the cutoff and reports
	// how many were deleted. Purges are not themselves audited.
	PurgeAudit(ctx context.Context, olderThan time.Time) (int64, error)

	GetSnapshot(ctx context.Context, versionName string) (domain.ConfigSnapshot, error)
	ListSnapshots(ctx context.Context, page domain.Page) ([]domain.ConfigSnapshot, error)
}

// uniqueClaim names one unique-constraint value an entity occupies.
type uniqueClaim struct {
	constraint string
	value      string
}

func uniqueClaims(e domain.Entity) []uniqueClaim {
	switch v := e.(type) {
	case *domain.BackendService:
		return []uniqueClaim{{"backend_services.name", v.Name}}
	case *domain.ApiRoute:
		return []uniqueClaim{{"api_routes.path_method", string(v.Method) + " " + v.PathPattern}}
	case *domain.RateLimitPolicy:
		return []uniqueClaim{{"rate_limits.name", v.Name}}
	case *domain.WhitelistRule:
		return []uniqueClaim{{"whitelist_rules.rule_name", v.RuleName}}
	case *domain.LoadBalancerConfig:
		return []uniqueClaim{{"load_balancer_config.backend_service_id", v.BackendServiceID.String()}}
	}
	return nil
}
