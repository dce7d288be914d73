package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/karateway/controlplane/internal/domain"
)

// Postgres implements Store on a pgx connection pool. Mutations run inside a
// serializable transaction; reads use repeatable-read read-only transactions
// so snapshots never block writers.
type Postgres struct {
	pool *pgxpool.Pool
	pgReader
}

// NewPostgres wires a store backed by pgxpool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, pgReader: pgReader{q: pool}}
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tableSpec maps an entity variant onto its typed key columns. Full state
// lives in the data column; the key columns exist for the database-level
// unique and foreign-key constraints.
type tableSpec struct {
	extraColumns []string
	extraValues  func(e domain.Entity) []any
}

var tableSpecs = map[domain.EntityType]tableSpec{
	domain.TypeBackendService: {
		extraColumns: []string{"name"},
		extraValues: func(e domain.Entity) []any {
			s := e.(*domain.BackendService)
			return []any{s.Name}
		},
	},
	domain.TypeApiRoute: {
		extraColumns: []string{"path_pattern", "method", "backend_service_id"},
		extraValues: func(e domain.Entity) []any {
			r := e.(*domain.ApiRoute)
			return []any{r.PathPattern, string(r.Method), r.BackendServiceID}
		},
	},
	domain.TypeRateLimitPolicy: {
		extraColumns: []string{"name", "api_route_id"},
		extraValues: func(e domain.Entity) []any {
			p := e.(*domain.RateLimitPolicy)
			return []any{p.Name, p.APIRouteID}
		},
	},
	domain.TypeWhitelistRule: {
		extraColumns: []string{"rule_name", "api_route_id"},
		extraValues: func(e domain.Entity) []any {
			w := e.(*domain.WhitelistRule)
			return []any{w.RuleName, w.APIRouteID}
		},
	},
	domain.TypeLoadBalancerConfig: {
		extraColumns: []string{"backend_service_id"},
		extraValues: func(e domain.Entity) []any {
			l := e.(*domain.LoadBalancerConfig)
			return []any{l.BackendServiceID}
		},
	},
}

// childRef names a table column referencing a parent type, in cascade order.
type childRef struct {
	child    domain.EntityType
	fkColumn string
}

var dependentRefs = map[domain.EntityType][]childRef{
	domain.TypeBackendService: {
		{domain.TypeApiRoute, "backend_service_id"},
		{domain.TypeLoadBalancerConfig, "backend_service_id"},
	},
	domain.TypeApiRoute: {
		{domain.TypeRateLimitPolicy, "api_route_id"},
		{domain.TypeWhitelistRule, "api_route_id"},
	},
}

// Mutate runs fn in a serializable transaction so concurrent mutations
// contending on sequence counters or unique keys serialize through the
// database rather than through application locks.
func (p *Postgres) Mutate(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx, pgReader: pgReader{q: tx}}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// ReadView runs fn in a repeatable-read read-only transaction: one consistent
// view across every entity table, without application-level locking.
func (p *Postgres) ReadView(ctx context.Context, fn func(View) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapPgError(fmt.Errorf("failed to begin read transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx, pgReader: pgReader{q: tx}}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("failed to commit read transaction: %w", err))
	}
	return nil
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
	pgReader
}

func (t *pgTx) InsertEntity(ctx context.Context, e domain.Entity) error {
	spec, ok := tableSpecs[e.Type()]
	if !ok {
		return fmt.Errorf("unknown entity type %q", e.Type())
	}
	data, err := domain.EncodeEntity(e)
	if err != nil {
		return err
	}

	columns := append([]string{"id", "is_active", "created_at", "updated_at", "data"}, spec.extraColumns...)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	args := append([]any{e.EntityID(), e.Active(), e.Created(), e.Updated(), data}, spec.extraValues(e)...)

	_, err = t.tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			e.Type(), strings.Join(columns, ", "), strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", e.Type(), err)
	}
	return nil
}

func (t *pgTx) UpdateEntity(ctx context.Context, e domain.Entity) error {
	spec, ok := tableSpecs[e.Type()]
	if !ok {
		return fmt.Errorf("unknown entity type %q", e.Type())
	}
	data, err := domain.EncodeEntity(e)
	if err != nil {
		return err
	}

	assignments := []string{"is_active = $2", "updated_at = $3", "data = $4"}
	args := []any{e.EntityID(), e.Active(), e.Updated(), data}
	for i, col := range spec.extraColumns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, i+5))
	}
	args = append(args, spec.extraValues(e)...)

	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", e.Type(), strings.Join(assignments, ", ")),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", e.Type(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteEntity(ctx context.Context, typ domain.EntityType, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", typ), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", typ, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// NextSequence increments the per-type counter row. The row-level lock taken
// by the update serializes concurrent mutations of the same type, and a
// rollback undoes the increment, which is what keeps sequences gap-free.
func (t *pgTx) NextSequence(ctx context.Context, typ domain.EntityType) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO entity_sequences (entity_type, current_value)
		 VALUES ($1, 1)
		 ON CONFLICT (entity_type)
		 DO UPDATE SET current_value = entity_sequences.current_value + 1
		 RETURNING current_value`,
		string(typ),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence for %s: %w", typ, err)
	}
	return next, nil
}

func (t *pgTx) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO config_audit_log (id, table_name, record_id, operation, old_state, new_state, actor, sequence, committed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(rec.TableName), rec.RecordID, string(rec.Operation),
		rec.OldState, rec.NewState, rec.Actor, rec.Sequence, rec.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSnapshot(ctx context.Context, snap domain.ConfigSnapshot) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO config_versions (id, version_name, description, created_by, created_at, snapshot_data)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		snap.ID, snap.VersionName, snap.Description, snap.CreatedBy, snap.CreatedAt, snap.SnapshotData,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// pgReader implements View over either the pool or an open transaction.
type pgReader struct {
	q pgQuerier
}

func (r pgReader) GetEntity(ctx context.Context, typ domain.EntityType, id uuid.UUID) (domain.Entity, error) {
	var data []byte
	err := r.q.QueryRow(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = $1", typ), id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapPgError(fmt.Errorf("failed to get %s: %w", typ, err))
	}
	return domain.DecodeEntity(typ, data)
}

func (r pgReader) ListEntities(ctx context.Context, typ domain.EntityType, activeOnly bool) ([]domain.Entity, error) {
	query := fmt.Sprintf("SELECT data FROM %s", typ)
	if activeOnly {
		query += " WHERE is_active = true"
	}
	query += " ORDER BY created_at, id"

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, mapPgError(fmt.Errorf("failed to list %s: %w", typ, err))
	}
	defer rows.Close()
	return scanEntities(rows, typ)
}

func (r pgReader) ListDependents(ctx context.Context, parent domain.EntityType, parentID uuid.UUID) ([]domain.Entity, error) {
	var out []domain.Entity
	for _, ref := range dependentRefs[parent] {
		rows, err := r.q.Query(ctx,
			fmt.Sprintf("SELECT data FROM %s WHERE %s = $1 ORDER BY created_at, id", ref.child, ref.fkColumn),
			parentID,
		)
		if err != nil {
			return nil, mapPgError(fmt.Errorf("failed to list %s dependents: %w", ref.child, err))
		}
		children, err := scanEntities(rows, ref.child)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	return out, nil
}

func (r pgReader) CheckUnique(ctx context.Context, e domain.Entity) error {
	var query string
	var args []any
	switch v := e.(type) {
	case *domain.BackendService:
		query, args = "SELECT id FROM backend_services WHERE name = $1 AND id <> $2", []any{v.Name, v.ID}
	case *domain.ApiRoute:
		query, args = "SELECT id FROM api_routes WHERE path_pattern = $1 AND method = $2 AND id <> $3",
			[]any{v.PathPattern, string(v.Method), v.ID}
	case *domain.RateLimitPolicy:
		query, args = "SELECT id FROM rate_limits WHERE name = $1 AND id <> $2", []any{v.Name, v.ID}
	case *domain.WhitelistRule:
		query, args = "SELECT id FROM whitelist_rules WHERE rule_name = $1 AND id <> $2", []any{v.RuleName, v.ID}
	case *domain.LoadBalancerConfig:
		query, args = "SELECT id FROM load_balancer_config WHERE backend_service_id = $1 AND id <> $2",
			[]any{v.BackendServiceID, v.ID}
	default:
		return fmt.Errorf("unknown entity type %q", e.Type())
	}

	var existing uuid.UUID
	err := r.q.QueryRow(ctx, query, args...).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return mapPgError(fmt.Errorf("failed to check uniqueness for %s: %w", e.Type(), err))
	}
	claims := uniqueClaims(e)
	return &domain.ConflictError{Constraint: claims[0].constraint, Value: claims[0].value}
}

func scanEntities(rows pgx.Rows, typ domain.EntityType) ([]domain.Entity, error) {
	entities := []domain.Entity{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", typ, err)
		}
		e, err := domain.DecodeEntity(typ, data)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(fmt.Errorf("failed to iterate %s rows: %w", typ, err))
	}
	return entities, nil
}

// mapPgError translates Postgres failures into the domain taxonomy. Unique
// violations and foreign-key violations act as a backstop behind the
// gateway's own pre-checks; serialization failures and lock timeouts are
// retried by the gateway.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &domain.ConflictError{Constraint: pgErr.ConstraintName, Value: pgErr.Detail}
		case "23503":
			return &domain.ReferentialIntegrityError{Type: domain.EntityType(pgErr.TableName), ID: pgErr.Detail}
		case "40001", "40P01", "55P03":
			return &domain.TransientError{Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientError{Err: err}
	}
	return err
}
