package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/karateway/controlplane/internal/domain"
)

func (p *Postgres) CurrentSequences(ctx context.Context) (map[domain.EntityType]int64, error) {
	rows, err := p.pool.Query(ctx, "SELECT entity_type, current_value FROM entity_sequences")
	if err != nil {
		return nil, mapPgError(fmt.Errorf("failed to read sequence counters: %w", err))
	}
	defer rows.Close()

	out := make(map[domain.EntityType]int64)
	for rows.Next() {
		var t string
		var v int64
		if err := rows.Scan(&t, &v); err != nil {
			return nil, fmt.Errorf("failed to scan sequence counter: %w", err)
		}
		out[domain.EntityType(t)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(fmt.Errorf("failed to iterate sequence counters: %w", err))
	}
	return out, nil
}

func (p *Postgres) ListAudit(ctx context.Context, filter domain.AuditFilter, page domain.Page) ([]domain.AuditRecord, error) {
	page = page.Normalize()

	query := `SELECT id, table_name, record_id, operation, old_state, new_state, actor, sequence, committed_at
		 FROM config_audit_log`
	conditions := []string{}
	args := []any{}

	if filter.TableName != "" {
		args = append(args, string(filter.TableName))
		conditions = append(conditions, fmt.Sprintf("table_name = $%d", len(args)))
	}
	if filter.RecordID != uuid.Nil {
		args = append(args, filter.RecordID)
		conditions = append(conditions, fmt.Sprintf("record_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("committed_at >= $%d", len(args)))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		conditions = append(conditions, fmt.Sprintf("committed_at <= $%d", len(args)))
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	args = append(args, page.Limit, page.Offset)
	query += fmt.Sprintf(" ORDER BY committed_at DESC, sequence DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(fmt.Errorf("failed to list audit records: %w", err))
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var rec domain.AuditRecord
		var tableName, operation string
		if err := rows.Scan(&rec.ID, &tableName, &rec.RecordID, &operation,
			&rec.OldState, &rec.NewState, &rec.Actor, &rec.Sequence, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.TableName = domain.EntityType(tableName)
		rec.Operation = domain.Operation(operation)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(fmt.Errorf("failed to iterate audit records: %w", err))
	}
	return records, nil
}

func (p *Postgres) PurgeAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM config_audit_log WHERE committed_at < $1", olderThan)
	if err != nil {
		return 0, mapPgError(fmt.Errorf("failed to purge audit records: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, versionName string) (domain.ConfigSnapshot, error) {
	var snap domain.ConfigSnapshot
	err := p.pool.QueryRow(ctx,
		`SELECT id, version_name, description, created_by, created_at, snapshot_data
		 FROM config_versions WHERE version_name = $1`,
		versionName,
	).Scan(&snap.ID, &snap.VersionName, &snap.Description, &snap.CreatedBy, &snap.CreatedAt, &snap.SnapshotData)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConfigSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ConfigSnapshot{}, mapPgError(fmt.Errorf("failed to get snapshot: %w", err))
	}
	return snap, nil
}

func (p *Postgres) ListSnapshots(ctx context.Context, page domain.Page) ([]domain.ConfigSnapshot, error) {
	page = page.Normalize()

	rows, err := p.pool.Query(ctx,
		`SELECT id, version_name, description, created_by, created_at, snapshot_data
		 FROM config_versions ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		page.Limit, page.Offset,
	)
	if err != nil {
		return nil, mapPgError(fmt.Errorf("failed to list snapshots: %w", err))
	}
	defer rows.Close()

	snapshots := []domain.ConfigSnapshot{}
	for rows.Next() {
		var snap domain.ConfigSnapshot
		if err := rows.Scan(&snap.ID, &snap.VersionName, &snap.Description, &snap.CreatedBy,
			&snap.CreatedAt, &snap.SnapshotData); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(fmt.Errorf("failed to iterate snapshots: %w", err))
	}
	return snapshots, nil
}
