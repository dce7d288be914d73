package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karateway/controlplane/internal/domain"
)

// Memory is an in-process Store with the same transactional contract as the
// Postgres store. Mutations stage against a copy of the state and swap it in
// on commit, so a failed mutation leaves nothing behind, including sequence
// increments.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	entities  map[domain.EntityType]map[uuid.UUID]domain.Entity
	unique    map[uniqueClaim]uuid.UUID
	sequences map[domain.EntityType]int64
	audit     []domain.AuditRecord
	snapshots []domain.ConfigSnapshot
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

func newMemState() *memState {
	s := &memState{
		entities:  make(map[domain.EntityType]map[uuid.UUID]domain.Entity),
		unique:    make(map[uniqueClaim]uuid.UUID),
		sequences: make(map[domain.EntityType]int64),
	}
	for _, t := range domain.EntityTypes {
		s.entities[t] = make(map[uuid.UUID]domain.Entity)
	}
	return s
}

func (s *memState) clone() *memState {
	c := newMemState()
	for t, byID := range s.entities {
		for id, e := range byID {
			c.entities[t][id] = domain.CloneEntity(e)
		}
	}
	for k, v := range s.unique {
		c.unique[k] = v
	}
	for t, v := range s.sequences {
		c.sequences[t] = v
	}
	c.audit = append([]domain.AuditRecord(nil), s.audit...)
	c.snapshots = append([]domain.ConfigSnapshot(nil), s.snapshots...)
	return c
}

// Mutate stages fn against a copy of the state and commits by swapping it in.
func (m *Memory) Mutate(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := m.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

// ReadView runs fn over the current state under a read lock, which gives the
// same consistency as a snapshot-isolation read without blocking writers that
// arrive afterwards.
func (m *Memory) ReadView(ctx context.Context, fn func(View) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{state: m.state})
}

func (m *Memory) GetEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) (domain.Entity, error) {
	var out domain.Entity
	err := m.ReadView(ctx, func(v View) error {
		e, err := v.GetEntity(ctx, t, id)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (m *Memory) ListEntities(ctx context.Context, t domain.EntityType, activeOnly bool) ([]domain.Entity, error) {
	var out []domain.Entity
	err := m.ReadView(ctx, func(v View) error {
		list, err := v.ListEntities(ctx, t, activeOnly)
		if err != nil {
			return err
		}
		out = list
		return nil
	})
	return out, err
}

func (m *Memory) CurrentSequences(ctx context.Context) (map[domain.EntityType]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.EntityType]int64, len(m.state.sequences))
	for t, v := range m.state.sequences {
		out[t] = v
	}
	return out, nil
}

func (m *Memory) ListAudit(ctx context.Context, filter domain.AuditFilter, page domain.Page) ([]domain.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page = page.Normalize()

	matched := make([]domain.AuditRecord, 0)
	// Newest first, matching the Postgres ordering.
	for i := len(m.state.audit) - 1; i >= 0; i-- {
		rec := m.state.audit[i]
		if filter.TableName != "" && rec.TableName != filter.TableName {
			continue
		}
		if filter.RecordID != uuid.Nil && rec.RecordID != filter.RecordID {
			continue
		}
		if !filter.Since.IsZero() && rec.CommittedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.CommittedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, rec)
	}
	if page.Offset >= len(matched) {
		return []domain.AuditRecord{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Offset:end], nil
}

func (m *Memory) PurgeAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.state.audit[:0:0]
	var removed int64
	for _, rec := range m.state.audit {
		if rec.CommittedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.state.audit = kept
	return removed, nil
}

func (m *Memory) GetSnapshot(ctx context.Context, versionName string) (domain.ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, snap := range m.state.snapshots {
		if snap.VersionName == versionName {
			return snap, nil
		}
	}
	return domain.ConfigSnapshot{}, domain.ErrNotFound
}

func (m *Memory) ListSnapshots(ctx context.Context, page domain.Page) ([]domain.ConfigSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page = page.Normalize()

	out := make([]domain.ConfigSnapshot, 0, len(m.state.snapshots))
	for i := len(m.state.snapshots) - 1; i >= 0; i-- {
		out = append(out, m.state.snapshots[i])
	}
	if page.Offset >= len(out) {
		return []domain.ConfigSnapshot{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[page.Offset:end], nil
}

// memTx operates on staged state; Memory.Mutate handles commit and rollback.
type memTx struct {
	state *memState
}

func (tx *memTx) GetEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) (domain.Entity, error) {
	e, ok := tx.state.entities[t][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return domain.CloneEntity(e), nil
}

func (tx *memTx) ListEntities(ctx context.Context, t domain.EntityType, activeOnly bool) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(tx.state.entities[t]))
	for _, e := range tx.state.entities[t] {
		if activeOnly && !e.Active() {
			continue
		}
		out = append(out, domain.CloneEntity(e))
	}
	sortEntities(out)
	return out, nil
}

func (tx *memTx) ListDependents(ctx context.Context, parent domain.EntityType, parentID uuid.UUID) ([]domain.Entity, error) {
	var out []domain.Entity
	for _, t := range domain.EntityTypes {
		var ofType []domain.Entity
		for _, e := range tx.state.entities[t] {
			for _, ref := range e.References() {
				if ref.Type == parent && ref.ID == parentID {
					ofType = append(ofType, domain.CloneEntity(e))
					break
				}
			}
		}
		sortEntities(ofType)
		out = append(out, ofType...)
	}
	return out, nil
}

func (tx *memTx) CheckUnique(ctx context.Context, e domain.Entity) error {
	for _, claim := range uniqueClaims(e) {
		if owner, ok := tx.state.unique[claim]; ok && owner != e.EntityID() {
			return &domain.ConflictError{Constraint: claim.constraint, Value: claim.value}
		}
	}
	return nil
}

func (tx *memTx) InsertEntity(ctx context.Context, e domain.Entity) error {
	if err := tx.CheckUnique(ctx, e); err != nil {
		return err
	}
	t := e.Type()
	tx.state.entities[t][e.EntityID()] = domain.CloneEntity(e)
	for _, claim := range uniqueClaims(e) {
		tx.state.unique[claim] = e.EntityID()
	}
	return nil
}

func (tx *memTx) UpdateEntity(ctx context.Context, e domain.Entity) error {
	t := e.Type()
	current, ok := tx.state.entities[t][e.EntityID()]
	if !ok {
		return domain.ErrNotFound
	}
	if err := tx.CheckUnique(ctx, e); err != nil {
		return err
	}
	for _, claim := range uniqueClaims(current) {
		delete(tx.state.unique, claim)
	}
	tx.state.entities[t][e.EntityID()] = domain.CloneEntity(e)
	for _, claim := range uniqueClaims(e) {
		tx.state.unique[claim] = e.EntityID()
	}
	return nil
}

func (tx *memTx) DeleteEntity(ctx context.Context, t domain.EntityType, id uuid.UUID) error {
	current, ok := tx.state.entities[t][id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, claim := range uniqueClaims(current) {
		delete(tx.state.unique, claim)
	}
	delete(tx.state.entities[t], id)
	return nil
}

func (tx *memTx) NextSequence(ctx context.Context, t domain.EntityType) (int64, error) {
	tx.state.sequences[t]++
	return tx.state.sequences[t], nil
}

func (tx *memTx) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	tx.state.audit = append(tx.state.audit, rec)
	return nil
}

func (tx *memTx) InsertSnapshot(ctx context.Context, snap domain.ConfigSnapshot) error {
	for _, existing := range tx.state.snapshots {
		if existing.VersionName == snap.VersionName {
			return &domain.ConflictError{Constraint: "config_versions.version_name", Value: snap.VersionName}
		}
	}
	tx.state.snapshots = append(tx.state.snapshots, snap)
	return nil
}

func sortEntities(entities []domain.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		ti, tj := entities[i].Created(), entities[j].Created()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		a, b := entities[i].EntityID(), entities[j].EntityID()
		return bytes.Compare(a[:], b[:]) < 0
	})
}
