// Package snapshot captures named, immutable point-in-time views of all
// active configuration. There is no restore operation; snapshots are written
// once and served verbatim.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/store"
)

// Manager creates and serves configuration snapshots.
type Manager struct {
	store store.Store
	now   func() time.Time
}

// NewManager wires a manager over the store.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create captures every active entity in one consistent view and stores it
// under the given version name. A duplicate name is rejected with a
// ConflictError and leaves nothing behind.
func (m *Manager) Create(ctx context.Context, versionName, description, actor string) (uuid.UUID, error) {
	if err := domain.ValidateVersionName(versionName); err != nil {
		return uuid.Nil, err
	}

	snap := domain.ConfigSnapshot{
		ID:          uuid.New(),
		VersionName: versionName,
		Description: description,
		CreatedBy:   actor,
		CreatedAt:   m.now().UTC(),
	}

	err := m.store.Mutate(ctx, func(tx store.Tx) error {
		capture := make(map[string][]domain.Entity, len(domain.EntityTypes))
		for _, t := range domain.EntityTypes {
			entities, err := tx.ListEntities(ctx, t, true)
			if err != nil {
				return err
			}
			capture[string(t)] = entities
		}
		data, err := json.Marshal(capture)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot data: %w", err)
		}
		snap.SnapshotData = data
		return tx.InsertSnapshot(ctx, snap)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return snap.ID, nil
}

// Get returns a stored snapshot by version name, byte-identical on every read.
func (m *Manager) Get(ctx context.Context, versionName string) (domain.ConfigSnapshot, error) {
	return m.store.GetSnapshot(ctx, versionName)
}

// List returns snapshots, newest first.
func (m *Manager) List(ctx context.Context, page domain.Page) ([]domain.ConfigSnapshot, error) {
	return m.store.ListSnapshots(ctx, page)
}

// Decode unpacks a snapshot's data into typed entity lists, used by the
// export surface and by operators inspecting a capture.
func Decode(snap domain.ConfigSnapshot) (map[domain.EntityType][]domain.Entity, error) {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(snap.SnapshotData, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot data: %w", err)
	}
	out := make(map[domain.EntityType][]domain.Entity, len(raw))
	for name, items := range raw {
		t, err := domain.ParseEntityType(name)
		if err != nil {
			return nil, err
		}
		entities := make([]domain.Entity, 0, len(items))
		for _, item := range items {
			e, err := domain.DecodeEntity(t, item)
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
		out[t] = entities
	}
	return out, nil
}
