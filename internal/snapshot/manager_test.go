package snapshot

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/gateway"
	"github.com/karateway/controlplane/internal/store"
)

func seedService(t *testing.T, gw *gateway.Gateway, name string) *domain.BackendService {
	t.Helper()
	created, err := gw.Create(context.Background(), &domain.BackendService{
		Name:    name,
		BaseURL: "http://" + name + ".internal:8080",
	}, "test")
	require.NoError(t, err)
	return created.(*domain.BackendService)
}

func TestSnapshotIsImmutable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	gw := gateway.New(mem, gateway.NopPublisher{})
	mgr := NewManager(mem)

	seedService(t, gw, "billing")
	svc := seedService(t, gw, "orders")

	id, err := mgr.Create(ctx, "v1.0.0", "before rollout", "alice")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	first, err := mgr.Get(ctx, "v1.0.0")
	require.NoError(t, err)

	// Later mutations must not leak into the stored capture.
	changed := domain.CloneEntity(svc).(*domain.BackendService)
	changed.BaseURL = "https://orders.internal:9443"
	_, err = gw.Update(ctx, changed, "alice")
	require.NoError(t, err)
	require.NoError(t, gw.Delete(ctx, domain.TypeBackendService, svc.ID, "alice"))

	second, err := mgr.Get(ctx, "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, first.SnapshotData, second.SnapshotData)

	decoded, err := Decode(second)
	require.NoError(t, err)
	require.Len(t, decoded[domain.TypeBackendService], 2)
}

func TestSnapshotCapturesActiveOnly(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	gw := gateway.New(mem, gateway.NopPublisher{})
	mgr := NewManager(mem)

	seedService(t, gw, "billing")
	dormant := seedService(t, gw, "legacy")

	off := domain.CloneEntity(dormant).(*domain.BackendService)
	off.IsActive = false
	_, err := gw.Update(ctx, off, "alice")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, "v2", "", "alice")
	require.NoError(t, err)

	snap, err := mgr.Get(ctx, "v2")
	require.NoError(t, err)
	decoded, err := Decode(snap)
	require.NoError(t, err)

	services := decoded[domain.TypeBackendService]
	require.Len(t, services, 1)
	assert.Equal(t, "billing", services[0].(*domain.BackendService).Name)
}

func TestDuplicateVersionNameConflicts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mgr := NewManager(mem)

	_, err := mgr.Create(ctx, "v1", "", "alice")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, "v1", "", "bob")
	var cerr *domain.ConflictError
	require.ErrorAs(t, err, &cerr)

	// The failed attempt stored nothing.
	snaps, err := mgr.List(ctx, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	assert.Equal(t, "alice", snaps[0].CreatedBy)
}

func TestVersionNameValidated(t *testing.T) {
	mgr := NewManager(store.NewMemory())

	_, err := mgr.Create(context.Background(), "", "", "alice")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "version_name", verr.Field)
}

func TestGetUnknownSnapshotNotFound(t *testing.T) {
	mgr := NewManager(store.NewMemory())

	_, err := mgr.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(store.NewMemory())

	for _, name := range []string{"v1", "v2", "v3"} {
		_, err := mgr.Create(ctx, name, "", "alice")
		require.NoError(t, err)
	}

	snaps, err := mgr.List(ctx, domain.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "v3", snaps[0].VersionName)
	assert.Equal(t, "v2", snaps[1].VersionName)
}
