package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/store"
)

func appendRecord(t *testing.T, mem *store.Memory, committedAt time.Time) domain.AuditRecord {
	t.Helper()
	rec := domain.AuditRecord{
		ID:          uuid.New(),
		TableName:   domain.TypeBackendService,
		RecordID:    uuid.New(),
		Operation:   domain.OpInsert,
		NewState:    []byte(`{}`),
		Actor:       "test",
		CommittedAt: committedAt,
	}
	err := mem.Mutate(context.Background(), func(tx store.Tx) error {
		seq, err := tx.NextSequence(context.Background(), rec.TableName)
		if err != nil {
			return err
		}
		rec.Sequence = seq
		return tx.AppendAudit(context.Background(), rec)
	})
	require.NoError(t, err)
	return rec
}

func TestSweepPurgesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	now := time.Now().UTC()

	appendRecord(t, mem, now.Add(-100*24*time.Hour))
	fresh := appendRecord(t, mem, now.Add(-time.Hour))

	reaper := NewReaper(mem, DefaultRetention, time.Hour, nil)
	reaper.Sweep(ctx)

	records, err := mem.ListAudit(ctx, domain.AuditFilter{}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, fresh.ID, records[0].ID)
}

func TestSweepKeepsRecordsInsideWindow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	now := time.Now().UTC()

	appendRecord(t, mem, now.Add(-89*24*time.Hour))
	appendRecord(t, mem, now.Add(-time.Minute))

	reaper := NewReaper(mem, DefaultRetention, time.Hour, nil)
	reaper.Sweep(ctx)

	records, err := mem.ListAudit(ctx, domain.AuditFilter{}, domain.Page{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now().UTC()
	appendRecord(t, mem, now.Add(-100*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaper := NewReaper(mem, DefaultRetention, 5*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		records, err := mem.ListAudit(ctx, domain.AuditFilter{}, domain.Page{})
		return err == nil && len(records) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}

func TestTrailFiltersByRecord(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	now := time.Now().UTC()

	first := appendRecord(t, mem, now.Add(-2*time.Hour))
	second := appendRecord(t, mem, now.Add(-time.Hour))

	trail := NewTrail(mem)

	records, err := trail.List(ctx, domain.AuditFilter{RecordID: first.RecordID}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.ID, records[0].ID)

	records, err = trail.List(ctx, domain.AuditFilter{Since: now.Add(-90 * time.Minute)}, domain.Page{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second.ID, records[0].ID)
}
