package feed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karateway/controlplane/internal/domain"
)

func event(t domain.EntityType, seq int64) domain.ChangeEvent {
	return domain.ChangeEvent{
		EntityType:  t,
		RecordID:    uuid.New(),
		Operation:   domain.OpUpdate,
		Sequence:    seq,
		CommittedAt: time.Now().UTC(),
	}
}

func recv(t *testing.T, sub *Subscription) domain.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed early: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.ChangeEvent{}
	}
}

func waitClosed(t *testing.T, sub *Subscription) []domain.ChangeEvent {
	t.Helper()
	var drained []domain.ChangeEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return drained
			}
			drained = append(drained, ev)
		case <-deadline:
			t.Fatal("timed out waiting for subscription to close")
		}
	}
}

func TestDeliversInCommitOrder(t *testing.T) {
	f := New(8, nil, nil)
	defer f.Close()

	sub, err := f.Subscribe(domain.TypeBackendService)
	require.NoError(t, err)

	e1 := event(domain.TypeBackendService, 1)
	e2 := event(domain.TypeBackendService, 2)
	e3 := event(domain.TypeBackendService, 3)
	f.Publish(e1, e2, e3)

	assert.Equal(t, e1.RecordID, recv(t, sub).RecordID)
	assert.Equal(t, e2.RecordID, recv(t, sub).RecordID)
	assert.Equal(t, e3.RecordID, recv(t, sub).RecordID)
}

// Publishes racing out of commit order are reordered before delivery.
func TestReordersLatePublishes(t *testing.T) {
	f := New(8, nil, nil)
	defer f.Close()

	sub, err := f.Subscribe(domain.TypeApiRoute)
	require.NoError(t, err)

	e1 := event(domain.TypeApiRoute, 1)
	e2 := event(domain.TypeApiRoute, 2)
	f.Publish(e2)
	f.Publish(e1)

	assert.Equal(t, int64(1), recv(t, sub).Sequence)
	assert.Equal(t, int64(2), recv(t, sub).Sequence)
}

func TestResumesAfterStartSequence(t *testing.T) {
	f := New(8, map[domain.EntityType]int64{domain.TypeBackendService: 5}, nil)
	defer f.Close()

	sub, err := f.Subscribe(domain.TypeBackendService)
	require.NoError(t, err)

	// Sequence 5 was committed before startup; only 6 is new.
	f.Publish(event(domain.TypeBackendService, 5))
	f.Publish(event(domain.TypeBackendService, 6))

	assert.Equal(t, int64(6), recv(t, sub).Sequence)
}

func TestFiltersByEntityType(t *testing.T) {
	f := New(8, nil, nil)
	defer f.Close()

	sub, err := f.Subscribe(domain.TypeRateLimitPolicy)
	require.NoError(t, err)

	f.Publish(event(domain.TypeBackendService, 1))
	f.Publish(event(domain.TypeRateLimitPolicy, 1))

	got := recv(t, sub)
	assert.Equal(t, domain.TypeRateLimitPolicy, got.EntityType)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	f := New(2, nil, nil)
	defer f.Close()

	slow, err := f.Subscribe(domain.TypeBackendService)
	require.NoError(t, err)
	healthy, err := f.Subscribe(domain.TypeBackendService)
	require.NoError(t, err)

	// Fill both backlogs, then drain only the healthy subscriber.
	f.Publish(
		event(domain.TypeBackendService, 1),
		event(domain.TypeBackendService, 2),
	)
	assert.Equal(t, int64(1), recv(t, healthy).Sequence)
	assert.Equal(t, int64(2), recv(t, healthy).Sequence)

	// The third event overruns the slow subscriber's backlog of 2.
	f.Publish(event(domain.TypeBackendService, 3))
	assert.Equal(t, int64(3), recv(t, healthy).Sequence)

	drained := waitClosed(t, slow)
	assert.Len(t, drained, 2)
	assert.ErrorIs(t, slow.Err(), ErrBacklogExceeded)

	// Resubscribing starts fresh: no replay of the missed events.
	again, err := f.Subscribe(domain.TypeBackendService)
	require.NoError(t, err)
	f.Publish(event(domain.TypeBackendService, 4))
	assert.Equal(t, int64(4), recv(t, again).Sequence)
}

func TestSubscriptionCloseIsClean(t *testing.T) {
	f := New(8, nil, nil)
	defer f.Close()

	sub, err := f.Subscribe()
	require.NoError(t, err)
	sub.Close()

	waitClosed(t, sub)
	assert.NoError(t, sub.Err())

	// Publishing after an unsubscribe must not panic or block.
	f.Publish(event(domain.TypeBackendService, 1))
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	f := New(8, nil, nil)

	sub, err := f.Subscribe()
	require.NoError(t, err)

	f.Close()
	waitClosed(t, sub)
	assert.NoError(t, sub.Err())

	_, err = f.Subscribe()
	assert.Error(t, err)
}

// Mutation commits can race shutdown; a publish arriving after Close must be
// a silent no-op, never a panic.
func TestPublishAfterCloseIsNoOp(t *testing.T) {
	f := New(8, nil, nil)
	f.Close()

	assert.NotPanics(t, func() {
		f.Publish(event(domain.TypeBackendService, 1))
	})
}

func TestSubscribeUnknownTypeFails(t *testing.T) {
	f := New(8, nil, nil)
	defer f.Close()

	_, err := f.Subscribe(domain.EntityType("bogus"))
	assert.Error(t, err)
}
