package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lovelink/internal/domain/entity"
	"lovelink/internal/infrastructure/lifecycle"
	"lovelink/pkg/errors"
)

func TestEnsureRecordDoesNotOverwrite(t *testing.T) {
	f := newPresenceFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.uc.EnsureRecord(ctx, 7, map[string]interface{}{"displayName": "Seven"}))
	assert.Equal(t, entity.PresenceOffline, f.presence(t, 7).Status)

	require.NoError(t, f.uc.SetStatus(ctx, 7, entity.PresenceOnline))
	require.NoError(t, f.uc.EnsureRecord(ctx, 7, nil))

	assert.Equal(t, entity.PresenceOnline, f.presence(t, 7).Status)
	doc, err := f.store.Get("presence/7")
	require.NoError(t, err)
	assert.Equal(t, "Seven", doc.Data["displayName"])
}

func TestSetStatusOfflineStampsLastSeen(t *testing.T) {
	f := newPresenceFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.uc.SetStatus(ctx, 7, entity.PresenceOnline))
	assert.Nil(t, f.presence(t, 7).LastSeen)

	require.NoError(t, f.uc.SetStatus(ctx, 7, entity.PresenceOffline))
	p := f.presence(t, 7)
	assert.False(t, p.IsOnline())
	require.NotNil(t, p.LastSeen)
	require.NotNil(t, p.UpdatedAt)

	err := f.uc.SetStatus(ctx, 7, entity.PresenceStatus("away"))
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestGetPresenceWithoutRecordIsOffline(t *testing.T) {
	f := newPresenceFixture(t, 10)

	p, err := f.uc.GetPresence(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "42", p.UserID)
	assert.False(t, p.IsOnline())
}

func TestListenPresenceEmptyRosterAnswersImmediately(t *testing.T) {
	f := newPresenceFixture(t, 10)

	var rec recorder[map[string]bool]
	unsub := f.uc.ListenPresenceForUsers(context.Background(), nil, rec.record)

	got, calls := rec.latest()
	assert.Equal(t, 1, calls)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 0, f.store.ListenerCount())
	unsub()
}

func TestListenPresenceSplitsLargeRosters(t *testing.T) {
	f := newPresenceFixture(t, 10)
	ctx := context.Background()

	ids := make([]int64, 0, 25)
	for i := int64(1); i <= 25; i++ {
		ids = append(ids, i)
		if i == 25 {
			continue
		}
		status := entity.PresenceOffline
		if i%2 == 0 {
			status = entity.PresenceOnline
		}
		require.NoError(t, f.uc.SetStatus(ctx, i, status))
	}
	ids = append(ids, 3, 3)

	var rec recorder[map[string]bool]
	unsub := f.uc.ListenPresenceForUsers(ctx, ids, rec.record)
	defer unsub()

	assert.Equal(t, 3, f.store.ListenerCount())
	assert.Eventually(t, func() bool {
		got, _ := rec.latest()
		return len(got) == 25
	}, time.Second, 5*time.Millisecond)

	got, _ := rec.latest()
	for i := int64(1); i <= 24; i++ {
		assert.Equal(t, i%2 == 0, got[UserKey(i)], "user %d", i)
	}
	assert.False(t, got["25"])

	require.NoError(t, f.uc.SetStatus(ctx, 25, entity.PresenceOnline))
	assert.Eventually(t, func() bool {
		got, _ := rec.latest()
		return len(got) == 25 && got["25"]
	}, time.Second, 5*time.Millisecond)

	got, _ = rec.latest()
	assert.True(t, got["24"])
	assert.False(t, got["1"])
}

func TestListenPresenceUnsubscribeReleasesEveryGroup(t *testing.T) {
	f := newPresenceFixture(t, 2)

	unsub := f.uc.ListenPresenceForUsers(context.Background(), []int64{1, 2, 3, 4, 5}, func(map[string]bool) {})
	assert.Equal(t, 3, f.store.ListenerCount())

	unsub()
	unsub()
	assert.Equal(t, 0, f.store.ListenerCount())
}

func TestStartTrackingFollowsLifecycle(t *testing.T) {
	f := newPresenceFixture(t, 10)
	source := lifecycle.NewBroadcaster()

	stop := f.uc.StartTracking(context.Background(), 7, source)
	defer stop()

	assert.True(t, f.presence(t, 7).IsOnline())
	assert.Equal(t, 1, source.Subscribers())

	source.Publish(lifecycle.Background)
	assert.Eventually(t, func() bool {
		return !f.presence(t, 7).IsOnline()
	}, time.Second, 5*time.Millisecond)

	source.Publish(lifecycle.Active)
	assert.Eventually(t, func() bool {
		return f.presence(t, 7).IsOnline()
	}, time.Second, 5*time.Millisecond)
}

func TestStopTrackingEndsOfflineAfterBurst(t *testing.T) {
	f := newPresenceFixture(t, 10)
	source := lifecycle.NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	stop := f.uc.StartTracking(ctx, 7, source)
	cancel()

	for i := 0; i < 50; i++ {
		source.Publish(lifecycle.Inactive)
		source.Publish(lifecycle.Active)
	}
	stop()

	p := f.presence(t, 7)
	assert.Equal(t, entity.PresenceOffline, p.Status)
	assert.NotNil(t, p.LastSeen)
	assert.Equal(t, 0, source.Subscribers())

	source.Publish(lifecycle.Active)
	stop()
	assert.Equal(t, entity.PresenceOffline, f.presence(t, 7).Status)
}

func TestReplacingStopperKeepsNewTrackerOnline(t *testing.T) {
	f := newPresenceFixture(t, 10)
	stoppers := NewStopperRegistry()

	stopA := f.uc.StartTracking(context.Background(), 7, lifecycle.NewBroadcaster())
	defer stopA()
	stoppers.SetPresenceStopper(7, stopA)
	stopB := f.uc.StartTracking(context.Background(), 7, lifecycle.NewBroadcaster())
	defer stopB()
	stoppers.SetPresenceStopper(7, stopB)

	assert.Equal(t, entity.PresenceOnline, f.presence(t, 7).Status)
}

func TestSecondConnectionStaysOnlineAfterFirstCloses(t *testing.T) {
	f := newPresenceFixture(t, 10)
	stoppers := NewStopperRegistry()

	// Same order as the websocket handler: stop whatever is current, then track.
	connect := func() func() {
		stoppers.StopPresenceIfAny(7)
		stop := f.uc.StartTracking(context.Background(), 7, lifecycle.NewBroadcaster())
		return stoppers.SetPresenceStopper(7, stop)
	}

	closeA := connect()
	closeB := connect()
	assert.Equal(t, entity.PresenceOnline, f.presence(t, 7).Status)

	closeA()
	assert.Equal(t, entity.PresenceOnline, f.presence(t, 7).Status)

	closeB()
	assert.Equal(t, entity.PresenceOffline, f.presence(t, 7).Status)
	assert.False(t, stoppers.StopPresenceIfAny(7))
}
