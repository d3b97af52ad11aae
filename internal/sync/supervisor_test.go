package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/email"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
	"github.com/nhle/mailagent/tests/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeMailbox struct {
	mu       gosync.Mutex
	user     string
	startErr error
	starts   int
	stops    int
}

func (m *fakeMailbox) UserID() string { return m.user }

func (m *fakeMailbox) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return m.startErr
}

func (m *fakeMailbox) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMailbox) Health() email.HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return email.HealthMetrics{IsHealthy: m.starts > m.stops && m.startErr == nil}
}

type fakeDrainer struct{ stops int }

func (d *fakeDrainer) Stop(context.Context) { d.stops++ }

func TestSupervisorLifecycle(t *testing.T) {
	c := cron.New(cron.WithLocation(time.UTC))
	sup := New(testutil.NewTestStore(t), WithCron(c))
	ok := &fakeMailbox{user: "ann"}
	broken := &fakeMailbox{user: "bob", startErr: errors.New("invalid credentials")}
	drain := &fakeDrainer{}
	sup.Register("room-ann", ok, drain)
	sup.Register("room-bob", broken, nil)
	ctx := context.Background()

	err := sup.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox bob")
	require.NoError(t, sup.Start(ctx), "second start is a no-op")
	assert.Equal(t, 1, ok.starts)
	assert.Len(t, c.Entries(), 2)

	statuses := sup.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "ann", statuses[0].UserID)
	assert.Equal(t, "room-ann", statuses[0].RoomID)
	assert.True(t, statuses[0].Running)
	assert.True(t, statuses[0].Health.IsHealthy)
	assert.NoError(t, statuses[0].StartError)
	assert.Error(t, statuses[1].StartError)

	sup.Stop(ctx)
	sup.Stop(ctx)
	assert.Equal(t, 1, ok.stops)
	assert.Equal(t, 1, broken.stops)
	assert.Equal(t, 1, drain.stops)
	assert.False(t, sup.Statuses()[0].Running)

	require.Error(t, sup.Start(ctx))
	assert.Len(t, c.Entries(), 2, "jobs are scheduled once")
	sup.Stop(ctx)
}

func TestSupervisorExpiresDrafts(t *testing.T) {
	draft := testutil.Draft("p1", "room", "mail-1", epoch)
	draft.ExpiresAt = epoch.Add(time.Hour)
	st := testutil.NewTestStore(t, draft)
	clk := clock.Fake(epoch)
	sup := New(st, WithClock(clk))
	ctx := context.Background()

	n, err := sup.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Hour)
	n, err = sup.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := st.GetPendingReply(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusExpired, p.Status)
}

func TestSupervisorPrunesOldMemories(t *testing.T) {
	st := testutil.NewTestStore(t)
	clk := clock.Fake(epoch)
	sup := New(st, WithClock(clk), WithRetention(30*24*time.Hour))
	ctx := context.Background()

	add := func(id, collection string, age time.Duration) {
		require.NoError(t, st.CreateMemory(ctx, model.Memory{
			ID:         id,
			RoomID:     "room",
			Collection: collection,
			Text:       id,
			CreatedAt:  epoch.Add(-age),
		}))
	}
	add("old-email", model.CollectionEmails, 40*24*time.Hour)
	add("old-action", model.CollectionEmailActions, 31*24*time.Hour)
	add("fresh", model.CollectionEmails, time.Hour)

	n, err := sup.PruneMemories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := st.GetMemories(ctx, store.MemoryFilter{RoomID: "room"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].ID)
}
