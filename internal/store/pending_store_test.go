package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
	"github.com/nhle/mailagent/tests/testutil"
)

func pending(id, target string, at time.Time) model.PendingReply {
	return testutil.Draft(id, "room", target, at)
}

func TestPendingReplyLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingReply(ctx, pending("p1", "mail-1", base)))
	assert.ErrorIs(t, s.CreatePendingReply(ctx, pending("p2", "mail-1", base)), store.ErrDuplicatePending)

	found, err := s.FindPendingReply(ctx, store.PendingFilter{RoomID: "room", TargetEmailUUID: "mail-1", Now: base})
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)
	assert.Equal(t, []string{"<a@example.com>"}, found.References)
	assert.Equal(t, model.PendingStatusPending, found.Status)

	require.NoError(t, s.UpdatePendingReplyBody(ctx, "p1", "edited"))

	claimed, err := s.ClaimPendingReply(ctx, "p1", base)
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.ClaimPendingReply(ctx, "p1", base)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, s.ReleasePendingReply(ctx, "p1"))
	claimed, err = s.ClaimPendingReply(ctx, "p1", base)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.CompletePendingReply(ctx, "p1", "<sent@example.com>", base.Add(time.Minute)))

	got, err := s.GetPendingReply(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusSent, got.Status)
	assert.Equal(t, "edited", got.Body)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, "<sent@example.com>", got.ProviderMessageID)

	_, err = s.FindPendingReply(ctx, store.PendingFilter{TargetEmailUUID: "mail-1", Now: base})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Once sent, a fresh draft for the same email is allowed.
	require.NoError(t, s.CreatePendingReply(ctx, pending("p3", "mail-1", base.Add(time.Hour))))
}

func TestPendingReplyExpiry(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := pending("p1", "mail-1", base)
	p.ExpiresAt = base.Add(time.Hour)
	require.NoError(t, s.CreatePendingReply(ctx, p))

	_, err := s.FindPendingReply(ctx, store.PendingFilter{TargetEmailUUID: "mail-1", Now: base.Add(2 * time.Hour)})
	assert.ErrorIs(t, err, store.ErrNotFound)

	claimed, err := s.ClaimPendingReply(ctx, "p1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed)

	// An expired draft does not block a new one.
	require.NoError(t, s.CreatePendingReply(ctx, pending("p2", "mail-1", base.Add(2*time.Hour))))
	old, err := s.GetPendingReply(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusExpired, old.Status)

	n, err := s.ExpirePendingReplies(ctx, base.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFindPendingReplyRespectsLookback(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingReply(ctx, pending("p1", "mail-1", base)))

	_, err := s.FindPendingReply(ctx, store.PendingFilter{
		RoomID: "room",
		Since:  base.Add(time.Hour),
		Now:    base.Add(2 * time.Hour),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindPendingReply(ctx, store.PendingFilter{RoomID: "other", Now: base})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSupersedeAndCancel(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingReply(ctx, pending("p1", "mail-1", base)))
	n, err := s.SupersedePendingReplies(ctx, "room", "mail-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.CreatePendingReply(ctx, pending("p2", "mail-1", base)))
	ok, err := s.CancelPendingReply(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CancelPendingReply(ctx, "p2")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.ListPendingReplies(ctx, "mail-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, p := range all {
		assert.Equal(t, model.PendingStatusSuperseded, p.Status)
	}
}

func TestPendingRepliesAreScopedByRoom(t *testing.T) {
	s := testutil.NewTestStore(t,
		testutil.Draft("pa", "room-a", "mail-1", base),
		testutil.Draft("pb", "room-b", "mail-1", base),
	)
	ctx := context.Background()

	found, err := s.FindPendingReply(ctx, store.PendingFilter{RoomID: "room-b", TargetEmailUUID: "mail-1", Now: base})
	require.NoError(t, err)
	assert.Equal(t, "pb", found.ID)

	n, err := s.SupersedePendingReplies(ctx, "room-b", "mail-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetPendingReply(ctx, "pa")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusPending, got.Status)
}

func TestStaleClaimIsRecovered(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingReply(ctx, pending("p1", "mail-1", base)))
	claimed, err := s.ClaimPendingReply(ctx, "p1", base)
	require.NoError(t, err)
	require.True(t, claimed)

	// A fresh claim hides the reply and blocks a second draft.
	soon := base.Add(time.Minute)
	_, err = s.FindPendingReply(ctx, store.PendingFilter{RoomID: "room", Now: soon})
	assert.ErrorIs(t, err, store.ErrNotFound)
	claimed, err = s.ClaimPendingReply(ctx, "p1", soon)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.ErrorIs(t, s.CreatePendingReply(ctx, pending("p2", "mail-1", soon)), store.ErrDuplicatePending)

	// Once stale it is confirmable again.
	stale := base.Add(store.ClaimTimeout)
	found, err := s.FindPendingReply(ctx, store.PendingFilter{RoomID: "room", Now: stale})
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)
	claimed, err = s.ClaimPendingReply(ctx, "p1", stale)
	require.NoError(t, err)
	require.True(t, claimed)

	// The expiry job returns a stale claim to pending.
	n, err := s.ExpirePendingReplies(ctx, stale.Add(store.ClaimTimeout))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err := s.GetPendingReply(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusPending, got.Status)

	// A claim left behind past the reply's expiry is expired and no longer
	// blocks a new draft.
	later := base.Add(8 * 24 * time.Hour)
	claimed, err = s.ClaimPendingReply(ctx, "p1", stale)
	require.NoError(t, err)
	require.True(t, claimed)
	n, err = s.ExpirePendingReplies(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, err = s.GetPendingReply(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PendingStatusExpired, got.Status)
	require.NoError(t, s.CreatePendingReply(ctx, pending("p3", "mail-1", later)))
}
