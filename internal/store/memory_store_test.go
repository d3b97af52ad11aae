package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
	"github.com/nhle/mailagent/tests/testutil"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func emailMemory(id, room string, at time.Time) model.Memory {
	return model.Memory{
		ID:         id,
		RoomID:     room,
		Collection: model.CollectionEmails,
		Text:       "body of " + id,
		CreatedAt:  at,
		Email: &model.EmailFields{
			MailUUID: id,
			From:     []model.Address{{Name: "Ann", Address: "ann@example.com"}},
			Subject:  "subject " + id,
		},
	}
}

func TestCreateMemoryIsIdempotent(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	m := emailMemory("m1", "room", base)
	require.NoError(t, s.CreateMemory(ctx, m))
	m.Text = "changed"
	require.NoError(t, s.CreateMemory(ctx, m))

	got, err := s.GetMemories(ctx, store.MemoryFilter{RoomID: "room"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "body of m1", got[0].Text)
	require.NotNil(t, got[0].Email)
	assert.Equal(t, "ann@example.com", got[0].Email.From[0].Address)
}

func TestGetMemoriesFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMemory(ctx, emailMemory("old", "room", base.Add(-48*time.Hour))))
	require.NoError(t, s.CreateMemory(ctx, emailMemory("a", "room", base.Add(-2*time.Hour))))
	require.NoError(t, s.CreateMemory(ctx, emailMemory("b", "room", base.Add(-time.Hour))))
	require.NoError(t, s.CreateMemory(ctx, emailMemory("other", "elsewhere", base)))
	require.NoError(t, s.CreateMemory(ctx, model.Memory{
		ID: "audit", RoomID: "room", Collection: model.CollectionEmailActions,
		CreatedAt: base, Action: &model.ActionFields{Action: model.ActionFailed, MailUUID: "a"},
	}))

	got, err := s.GetMemories(ctx, store.MemoryFilter{
		RoomID:     "room",
		Collection: model.CollectionEmails,
		Since:      base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	page, err := s.GetMemories(ctx, store.MemoryFilter{RoomID: "room", Collection: model.CollectionEmails, Count: 1, Start: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)

	byMail, err := s.GetMemories(ctx, store.MemoryFilter{MailUUID: "a"})
	require.NoError(t, err)
	assert.Len(t, byMail, 2)
}

func TestGetMemoryByIDAndPrune(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.GetMemoryByID(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.CreateMemory(ctx, emailMemory("old", "room", base.Add(-72*time.Hour))))
	require.NoError(t, s.CreateMemory(ctx, emailMemory("new", "room", base)))

	n, err := s.DeleteMemoriesBefore(ctx, model.CollectionEmails, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	m, err := s.GetMemoryByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "subject new", m.Email.Subject)
}

func TestNotificationsAndPresence(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNotification(ctx, model.Notification{
		ID: "n1", UserID: "u", Kind: model.NotificationDigest, Message: "You have 2 new emails", CreatedAt: base,
	}))
	unread, err := s.GetUnreadNotifications(ctx, "u")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))
	unread, err = s.GetUnreadNotifications(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, unread)

	_, err = s.IsUserConnected(ctx, "u")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.SetUserConnected(ctx, "u", false, base))
	connected, err := s.IsUserConnected(ctx, "u")
	require.NoError(t, err)
	assert.False(t, connected)
	require.NoError(t, s.SetUserConnected(ctx, "u", true, base))
	connected, err = s.IsUserConnected(ctx, "u")
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestKnowledgeAndTemplates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddKnowledge(ctx, model.KnowledgeEntry{AgentID: "agent", Title: "Refunds", Text: "Refunds take 5 days."}))
	require.NoError(t, s.AddKnowledge(ctx, model.KnowledgeEntry{AgentID: "other", Title: "x", Text: "y"}))
	entries, err := s.GetKnowledge(ctx, "agent")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Refunds", entries[0].Title)

	_, err = s.GetReplyTemplate(ctx, "agent")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.UpsertReplyTemplate(ctx, model.ReplyTemplate{AgentID: "agent", BestRegard: "Cheers"}))
	tmpl, err := s.GetReplyTemplate(ctx, "agent")
	require.NoError(t, err)
	assert.Equal(t, "Cheers", tmpl.BestRegard)
}
