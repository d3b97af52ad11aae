package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
)

// DraftTTL is how long drafts built by Draft stay confirmable.
const DraftTTL = 7 * 24 * time.Hour

// NewTestStore opens a migrated in-memory SQLiteStore, optionally seeded
// with pending replies. The store is closed when the test ends.
func NewTestStore(t *testing.T, drafts ...model.PendingReply) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening mail store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing mail store: %v", err)
		}
	})

	for _, d := range drafts {
		if err := s.CreatePendingReply(context.Background(), d); err != nil {
			t.Fatalf("seeding draft %s: %v", d.ID, err)
		}
	}
	return s
}

// Draft builds a pending reply to target in room, created at the given
// time and expiring DraftTTL later.
func Draft(id, room, target string, at time.Time) model.PendingReply {
	return model.PendingReply{
		ID:              id,
		TargetEmailUUID: target,
		RoomID:          room,
		Recipient:       "ann@example.com",
		Subject:         "Re: hello",
		Body:            "draft",
		References:      []string{"<a@example.com>"},
		CreatedAt:       at,
		ExpiresAt:       at.Add(DraftTTL),
	}
}
