package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailagent/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePending is returned when a room already has an active
// pending reply for the target email.
var ErrDuplicatePending = errors.New("an active pending reply already exists for this email")

// MemoryFilter controls filtering and pagination for memory queries.
// Results are ordered newest first.
type MemoryFilter struct {
	UserID     string
	RoomID     string
	Collection string
	MailUUID   string
	Since      time.Time // zero means no lower bound
	Count      int       // 0 means no limit
	Start      int
}

// PendingFilter selects confirmable pending replies.
type PendingFilter struct {
	RoomID          string
	TargetEmailUUID string
	Since           time.Time
	Now             time.Time
}

// Store defines the persistence interface for memories, pending replies,
// notifications, knowledge, reply templates and presence.
type Store interface {
	// === Memories ===

	CreateMemory(ctx context.Context, m model.Memory) error
	GetMemories(ctx context.Context, filter MemoryFilter) ([]model.Memory, error)
	GetMemoryByID(ctx context.Context, id string) (*model.Memory, error)
	DeleteMemoriesBefore(ctx context.Context, collection string, before time.Time) (int64, error)

	// === Pending replies ===

	CreatePendingReply(ctx context.Context, p model.PendingReply) error
	GetPendingReply(ctx context.Context, id string) (*model.PendingReply, error)
	ListPendingReplies(ctx context.Context, targetEmailUUID string) ([]model.PendingReply, error)
	FindPendingReply(ctx context.Context, filter PendingFilter) (*model.PendingReply, error)
	ClaimPendingReply(ctx context.Context, id string, now time.Time) (bool, error)
	CompletePendingReply(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	ReleasePendingReply(ctx context.Context, id string) error
	CancelPendingReply(ctx context.Context, id string) (bool, error)
	UpdatePendingReplyBody(ctx context.Context, id, body string) error
	SupersedePendingReplies(ctx context.Context, roomID, targetEmailUUID string) (int64, error)
	ExpirePendingReplies(ctx context.Context, now time.Time) (int64, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// === Knowledge and templates ===

	AddKnowledge(ctx context.Context, e model.KnowledgeEntry) error
	GetKnowledge(ctx context.Context, agentID string) ([]model.KnowledgeEntry, error)
	UpsertReplyTemplate(ctx context.Context, t model.ReplyTemplate) error
	GetReplyTemplate(ctx context.Context, agentID string) (*model.ReplyTemplate, error)

	// === Presence ===

	SetUserConnected(ctx context.Context, userID string, connected bool, at time.Time) error
	IsUserConnected(ctx context.Context, userID string) (bool, error)

	Close() error
}
