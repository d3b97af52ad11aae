package model

import "time"

// PendingStatus is the lifecycle state of a drafted reply.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusSending    PendingStatus = "sending"
	PendingStatusSent       PendingStatus = "sent"
	PendingStatusSuperseded PendingStatus = "superseded"
	PendingStatusExpired    PendingStatus = "expired"
)

// PendingReply is a drafted reply waiting for the user to confirm it.
// At most one pending row exists per TargetEmailUUID.
type PendingReply struct {
	ID              string        `json:"id" db:"id"`
	TargetEmailUUID string        `json:"target_email_uuid" db:"target_email_uuid"`
	UserID          string        `json:"user_id" db:"user_id"`
	RoomID          string        `json:"room_id" db:"room_id"`
	Recipient       string        `json:"recipient" db:"recipient"`
	Subject         string        `json:"subject" db:"subject"`
	Body            string        `json:"body" db:"body"`
	ThreadID        string        `json:"thread_id" db:"thread_id"`
	InReplyTo       string        `json:"in_reply_to" db:"in_reply_to"`
	References      []string      `json:"references" db:"-"`
	Status          PendingStatus `json:"status" db:"status"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at" db:"expires_at"`
	SentAt          *time.Time    `json:"sent_at,omitempty" db:"sent_at"`

	// ProviderMessageID is the id the outgoing transport assigned.
	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`
}

// Active reports whether the reply can still be confirmed at now.
func (p PendingReply) Active(now time.Time) bool {
	return p.Status == PendingStatusPending && now.Before(p.ExpiresAt)
}
