package model

import "time"

// Notification kinds.
const (
	NotificationImportant = "important"
	NotificationDigest    = "digest"
)

// Notification represents an alert surfaced to the user about new mail.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	UserID string `json:"user_id" db:"user_id"`

	// Kind is "important" for mail that bypasses batching, "digest"
	// for the periodic summary.
	Kind string `json:"kind" db:"kind"`

	// MailUUID links an important notification to its email. Empty
	// for digests.
	MailUUID string `json:"mail_uuid" db:"mail_uuid"`

	// Message is the human-readable notification text.
	Message string `json:"message" db:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
