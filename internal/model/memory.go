package model

import "time"

// Memory collections.
const (
	CollectionEmails       = "emails"
	CollectionEmailActions = "email_actions"
)

// Memory is a conversational memory record. Emails and workflow audit
// entries are both stored as memories, told apart by Collection.
type Memory struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	AgentID    string    `json:"agent_id" db:"agent_id"`
	RoomID     string    `json:"room_id" db:"room_id"`
	Collection string    `json:"collection" db:"collection"`
	Text       string    `json:"text" db:"text"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	Email  *EmailFields  `json:"email,omitempty"`
	Action *ActionFields `json:"action,omitempty"`
}

// EmailFields annotate a memory in the "emails" collection.
type EmailFields struct {
	MailUUID   string    `json:"mail_uuid"`
	From       []Address `json:"from"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	References []string  `json:"references,omitempty"`
	Important  bool      `json:"important,omitempty"`
}

// Workflow actions recorded in the "email_actions" collection.
const (
	ActionReplyDrafted  = "reply_drafted"
	ActionReplySent     = "reply_sent"
	ActionReplyModified = "reply_modified"
	ActionReplyCanceled = "reply_canceled"
	ActionFailed        = "failed"
)

// ActionFields annotate a workflow audit memory.
type ActionFields struct {
	Action    string `json:"action"`
	MailUUID  string `json:"mail_uuid,omitempty"`
	PendingID string `json:"pending_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
