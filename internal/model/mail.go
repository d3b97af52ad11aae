package model

import "time"

// Address is a mailbox address with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// String formats the address as `Name <addr>` or just the address.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return a.Name + " <" + a.Address + ">"
}

// ParsedMail is a message as read from the incoming mailbox.
type ParsedMail struct {
	// MailUUID is derived from MessageID and is the logical primary key
	// of the email everywhere else in the system.
	MailUUID string `json:"mail_uuid"`

	UID        uint32    `json:"uid"`
	From       []Address `json:"from"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	Body       string    `json:"body"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	References []string  `json:"references,omitempty"`
	InReplyTo  string    `json:"in_reply_to,omitempty"`
}

// Sender returns the first From address, if any.
func (m ParsedMail) Sender() (Address, bool) {
	if len(m.From) == 0 || m.From[0].Address == "" {
		return Address{}, false
	}
	return m.From[0], true
}
