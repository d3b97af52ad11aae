package model

import "time"

// KnowledgeEntry is a piece of agent knowledge used to ground replies.
type KnowledgeEntry struct {
	ID        string    `json:"id" db:"id"`
	AgentID   string    `json:"agent_id" db:"agent_id"`
	Source    string    `json:"source" db:"source"`
	Title     string    `json:"title" db:"title"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ReplyTemplate shapes generated replies for one agent. Body may use
// the {{sender}}, {{body}}, {{bestRegard}} and {{agentName}} placeholders.
type ReplyTemplate struct {
	AgentID    string    `json:"agent_id" db:"agent_id"`
	Greeting   string    `json:"greeting" db:"greeting"`
	Body       string    `json:"body" db:"body"`
	BestRegard string    `json:"best_regard" db:"best_regard"`
	Signature  string    `json:"signature" db:"signature"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
