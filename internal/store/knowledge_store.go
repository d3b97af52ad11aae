package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailagent/internal/model"
)

// AddKnowledge inserts a knowledge entry for an agent.
func (s *SQLiteStore) AddKnowledge(ctx context.Context, e model.KnowledgeEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge (id, agent_id, source, title, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.Source, e.Title, e.Text, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("adding knowledge %s: %w", e.ID, err)
	}
	return nil
}

// GetKnowledge returns all entries for an agent in insertion order.
func (s *SQLiteStore) GetKnowledge(ctx context.Context, agentID string) ([]model.KnowledgeEntry, error) {
	var entries []model.KnowledgeEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, agent_id, source, title, text, created_at
		FROM knowledge WHERE agent_id = ?
		ORDER BY created_at, id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge for %s: %w", agentID, err)
	}
	return entries, nil
}

// UpsertReplyTemplate inserts or replaces an agent's reply template.
func (s *SQLiteStore) UpsertReplyTemplate(ctx context.Context, t model.ReplyTemplate) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reply_templates
			(agent_id, greeting, body, best_regard, signature, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.AgentID, t.Greeting, t.Body, t.BestRegard, t.Signature, t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving reply template for %s: %w", t.AgentID, err)
	}
	return nil
}

// GetReplyTemplate returns ErrNotFound when the agent has none.
func (s *SQLiteStore) GetReplyTemplate(ctx context.Context, agentID string) (*model.ReplyTemplate, error) {
	var t model.ReplyTemplate
	err := s.db.GetContext(ctx, &t, `
		SELECT agent_id, greeting, body, best_regard, signature, updated_at
		FROM reply_templates WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting reply template for %s: %w", agentID, err)
	}
	return &t, nil
}
