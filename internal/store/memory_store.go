package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailagent/internal/model"
)

type memoryRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	AgentID    string    `db:"agent_id"`
	RoomID     string    `db:"room_id"`
	Collection string    `db:"collection"`
	MailUUID   string    `db:"mail_uuid"`
	Text       string    `db:"text"`
	Data       string    `db:"data"`
	CreatedAt  time.Time `db:"created_at"`
}

type memoryData struct {
	Email  *model.EmailFields  `json:"email,omitempty"`
	Action *model.ActionFields `json:"action,omitempty"`
}

const memoryColumns = `id, user_id, agent_id, room_id, collection, mail_uuid, text, data, created_at`

// CreateMemory inserts a memory. Inserting an id that already exists is
// a no-op, so re-processing the same email never duplicates it.
func (s *SQLiteStore) CreateMemory(ctx context.Context, m model.Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Collection == "" {
		return errors.New("creating memory: collection is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	data, err := json.Marshal(memoryData{Email: m.Email, Action: m.Action})
	if err != nil {
		return fmt.Errorf("marshaling memory %s: %w", m.ID, err)
	}

	var mailUUID string
	switch {
	case m.Email != nil:
		mailUUID = m.Email.MailUUID
	case m.Action != nil:
		mailUUID = m.Action.MailUUID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.UserID, m.AgentID, m.RoomID, m.Collection, mailUUID,
		m.Text, string(data), m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating memory %s: %w", m.ID, err)
	}
	return nil
}

// GetMemories returns memories matching the filter, newest first.
func (s *SQLiteStore) GetMemories(ctx context.Context, filter MemoryFilter) ([]model.Memory, error) {
	var (
		conds []string
		args  []any
	)
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.RoomID != "" {
		conds = append(conds, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.Collection != "" {
		conds = append(conds, "collection = ?")
		args = append(args, filter.Collection)
	}
	if filter.MailUUID != "" {
		conds = append(conds, "mail_uuid = ?")
		args = append(args, filter.MailUUID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT " + memoryColumns + " FROM memories" + whereClause(conds) +
		" ORDER BY created_at DESC, id"
	if filter.Count > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Count, filter.Start)
	} else if filter.Start > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Start)
	}

	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}

	memories := make([]model.Memory, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, nil
}

// GetMemoryByID retrieves a single memory.
func (s *SQLiteStore) GetMemoryByID(ctx context.Context, id string) (*model.Memory, error) {
	var r memoryRow
	err := s.db.GetContext(ctx, &r,
		"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory %s: %w", id, err)
	}
	m, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMemoriesBefore removes memories of a collection created before
// the cutoff.
func (s *SQLiteStore) DeleteMemoriesBefore(
	ctx context.Context,
	collection string,
	before time.Time,
) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE collection = ? AND created_at < ?",
		collection, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning %s memories: %w", collection, err)
	}
	return res.RowsAffected()
}

func (r memoryRow) toModel() (model.Memory, error) {
	m := model.Memory{
		ID:         r.ID,
		UserID:     r.UserID,
		AgentID:    r.AgentID,
		RoomID:     r.RoomID,
		Collection: r.Collection,
		Text:       r.Text,
		CreatedAt:  r.CreatedAt,
	}
	var data memoryData
	if r.Data != "" {
		if err := json.Unmarshal([]byte(r.Data), &data); err != nil {
			return model.Memory{}, fmt.Errorf("unmarshaling memory %s: %w", r.ID, err)
		}
	}
	m.Email = data.Email
	m.Action = data.Action
	return m, nil
}
