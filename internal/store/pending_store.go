package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailagent/internal/model"
)

type pendingRow struct {
	ID                string       `db:"id"`
	TargetEmailUUID   string       `db:"target_email_uuid"`
	UserID            string       `db:"user_id"`
	RoomID            string       `db:"room_id"`
	Recipient         string       `db:"recipient"`
	Subject           string       `db:"subject"`
	Body              string       `db:"body"`
	ThreadID          string       `db:"thread_id"`
	InReplyTo         string       `db:"in_reply_to"`
	Refs              string       `db:"refs"`
	Status            string       `db:"status"`
	CreatedAt         time.Time    `db:"created_at"`
	ExpiresAt         time.Time    `db:"expires_at"`
	SentAt            sql.NullTime `db:"sent_at"`
	ProviderMessageID string       `db:"provider_message_id"`
}

// ClaimTimeout is how long a reply may stay in sending before another
// confirmation, expiry or a new draft may take it over.
const ClaimTimeout = 10 * time.Minute

// confirmable matches pending rows and sending rows whose claim has gone
// stale. It takes the claim cutoff as its only argument.
const confirmable = `(status = 'pending' OR (status = 'sending' AND COALESCE(claimed_at, created_at) <= ?))`

const pendingColumns = `id, target_email_uuid, user_id, room_id, recipient, subject, body,
	thread_id, in_reply_to, refs, status, created_at, expires_at, sent_at, provider_message_id`

// CreatePendingReply stores a new draft. Drafts for the same room and
// target that have already expired are retired first; a live one yields
// ErrDuplicatePending.
func (s *SQLiteStore) CreatePendingReply(ctx context.Context, p model.PendingReply) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.PendingStatusPending
	}
	refs, err := json.Marshal(p.References)
	if err != nil {
		return fmt.Errorf("marshaling references for %s: %w", p.ID, err)
	}
	if p.References == nil {
		refs = []byte("[]")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE pending_replies SET status = 'expired', claimed_at = NULL
		WHERE room_id = ? AND target_email_uuid = ? AND expires_at <= ? AND `+confirmable,
		p.RoomID, p.TargetEmailUUID, p.CreatedAt.UTC(), p.CreatedAt.Add(-ClaimTimeout).UTC())
	if err != nil {
		return fmt.Errorf("retiring expired replies for %s: %w", p.TargetEmailUUID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_replies (`+pendingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, '')`,
		p.ID, p.TargetEmailUUID, p.UserID, p.RoomID, p.Recipient, p.Subject, p.Body,
		p.ThreadID, p.InReplyTo, string(refs), string(p.Status),
		p.CreatedAt.UTC(), p.ExpiresAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicatePending
		}
		return fmt.Errorf("creating pending reply %s: %w", p.ID, err)
	}

	return tx.Commit()
}

// GetPendingReply retrieves a reply in any status.
func (s *SQLiteStore) GetPendingReply(ctx context.Context, id string) (*model.PendingReply, error) {
	var r pendingRow
	err := s.db.GetContext(ctx, &r,
		"SELECT "+pendingColumns+" FROM pending_replies WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending reply %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting pending reply %s: %w", id, err)
	}
	p, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPendingReplies returns every reply drafted for a target, newest first.
func (s *SQLiteStore) ListPendingReplies(ctx context.Context, targetEmailUUID string) ([]model.PendingReply, error) {
	var rows []pendingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pendingColumns+` FROM pending_replies
		WHERE target_email_uuid = ?
		ORDER BY created_at DESC`, targetEmailUUID)
	if err != nil {
		return nil, fmt.Errorf("listing pending replies for %s: %w", targetEmailUUID, err)
	}
	out := make([]model.PendingReply, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FindPendingReply returns the most recent confirmable reply matching
// the filter: pending or stale in sending, not expired at filter.Now, and
// created at or after filter.Since.
func (s *SQLiteStore) FindPendingReply(ctx context.Context, filter PendingFilter) (*model.PendingReply, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	conds := []string{confirmable, "expires_at > ?"}
	args := []any{now.Add(-ClaimTimeout).UTC(), now.UTC()}
	if filter.RoomID != "" {
		conds = append(conds, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.TargetEmailUUID != "" {
		conds = append(conds, "target_email_uuid = ?")
		args = append(args, filter.TargetEmailUUID)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	var r pendingRow
	err := s.db.GetContext(ctx, &r,
		"SELECT "+pendingColumns+" FROM pending_replies"+whereClause(conds)+
			" ORDER BY created_at DESC LIMIT 1", args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding pending reply: %w", err)
	}
	p, err := r.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClaimPendingReply moves a confirmable reply to sending. It reports
// false when another caller already claimed it or it is no longer
// pending, which makes a second confirmation a no-op. A claim older than
// ClaimTimeout can be taken over.
func (s *SQLiteStore) ClaimPendingReply(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_replies SET status = 'sending', claimed_at = ?
		WHERE id = ? AND expires_at > ? AND `+confirmable,
		now.UTC(), id, now.UTC(), now.Add(-ClaimTimeout).UTC())
	if err != nil {
		return false, fmt.Errorf("claiming pending reply %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming pending reply %s: %w", id, err)
	}
	return n == 1, nil
}

// CompletePendingReply marks a claimed reply as sent.
func (s *SQLiteStore) CompletePendingReply(
	ctx context.Context,
	id, providerMessageID string,
	sentAt time.Time,
) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_replies
		SET status = 'sent', sent_at = ?, provider_message_id = ?
		WHERE id = ? AND status = 'sending'`,
		sentAt.UTC(), providerMessageID, id)
	if err != nil {
		return fmt.Errorf("completing pending reply %s: %w", id, err)
	}
	return expectOne(res, "sending reply "+id)
}

// ReleasePendingReply returns a claimed reply to pending after a failed
// send so the user can confirm it again.
func (s *SQLiteStore) ReleasePendingReply(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_replies SET status = 'pending', claimed_at = NULL WHERE id = ? AND status = 'sending'", id)
	if err != nil {
		return fmt.Errorf("releasing pending reply %s: %w", id, err)
	}
	return expectOne(res, "sending reply "+id)
}

// CancelPendingReply supersedes one pending reply.
func (s *SQLiteStore) CancelPendingReply(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_replies SET status = 'superseded' WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return false, fmt.Errorf("canceling pending reply %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("canceling pending reply %s: %w", id, err)
	}
	return n == 1, nil
}

// UpdatePendingReplyBody replaces the draft text of a pending reply.
func (s *SQLiteStore) UpdatePendingReplyBody(ctx context.Context, id, body string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pending_replies SET body = ? WHERE id = ? AND status = 'pending'", body, id)
	if err != nil {
		return fmt.Errorf("updating pending reply %s: %w", id, err)
	}
	return expectOne(res, "pending reply "+id)
}

// SupersedePendingReplies retires every pending draft a room has for a
// target.
func (s *SQLiteStore) SupersedePendingReplies(ctx context.Context, roomID, targetEmailUUID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_replies SET status = 'superseded'
		WHERE room_id = ? AND target_email_uuid = ? AND status = 'pending'`, roomID, targetEmailUUID)
	if err != nil {
		return 0, fmt.Errorf("superseding replies for %s: %w", targetEmailUUID, err)
	}
	return res.RowsAffected()
}

// ExpirePendingReplies marks drafts past their expiry as expired and
// returns stale claims that have not expired to pending. It reports the
// number of rows changed.
func (s *SQLiteStore) ExpirePendingReplies(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-ClaimTimeout).UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	expired, err := tx.ExecContext(ctx, `
		UPDATE pending_replies SET status = 'expired', claimed_at = NULL
		WHERE expires_at <= ? AND `+confirmable, now.UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring pending replies: %w", err)
	}
	released, err := tx.ExecContext(ctx, `
		UPDATE pending_replies SET status = 'pending', claimed_at = NULL
		WHERE status = 'sending' AND COALESCE(claimed_at, created_at) <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("releasing stale claims: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing expiry: %w", err)
	}

	n, err := expired.RowsAffected()
	if err != nil {
		return 0, err
	}
	m, err := released.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func (r pendingRow) toModel() (model.PendingReply, error) {
	p := model.PendingReply{
		ID:                r.ID,
		TargetEmailUUID:   r.TargetEmailUUID,
		UserID:            r.UserID,
		RoomID:            r.RoomID,
		Recipient:         r.Recipient,
		Subject:           r.Subject,
		Body:              r.Body,
		ThreadID:          r.ThreadID,
		InReplyTo:         r.InReplyTo,
		Status:            model.PendingStatus(r.Status),
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		ProviderMessageID: r.ProviderMessageID,
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time
		p.SentAt = &t
	}
	if r.Refs != "" {
		if err := json.Unmarshal([]byte(r.Refs), &p.References); err != nil {
			return model.PendingReply{}, fmt.Errorf("unmarshaling references for %s: %w", r.ID, err)
		}
	}
	return p, nil
}
