// Package actions runs the conversational email workflow: checking for
// new mail, drafting replies and sending them once the user confirms.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/ai"
	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/email"
	"github.com/nhle/mailagent/internal/knowledge"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
)

// Mailbox is the part of the email client the workflow drives.
type Mailbox interface {
	CheckMail(ctx context.Context) error
	Send(ctx context.Context, msg email.OutgoingMessage) (email.SendResult, error)
}

// Store holds email memories, audit records, drafts and templates.
type Store interface {
	CreateMemory(ctx context.Context, m model.Memory) error
	GetMemories(ctx context.Context, filter store.MemoryFilter) ([]model.Memory, error)

	CreatePendingReply(ctx context.Context, p model.PendingReply) error
	FindPendingReply(ctx context.Context, filter store.PendingFilter) (*model.PendingReply, error)
	ClaimPendingReply(ctx context.Context, id string, now time.Time) (bool, error)
	CompletePendingReply(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	ReleasePendingReply(ctx context.Context, id string) error
	CancelPendingReply(ctx context.Context, id string) (bool, error)
	UpdatePendingReplyBody(ctx context.Context, id, body string) error
	SupersedePendingReplies(ctx context.Context, roomID, targetEmailUUID string) (int64, error)

	GetReplyTemplate(ctx context.Context, agentID string) (*model.ReplyTemplate, error)
}

// Knowledge ranks the agent's knowledge against a query.
type Knowledge interface {
	Search(ctx context.Context, agentID, query string, limit int) ([]knowledge.Snippet, error)
}

// Config scopes a workflow to one user's mailbox and agent.
type Config struct {
	UserID    string
	AgentID   string
	AgentName string

	model.WorkflowConfig
}

type Option func(*Workflow)

func WithClock(clk clock.Clock) Option {
	return func(w *Workflow) { w.clock = clk }
}

func WithLogger(log zerolog.Logger) Option {
	return func(w *Workflow) { w.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithKnowledge grounds generated drafts in the agent's knowledge.
func WithKnowledge(k Knowledge) Option {
	return func(w *Workflow) { w.knowledge = k }
}

// Request is one user message in a room.
type Request struct {
	RoomID string
	Text   string
}

// Response is what the user is told. Failures are explained in Text
// with Failed set; Handle never returns an error.
type Response struct {
	Text      string
	Intent    Intent
	Phase     Phase
	Failed    bool
	MailUUIDs []string
	PendingID string
}

// bookkeepingTimeout bounds store writes made after a send.
const bookkeepingTimeout = 10 * time.Second

const (
	noPendingReply = "There is no pending reply to confirm."
	confirmHint    = "\n\nSay \"confirm\" to send it, \"change the reply to say ...\" to edit it, or \"cancel the reply\" to discard it."
	helpText       = "I can check your emails and draft or send replies. Try \"check my emails\" or \"reply to the first email\"."
	askTargetText  = "Which email should I reply to? Give me its ID, or its number from the last check."
)

// Workflow turns free-text requests into mailbox actions. Each room has
// its own conversation state.
type Workflow struct {
	cfg       Config
	mailbox   Mailbox
	store     Store
	generator ai.Generator
	knowledge Knowledge
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *metrics.Metrics

	rooms rooms
}

// New builds a workflow. A nil generator drafts from templates only.
func New(cfg Config, mailbox Mailbox, st Store, gen ai.Generator, opts ...Option) *Workflow {
	if cfg.CheckLookback <= 0 {
		cfg.CheckLookback = 24 * time.Hour
	}
	if cfg.CheckLimit <= 0 {
		cfg.CheckLimit = 50
	}
	if cfg.ConfirmLookback <= 0 {
		cfg.ConfirmLookback = 7 * 24 * time.Hour
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = cfg.ConfirmLookback
	}
	if cfg.KnowledgeLimit <= 0 {
		cfg.KnowledgeLimit = 3
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "Assistant"
	}
	w := &Workflow{
		cfg:     cfg,
		mailbox: mailbox,
		store:   st,
		clock:   clock.Real(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With().Str("component", "workflow").Str("user", cfg.UserID).Logger()
	if gen == nil {
		gen = ai.NewFallbackGenerator(nil, w.log)
	}
	w.generator = gen
	return w
}

// Handle runs one conversational turn.
func (w *Workflow) Handle(ctx context.Context, req Request) Response {
	room := w.rooms.get(req.RoomID)
	room.mu.Lock()
	defer room.mu.Unlock()

	cmd := w.contextual(room, req.Text, ParseCommand(req.Text))

	var resp Response
	switch cmd.Intent {
	case IntentCheck:
		resp = w.check(ctx, req, room, cmd)
	case IntentGenerate:
		resp = w.generate(ctx, req, room, cmd)
	case IntentConfirm:
		resp = w.confirm(ctx, req, room, cmd)
	case IntentCustom:
		resp = w.custom(ctx, req, room, cmd)
	case IntentModify:
		resp = w.modify(ctx, req, room, cmd)
	case IntentCancel:
		resp = w.cancel(ctx, req, room, cmd)
	default:
		resp = Response{Text: helpText}
	}
	resp.Intent = cmd.Intent
	resp.Phase = room.phase

	w.log.Debug().
		Str("room", req.RoomID).
		Stringer("intent", resp.Intent).
		Stringer("phase", resp.Phase).
		Bool("failed", resp.Failed).
		Msg("handled request")
	return resp
}

// contextual fills in what a bare follow-up means in the room's phase.
func (w *Workflow) contextual(room *roomState, text string, cmd Command) Command {
	if cmd.Intent != IntentUnknown {
		return cmd
	}
	switch {
	case room.phase == PhaseAwaitingTarget && cmd.HasTarget():
		next := room.awaiting
		next.MailUUIDs = cmd.MailUUIDs
		next.Ordinal, next.HasOrdinal = cmd.Ordinal, cmd.HasOrdinal
		next.This = cmd.This
		return next
	case room.phase == PhaseDrafted && isAffirmative(text):
		cmd.Intent = IntentConfirm
	}
	return cmd
}

func (w *Workflow) check(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	if err := w.mailbox.CheckMail(ctx); err != nil {
		if errors.Is(err, email.ErrIncomingDisabled) {
			return w.fail(ctx, req, IntentCheck, "",
				"Incoming mail is not set up for this mailbox, so I can't check for new emails.", err)
		}
		w.log.Warn().Err(err).Msg("mailbox check failed, listing stored emails")
	}

	window := describeWindow(w.cfg.CheckLookback)
	mems, err := w.store.GetMemories(ctx, store.MemoryFilter{
		RoomID:     req.RoomID,
		Collection: model.CollectionEmails,
		Since:      w.clock.Now().Add(-w.cfg.CheckLookback),
		Count:      w.cfg.CheckLimit,
	})
	if err != nil {
		return w.fail(ctx, req, IntentCheck, "", "I couldn't read your emails right now.", err)
	}

	emails := mems[:0]
	for _, m := range mems {
		if m.Email != nil && m.Email.MailUUID != "" {
			emails = append(emails, m)
		}
	}
	if room.phase != PhaseDrafted {
		room.toIdle()
	}
	if len(emails) == 0 {
		room.lastChecked = nil
		return Response{Text: fmt.Sprintf("No new emails have been received in the last %s.", window)}
	}

	ids := make([]string, len(emails))
	for i, m := range emails {
		ids[i] = m.Email.MailUUID
	}
	room.lastChecked = ids
	if len(ids) == 1 {
		room.focus = ids[0]
	}
	return Response{Text: formatListing(emails, cmd.View, window), MailUUIDs: ids}
}

func (w *Workflow) generate(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	mem, resp := w.resolveTarget(ctx, req, room, cmd)
	if resp != nil {
		return *resp
	}
	mail := mem.Email
	now := w.clock.Now()

	existing, err := w.store.FindPendingReply(ctx, store.PendingFilter{RoomID: req.RoomID, TargetEmailUUID: mail.MailUUID, Now: now})
	switch {
	case err == nil:
		room.drafted(mail.MailUUID, existing.ID)
		return existingDraft(existing)
	case !errors.Is(err, store.ErrNotFound):
		return w.fail(ctx, req, IntentGenerate, mail.MailUUID, "I couldn't check for an existing draft right now.", err)
	}

	sender, ok := senderOf(mail)
	if !ok {
		return w.fail(ctx, req, IntentGenerate, mail.MailUUID,
			"That email has no sender address, so I can't reply to it.", nil)
	}

	draft, err := w.generator.Draft(ctx, ai.DraftRequest{
		AgentName:  w.cfg.AgentName,
		SenderName: displayName(sender),
		Subject:    mail.Subject,
		Body:       mem.Text,
		Snippets:   w.searchKnowledge(ctx, mail.Subject+"\n"+mem.Text),
	})
	if err != nil {
		return w.fail(ctx, req, IntentGenerate, mail.MailUUID,
			"I couldn't draft a reply right now. Please try again later.", err)
	}
	body := ai.FormatReply(w.template(ctx), displayName(sender), draft, w.cfg.AgentName)

	p := model.PendingReply{
		ID:              uuid.NewString(),
		TargetEmailUUID: mail.MailUUID,
		UserID:          w.cfg.UserID,
		RoomID:          req.RoomID,
		Recipient:       sender.Address,
		Subject:         email.ReplySubject(mail.Subject),
		Body:            body,
		ThreadID:        mail.ThreadID,
		InReplyTo:       mail.MessageID,
		References:      replyReferences(mail),
		Status:          model.PendingStatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(w.cfg.PendingTTL),
	}
	if err := w.store.CreatePendingReply(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicatePending) {
			existing, ferr := w.store.FindPendingReply(ctx, store.PendingFilter{RoomID: req.RoomID, TargetEmailUUID: mail.MailUUID, Now: now})
			if ferr == nil {
				room.drafted(mail.MailUUID, existing.ID)
				return existingDraft(existing)
			}
			if errors.Is(ferr, store.ErrNotFound) {
				return w.fail(ctx, req, IntentGenerate, mail.MailUUID,
					fmt.Sprintf("A reply to %s is already being sent.", sender.Address), err)
			}
		}
		return w.fail(ctx, req, IntentGenerate, mail.MailUUID, "I couldn't save the draft reply.", err)
	}

	w.audit(ctx, req.RoomID, fmt.Sprintf("Drafted a reply to %s about %q.", sender.Address, mail.Subject),
		model.ActionFields{Action: model.ActionReplyDrafted, MailUUID: mail.MailUUID, PendingID: p.ID})
	room.drafted(mail.MailUUID, p.ID)
	return Response{
		Text:      fmt.Sprintf("Here is a draft reply to %s:\n\n%s%s", sender.String(), body, confirmHint),
		PendingID: p.ID,
	}
}

func (w *Workflow) confirm(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	p, resp := w.activePending(ctx, req, room, cmd, IntentConfirm, noPendingReply)
	if resp != nil {
		return *resp
	}

	now := w.clock.Now()
	claimed, err := w.store.ClaimPendingReply(ctx, p.ID, now)
	if err != nil {
		return w.fail(ctx, req, IntentConfirm, p.TargetEmailUUID, "I couldn't prepare the reply for sending.", err)
	}
	if !claimed {
		room.toIdle()
		return Response{Text: noPendingReply}
	}

	res, err := w.mailbox.Send(ctx, email.OutgoingMessage{
		To:         []string{p.Recipient},
		Subject:    p.Subject,
		Text:       p.Body,
		InReplyTo:  p.InReplyTo,
		References: p.References,
	})
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}

	// Record the outcome even if the request was canceled mid-send.
	ctx, cancel := detach(ctx)
	defer cancel()

	if err != nil {
		w.metrics.ReplySent(false)
		if rerr := w.store.ReleasePendingReply(ctx, p.ID); rerr != nil {
			w.log.Error().Err(rerr).Str("pending_id", p.ID).Msg("releasing draft after failed send")
		}
		room.drafted(p.TargetEmailUUID, p.ID)
		r := w.fail(ctx, req, IntentConfirm, p.TargetEmailUUID,
			fmt.Sprintf("Sending the reply to %s failed: %v. The draft is still pending, say \"confirm\" to try again.",
				p.Recipient, err), err)
		r.PendingID = p.ID
		return r
	}
	w.metrics.ReplySent(true)

	if err := w.store.CompletePendingReply(ctx, p.ID, res.MessageID, w.clock.Now()); err != nil {
		w.log.Error().Err(err).Str("pending_id", p.ID).Msg("reply sent but not marked as sent")
	}
	w.audit(ctx, req.RoomID, fmt.Sprintf("Sent the reply to %s: %s", p.Recipient, p.Subject),
		model.ActionFields{
			Action:    model.ActionReplySent,
			MailUUID:  p.TargetEmailUUID,
			PendingID: p.ID,
			MessageID: res.MessageID,
		})
	room.sent(p.TargetEmailUUID)
	return Response{Text: fmt.Sprintf("Reply sent to %s.", p.Recipient), PendingID: p.ID}
}

func (w *Workflow) custom(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	if strings.TrimSpace(cmd.Body) == "" {
		return w.fail(ctx, req, IntentCustom, "", "What should the reply say?", nil)
	}
	mem, resp := w.resolveTarget(ctx, req, room, cmd)
	if resp != nil {
		return *resp
	}
	mail := mem.Email

	sender, ok := senderOf(mail)
	if !ok {
		return w.fail(ctx, req, IntentCustom, mail.MailUUID,
			"That email has no sender address, so I can't reply to it.", nil)
	}

	res, err := w.mailbox.Send(ctx, email.OutgoingMessage{
		To:         []string{sender.Address},
		Subject:    email.ReplySubject(mail.Subject),
		Text:       cmd.Body,
		InReplyTo:  mail.MessageID,
		References: replyReferences(mail),
	})
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	if err != nil {
		w.metrics.ReplySent(false)
		return w.fail(ctx, req, IntentCustom, mail.MailUUID,
			fmt.Sprintf("Sending your reply to %s failed: %v.", sender.Address, err), err)
	}
	w.metrics.ReplySent(true)

	if n, err := w.store.SupersedePendingReplies(ctx, req.RoomID, mail.MailUUID); err != nil {
		w.log.Warn().Err(err).Str("mail_uuid", mail.MailUUID).Msg("superseding drafts after custom reply")
	} else if n > 0 {
		w.log.Info().Int64("drafts", n).Str("mail_uuid", mail.MailUUID).Msg("custom reply superseded pending drafts")
	}
	w.audit(ctx, req.RoomID, fmt.Sprintf("Sent a custom reply to %s: %s", sender.Address, cmd.Body),
		model.ActionFields{Action: model.ActionReplySent, MailUUID: mail.MailUUID, MessageID: res.MessageID})
	room.sent(mail.MailUUID)
	return Response{Text: fmt.Sprintf("Your reply was sent to %s.", sender.Address)}
}

func (w *Workflow) modify(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	p, resp := w.activePending(ctx, req, room, cmd, IntentModify, "There is no pending reply to change.")
	if resp != nil {
		return *resp
	}
	if cmd.Body == "" {
		return w.fail(ctx, req, IntentModify, p.TargetEmailUUID, "What should the reply say instead?", nil)
	}

	if err := w.store.UpdatePendingReplyBody(ctx, p.ID, cmd.Body); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			room.toIdle()
			return Response{Text: "There is no pending reply to change."}
		}
		return w.fail(ctx, req, IntentModify, p.TargetEmailUUID, "I couldn't update the draft reply.", err)
	}
	w.audit(ctx, req.RoomID, fmt.Sprintf("Changed the draft reply to %s.", p.Recipient),
		model.ActionFields{Action: model.ActionReplyModified, MailUUID: p.TargetEmailUUID, PendingID: p.ID})
	room.drafted(p.TargetEmailUUID, p.ID)
	return Response{
		Text:      fmt.Sprintf("I updated the draft reply to %s:\n\n%s%s", p.Recipient, cmd.Body, confirmHint),
		PendingID: p.ID,
	}
}

func (w *Workflow) cancel(ctx context.Context, req Request, room *roomState, cmd Command) Response {
	p, resp := w.activePending(ctx, req, room, cmd, IntentCancel, "There is no pending reply to cancel.")
	if resp != nil {
		return *resp
	}
	ok, err := w.store.CancelPendingReply(ctx, p.ID)
	if err != nil {
		return w.fail(ctx, req, IntentCancel, p.TargetEmailUUID, "I couldn't discard the draft reply.", err)
	}
	room.toIdle()
	if !ok {
		return Response{Text: "There is no pending reply to cancel."}
	}
	w.audit(ctx, req.RoomID, fmt.Sprintf("Discarded the draft reply to %s.", p.Recipient),
		model.ActionFields{Action: model.ActionReplyCanceled, MailUUID: p.TargetEmailUUID, PendingID: p.ID})
	return Response{Text: fmt.Sprintf("I discarded the draft reply to %s.", p.Recipient), PendingID: p.ID}
}

// activePending finds the newest confirmable draft in the room, scoped
// to an explicit mail UUID when the user gave one.
func (w *Workflow) activePending(
	ctx context.Context,
	req Request,
	room *roomState,
	cmd Command,
	intent Intent,
	missing string,
) (*model.PendingReply, *Response) {
	now := w.clock.Now()
	filter := store.PendingFilter{
		RoomID: req.RoomID,
		Since:  now.Add(-w.cfg.ConfirmLookback),
		Now:    now,
	}
	if len(cmd.MailUUIDs) > 0 {
		filter.TargetEmailUUID = cmd.MailUUIDs[0]
	}

	p, err := w.store.FindPendingReply(ctx, filter)
	if errors.Is(err, store.ErrNotFound) {
		if room.phase == PhaseDrafted {
			room.toIdle()
		}
		return nil, &Response{Text: missing}
	}
	if err != nil {
		r := w.fail(ctx, req, intent, filter.TargetEmailUUID, "I couldn't look up the pending reply right now.", err)
		return nil, &r
	}
	return p, nil
}

// resolveTarget finds the email a reply is meant for: an explicit mail
// UUID, a position in the last check, or the email in focus. Without
// any of those it asks the user and waits.
func (w *Workflow) resolveTarget(ctx context.Context, req Request, room *roomState, cmd Command) (*model.Memory, *Response) {
	var mailUUID string
	switch {
	case len(cmd.MailUUIDs) > 0:
		mailUUID = cmd.MailUUIDs[0]
		if err := email.ValidateMailUUID(mailUUID); err != nil {
			r := w.fail(ctx, req, cmd.Intent, "", fmt.Sprintf("%s is not a valid email ID.", mailUUID), err)
			return nil, &r
		}
	case cmd.HasOrdinal:
		if len(room.lastChecked) == 0 {
			return nil, w.askForTarget(room, cmd)
		}
		idx := cmd.Ordinal.Position - 1
		if cmd.Ordinal.Last {
			idx = 0
		}
		if idx < 0 || idx >= len(room.lastChecked) {
			r := w.fail(ctx, req, cmd.Intent, "",
				fmt.Sprintf("There is no email number %d in the last check, it listed %d.",
					cmd.Ordinal.Position, len(room.lastChecked)), nil)
			return nil, &r
		}
		mailUUID = room.lastChecked[idx]
	case cmd.This && room.focus != "":
		mailUUID = room.focus
	case len(room.lastChecked) == 1:
		mailUUID = room.lastChecked[0]
	default:
		return nil, w.askForTarget(room, cmd)
	}

	mems, err := w.store.GetMemories(ctx, store.MemoryFilter{
		RoomID:     req.RoomID,
		Collection: model.CollectionEmails,
		MailUUID:   mailUUID,
		Count:      1,
	})
	if err != nil {
		r := w.fail(ctx, req, cmd.Intent, mailUUID, "I couldn't look up that email right now.", err)
		return nil, &r
	}
	if len(mems) == 0 || mems[0].Email == nil {
		r := w.fail(ctx, req, cmd.Intent, mailUUID, fmt.Sprintf("I couldn't find an email with ID %s.", mailUUID), nil)
		return nil, &r
	}
	return &mems[0], nil
}

func (w *Workflow) askForTarget(room *roomState, cmd Command) *Response {
	room.phase = PhaseAwaitingTarget
	room.pendingID = ""
	room.awaiting = cmd
	return &Response{Text: askTargetText}
}

// detach keeps ctx's values but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// fail logs the problem, records it as an audit memory and returns the
// explanation for the user.
func (w *Workflow) fail(ctx context.Context, req Request, intent Intent, mailUUID, text string, cause error) Response {
	ev := w.log.Warn().Str("room", req.RoomID).Stringer("intent", intent)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg(text)

	reason := text
	if cause != nil {
		reason = cause.Error()
	}
	w.audit(ctx, req.RoomID, text, model.ActionFields{Action: model.ActionFailed, MailUUID: mailUUID, Error: reason})
	return Response{Text: text, Failed: true}
}

func (w *Workflow) audit(ctx context.Context, roomID, text string, action model.ActionFields) {
	err := w.store.CreateMemory(ctx, model.Memory{
		ID:         uuid.NewString(),
		UserID:     w.cfg.UserID,
		AgentID:    w.cfg.AgentID,
		RoomID:     roomID,
		Collection: model.CollectionEmailActions,
		Text:       text,
		CreatedAt:  w.clock.Now().UTC(),
		Action:     &action,
	})
	if err != nil {
		w.log.Error().Err(err).Str("action", action.Action).Msg("recording workflow action")
	}
}

func (w *Workflow) template(ctx context.Context) *model.ReplyTemplate {
	t, err := w.store.GetReplyTemplate(ctx, w.cfg.AgentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.log.Warn().Err(err).Msg("loading reply template, using default")
		}
		return nil
	}
	return t
}

func (w *Workflow) searchKnowledge(ctx context.Context, query string) []knowledge.Snippet {
	if w.knowledge == nil {
		return nil
	}
	snippets, err := w.knowledge.Search(ctx, w.cfg.AgentID, query, w.cfg.KnowledgeLimit)
	if err != nil {
		w.log.Warn().Err(err).Msg("knowledge search failed, drafting without it")
		return nil
	}
	return snippets
}

func existingDraft(p *model.PendingReply) Response {
	return Response{
		Text:      fmt.Sprintf("There is already a pending reply to %s:\n\n%s%s", p.Recipient, p.Body, confirmHint),
		PendingID: p.ID,
	}
}

func senderOf(mail *model.EmailFields) (model.Address, bool) {
	if len(mail.From) == 0 || strings.TrimSpace(mail.From[0].Address) == "" {
		return model.Address{}, false
	}
	return mail.From[0], true
}

func displayName(a model.Address) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// replyReferences is the original References chain plus its Message-ID.
func replyReferences(mail *model.EmailFields) []string {
	refs := append([]string(nil), mail.References...)
	if mail.MessageID != "" && (len(refs) == 0 || refs[len(refs)-1] != mail.MessageID) {
		refs = append(refs, mail.MessageID)
	}
	return refs
}

func formatListing(mems []model.Memory, view View, window string) string {
	var b strings.Builder
	switch view {
	case ViewIDs:
		fmt.Fprintf(&b, "Email IDs from the last %s:", window)
		for i, m := range mems {
			fmt.Fprintf(&b, "\n%d. %s", i+1, m.Email.MailUUID)
		}
	case ViewFull:
		for i, m := range mems {
			if i > 0 {
				b.WriteString("\n\n---\n\n")
			}
			fmt.Fprintf(&b, "%d. From: %s\nSubject: %s\nDate: %s\nID: %s\n\n%s",
				i+1, fromLabel(m.Email), subjectLabel(m.Email), dateLabel(m.Email.Date), m.Email.MailUUID, m.Text)
		}
	default:
		noun := "emails"
		if len(mems) == 1 {
			noun = "email"
		}
		fmt.Fprintf(&b, "You have %d new %s from the last %s:", len(mems), noun, window)
		for i, m := range mems {
			fmt.Fprintf(&b, "\n%d. %s | %s | %s (ID: %s)",
				i+1, fromLabel(m.Email), subjectLabel(m.Email), dateLabel(m.Email.Date), m.Email.MailUUID)
		}
	}
	return b.String()
}

func fromLabel(e *model.EmailFields) string {
	if len(e.From) == 0 {
		return "unknown sender"
	}
	return e.From[0].String()
}

func subjectLabel(e *model.EmailFields) string {
	if strings.TrimSpace(e.Subject) == "" {
		return "(no subject)"
	}
	return e.Subject
}

func dateLabel(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}
	return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
}

// describeWindow renders a lookback such as "24 hours" or "7 days".
func describeWindow(d time.Duration) string {
	const day = 24 * time.Hour
	switch {
	case d >= 2*day && d%day == 0:
		return fmt.Sprintf("%d days", int(d/day))
	case d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return d.String()
	}
}
