// Package sync supervises the running mailboxes and the periodic store
// maintenance that goes with them.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/email"
	"github.com/nhle/mailagent/internal/model"
)

// Mailbox is a per-user email client.
type Mailbox interface {
	UserID() string
	Start(ctx context.Context) error
	Stop()
	Health() email.HealthMetrics
}

// Drainer flushes work a mailbox left queued, such as the dispatcher.
type Drainer interface {
	Stop(ctx context.Context)
}

// Maintenance is the store surface the scheduled jobs use.
type Maintenance interface {
	ExpirePendingReplies(ctx context.Context, now time.Time) (int64, error)
	DeleteMemoriesBefore(ctx context.Context, collection string, before time.Time) (int64, error)
}

// MailboxStatus is a snapshot of one registered mailbox.
type MailboxStatus struct {
	UserID     string
	RoomID     string
	Running    bool
	Health     email.HealthMetrics
	StartError error
}

// Schedules for the maintenance jobs.
const (
	ExpireSchedule = "@every 1h"
	PruneSchedule  = "@daily"
)

// jobTimeout bounds a single maintenance run.
const jobTimeout = 30 * time.Second

type mailboxEntry struct {
	roomID   string
	mailbox  Mailbox
	drain    Drainer
	startErr error
}

type Option func(*Supervisor)

// WithRetention sets how long memories are kept before pruning.
func WithRetention(d time.Duration) Option {
	return func(s *Supervisor) { s.retention = d }
}

// WithCron replaces the scheduler, mainly so tests can inspect entries.
func WithCron(c *cron.Cron) Option {
	return func(s *Supervisor) { s.cron = c }
}

func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) { s.clock = clk }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// Supervisor starts and stops every registered mailbox together and
// runs pending-reply expiry and memory retention on a schedule.
type Supervisor struct {
	maint     Maintenance
	retention time.Duration
	cron      *cron.Cron
	clock     clock.Clock
	log       zerolog.Logger

	mu        gosync.Mutex
	entries   []*mailboxEntry
	running   bool
	scheduled bool
}

func New(maint Maintenance, opts ...Option) *Supervisor {
	s := &Supervisor{
		maint:     maint,
		retention: 30 * 24 * time.Hour,
		clock:     clock.Real(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLocation(time.UTC))
	}
	s.log = s.log.With().Str("component", "supervisor").Logger()
	return s
}

// Register adds a mailbox bound to roomID. drain may be nil.
func (s *Supervisor) Register(roomID string, mb Mailbox, drain Drainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &mailboxEntry{roomID: roomID, mailbox: mb, drain: drain})
}

// Start schedules the maintenance jobs and starts every mailbox. A
// mailbox that fails to start does not stop the others; the failures
// are returned joined. Calling Start on a running supervisor does
// nothing.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	schedule := !s.scheduled
	s.scheduled = true
	entries := append([]*mailboxEntry(nil), s.entries...)
	s.mu.Unlock()

	if schedule {
		jobCtx := context.WithoutCancel(ctx)
		if _, err := s.cron.AddFunc(ExpireSchedule, func() { s.runJob(jobCtx, "expire", s.ExpirePending) }); err != nil {
			return fmt.Errorf("scheduling expiry job: %w", err)
		}
		if _, err := s.cron.AddFunc(PruneSchedule, func() { s.runJob(jobCtx, "prune", s.PruneMemories) }); err != nil {
			return fmt.Errorf("scheduling prune job: %w", err)
		}
	}
	s.cron.Start()

	var errs []error
	for _, e := range entries {
		err := e.mailbox.Start(ctx)
		s.mu.Lock()
		e.startErr = err
		s.mu.Unlock()
		if err != nil {
			s.log.Error().Err(err).Str("user", e.mailbox.UserID()).Msg("starting mailbox")
			errs = append(errs, fmt.Errorf("mailbox %s: %w", e.mailbox.UserID(), err))
		}
	}
	s.log.Info().Int("mailboxes", len(entries)).Msg("supervisor started")
	return errors.Join(errs...)
}

// Stop halts the scheduler, waits for a running job, then stops every
// mailbox and drains its queue. It is safe to call more than once.
func (s *Supervisor) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	entries := append([]*mailboxEntry(nil), s.entries...)
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("timed out waiting for maintenance job to finish")
	}

	for _, e := range entries {
		e.mailbox.Stop()
		if e.drain != nil {
			e.drain.Stop(ctx)
		}
	}
	s.log.Info().Msg("supervisor stopped")
}

// Statuses returns a snapshot of every mailbox in registration order.
func (s *Supervisor) Statuses() []MailboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MailboxStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, MailboxStatus{
			UserID:     e.mailbox.UserID(),
			RoomID:     e.roomID,
			Running:    s.running,
			Health:     e.mailbox.Health(),
			StartError: e.startErr,
		})
	}
	return out
}

// ExpirePending retires drafts past their expiry.
func (s *Supervisor) ExpirePending(ctx context.Context) (int64, error) {
	n, err := s.maint.ExpirePendingReplies(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expiring pending replies: %w", err)
	}
	return n, nil
}

// PruneMemories deletes email and workflow memories older than the
// retention period.
func (s *Supervisor) PruneMemories(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	var total int64
	for _, collection := range []string{model.CollectionEmails, model.CollectionEmailActions} {
		n, err := s.maint.DeleteMemoriesBefore(ctx, collection, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s memories: %w", collection, err)
		}
		total += n
	}
	return total, nil
}

func (s *Supervisor) runJob(ctx context.Context, name string, job func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("maintenance job failed")
		return
	}
	s.log.Info().Str("job", name).Int64("rows", n).Dur("took", time.Since(start)).Msg("maintenance job finished")
}
