// Package listener turns parsed incoming mail into email memories and
// notifications, batching store writes.
package listener

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
)

// MemoryWriter persists email memories. Writes must be idempotent on
// Memory.ID.
type MemoryWriter interface {
	CreateMemory(ctx context.Context, m model.Memory) error
}

// Notifier surfaces alerts to the user.
type Notifier interface {
	CreateNotification(ctx context.Context, n model.Notification) error
}

// Config scopes a dispatcher to one mailbox and tunes its batching.
type Config struct {
	UserID           string
	AgentID          string
	RoomID           string
	ImportantSenders []string
	UrgentKeywords   []string

	model.DispatcherConfig
}

type Option func(*Dispatcher)

func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clk }
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// memoryNamespace scopes memory IDs derived from room and mail UUID.
var memoryNamespace = uuid.MustParse("d3c1e5a2-7b4f-4e8a-9c6d-2f1a0b9e8d7c")

// quotedSeparator marks where quoted or forwarded text begins.
var quotedSeparator = regexp.MustCompile(`(?im)^[ \t>]*-{2,}\s*(original|forwarded)\s+message\s*-{2,}`)

type digestItem struct {
	from    string
	subject string
}

// Dispatcher owns the memory queue and the digest queue of one
// mailbox. It is safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	memories MemoryWriter
	notifier Notifier
	clock    clock.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics

	flushMu sync.Mutex

	mu          sync.Mutex
	queue       []model.Memory
	timer       *clock.Timer
	digest      []digestItem
	digestTimer *clock.Timer
	stopped     bool
}

func New(cfg Config, memories MemoryWriter, notifier Notifier, opts ...Option) *Dispatcher {
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = 5
	}
	if cfg.MaxBatch < cfg.MinBatch {
		cfg.MaxBatch = max(20, cfg.MinBatch)
	}
	if cfg.BusyThreshold <= 0 {
		cfg.BusyThreshold = 10
	}
	if cfg.ShortDelay <= 0 {
		cfg.ShortDelay = 2500 * time.Millisecond
	}
	if cfg.LongDelay <= 0 {
		cfg.LongDelay = 10 * time.Second
	}
	if cfg.RegularInterval <= 0 {
		cfg.RegularInterval = time.Minute
	}
	d := &Dispatcher{
		cfg:      cfg,
		memories: memories,
		notifier: notifier,
		clock:    clock.Real(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("component", "dispatcher").Str("user", cfg.UserID).Logger()
	return d
}

// HandleMail queues the email memory, alerts immediately on important
// mail and adds everything else to the periodic digest.
func (d *Dispatcher) HandleMail(ctx context.Context, mail model.ParsedMail) {
	mem := d.buildMemory(mail)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.log.Warn().Str("mail_uuid", mail.MailUUID).Msg("dispatcher stopped, dropping mail")
		return
	}
	d.queue = append(d.queue, mem)
	n := len(d.queue)
	flushNow := n >= d.batchSize(n)
	if !flushNow {
		d.armLocked()
	}
	if !mem.Email.Important {
		d.digest = append(d.digest, digestItem{from: senderLabel(mail), subject: mail.Subject})
		if d.digestTimer == nil {
			d.digestTimer = d.clock.AfterFunc(d.cfg.RegularInterval, func() { d.flushDigest(context.Background()) })
		}
	}
	d.mu.Unlock()
	d.metrics.Queue(d.cfg.UserID, n)

	if mem.Email.Important {
		d.notifyImportant(ctx, mail, mem)
	}
	if flushNow {
		d.Flush(ctx)
	}
}

// batchSize is half the queue rounded up, clamped to [MinBatch, MaxBatch].
func (d *Dispatcher) batchSize(queued int) int {
	size := (queued + 1) / 2
	return min(max(size, d.cfg.MinBatch), d.cfg.MaxBatch)
}

// flushDelay is short once the queue is busy.
func (d *Dispatcher) flushDelay(queued int) time.Duration {
	if queued > d.cfg.BusyThreshold {
		return d.cfg.ShortDelay
	}
	return d.cfg.LongDelay
}

func (d *Dispatcher) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.flushDelay(len(d.queue)), func() { d.Flush(context.Background()) })
}

// Flush writes every queued memory. Each write stands alone; failed
// ones go back to the front of the queue for the next cycle. It
// returns how many memories were stored.
func (d *Dispatcher) Flush(ctx context.Context) int {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	if len(batch) == 0 {
		return 0
	}

	var failed []model.Memory
	for _, mem := range batch {
		err := d.memories.CreateMemory(ctx, mem)
		d.metrics.MemoryWrite(err == nil)
		if err != nil {
			d.log.Warn().Err(err).Str("mail_uuid", mem.Email.MailUUID).Msg("storing email memory failed, requeueing")
			failed = append(failed, mem)
		}
	}

	d.mu.Lock()
	if len(failed) > 0 {
		d.queue = append(failed, d.queue...)
		if !d.stopped {
			d.armLocked()
		}
	}
	depth := len(d.queue)
	d.mu.Unlock()
	d.metrics.Queue(d.cfg.UserID, depth)

	stored := len(batch) - len(failed)
	d.log.Debug().Int("stored", stored).Int("failed", len(failed)).Msg("flushed email memories")
	return stored
}

func (d *Dispatcher) flushDigest(ctx context.Context) {
	d.mu.Lock()
	items := d.digest
	d.digest = nil
	d.digestTimer = nil
	d.mu.Unlock()
	if len(items) == 0 {
		return
	}

	var b strings.Builder
	if len(items) == 1 {
		b.WriteString("You have 1 new email")
	} else {
		fmt.Fprintf(&b, "You have %d new emails", len(items))
	}
	for _, it := range items {
		fmt.Fprintf(&b, "\n- %s: %s", it.from, it.subject)
	}

	err := d.notifier.CreateNotification(ctx, model.Notification{
		ID:        uuid.NewString(),
		UserID:    d.cfg.UserID,
		Kind:      model.NotificationDigest,
		Message:   b.String(),
		CreatedAt: d.clock.Now().UTC(),
	})
	if err != nil {
		d.log.Warn().Err(err).Int("count", len(items)).Msg("digest notification failed, requeueing")
		d.mu.Lock()
		d.digest = append(items, d.digest...)
		if d.digestTimer == nil && !d.stopped {
			d.digestTimer = d.clock.AfterFunc(d.cfg.RegularInterval, func() { d.flushDigest(context.Background()) })
		}
		d.mu.Unlock()
		return
	}
	d.metrics.Notified(model.NotificationDigest)
}

func (d *Dispatcher) notifyImportant(ctx context.Context, mail model.ParsedMail, mem model.Memory) {
	err := d.notifier.CreateNotification(ctx, model.Notification{
		ID:        uuid.NewString(),
		UserID:    d.cfg.UserID,
		Kind:      model.NotificationImportant,
		MailUUID:  mail.MailUUID,
		Message:   fmt.Sprintf("Important email from %s: %s", senderLabel(mail), mail.Subject),
		CreatedAt: mem.CreatedAt,
	})
	if err != nil {
		d.log.Warn().Err(err).Str("mail_uuid", mail.MailUUID).Msg("important notification failed")
		return
	}
	d.metrics.Notified(model.NotificationImportant)
}

// Pending returns the number of memories waiting to be stored.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stop cancels both timers and drains what is queued.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.digestTimer != nil {
		d.digestTimer.Stop()
		d.digestTimer = nil
	}
	d.mu.Unlock()

	d.Flush(ctx)
	d.flushDigest(ctx)
	if n := d.Pending(); n > 0 {
		d.log.Warn().Int("count", n).Msg("dispatcher stopped with unsaved memories")
	}
}

func (d *Dispatcher) buildMemory(mail model.ParsedMail) model.Memory {
	key := d.cfg.RoomID + ":" + mail.MailUUID
	return model.Memory{
		ID:         uuid.NewSHA1(memoryNamespace, []byte(key)).String(),
		UserID:     d.cfg.UserID,
		AgentID:    d.cfg.AgentID,
		RoomID:     d.cfg.RoomID,
		Collection: model.CollectionEmails,
		Text:       CleanBody(mail.Body),
		CreatedAt:  d.clock.Now().UTC(),
		Email: &model.EmailFields{
			MailUUID:   mail.MailUUID,
			From:       mail.From,
			Subject:    mail.Subject,
			Date:       mail.Date,
			MessageID:  mail.MessageID,
			ThreadID:   mail.ThreadID,
			References: mail.References,
			Important:  d.isImportant(mail),
		},
	}
}

func (d *Dispatcher) isImportant(mail model.ParsedMail) bool {
	for _, from := range mail.From {
		addr := strings.ToLower(from.Address)
		for _, s := range d.cfg.ImportantSenders {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if addr == s || (strings.HasPrefix(s, "@") && strings.HasSuffix(addr, s)) {
				return true
			}
		}
	}
	text := strings.ToLower(mail.Subject + "\n" + mail.Body)
	for _, kw := range d.cfg.UrgentKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// CleanBody drops everything from the first quoted or forwarded message
// separator on. A body that starts with the separator is kept whole.
func CleanBody(body string) string {
	body = strings.TrimSpace(body)
	loc := quotedSeparator.FindStringIndex(body)
	if loc == nil {
		return body
	}
	if head := strings.TrimSpace(body[:loc[0]]); head != "" {
		return head
	}
	return body
}

func senderLabel(mail model.ParsedMail) string {
	sender, ok := mail.Sender()
	if !ok {
		return "unknown sender"
	}
	if sender.Name != "" {
		return sender.Name
	}
	return sender.Address
}
