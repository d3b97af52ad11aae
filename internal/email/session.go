package email

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/presence"
)

// MailHandler receives every message the session parses.
type MailHandler interface {
	HandleMail(ctx context.Context, mail model.ParsedMail)
}

// MailHandlerFunc adapts a function to MailHandler.
type MailHandlerFunc func(ctx context.Context, mail model.ParsedMail)

func (f MailHandlerFunc) HandleMail(ctx context.Context, mail model.ParsedMail) { f(ctx, mail) }

// bodySection fetches the full message without setting \Seen.
var bodySection = &imap.FetchItemBodySection{Peek: true}

const logoutTimeout = 10 * time.Second

// Session keeps one IMAP connection per user alive: it backfills recent
// mail, then watches the mailbox with IDLE and reconnects with
// exponential backoff on transient failures.
type Session struct {
	userID  string
	creds   model.MailboxCredentials
	mailbox string
	cfg     model.SessionConfig
	oracle  presence.Oracle
	handler MailHandler
	dial    dialFunc
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	health  HealthTracker

	mu         sync.Mutex
	state      SessionState
	reason     DisableReason
	client     imapClient
	connecting bool
	resetting  bool
	attempts   int
	gen        uint64
	retryTimer *clock.Timer
	watchStop  context.CancelFunc
	watchDone  chan struct{}
	lastUID    imap.UID
	baseCtx    context.Context
}

type sessionDeps struct {
	oracle  presence.Oracle
	handler MailHandler
	dial    dialFunc
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func newSession(userID string, in model.IncomingConfig, cfg model.SessionConfig, deps sessionDeps) *Session {
	if cfg.InitialCap <= 0 {
		cfg.InitialCap = 25
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.IdleRefresh <= 0 {
		cfg.IdleRefresh = 25 * time.Minute
	}
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = 24 * time.Hour
	}
	mailbox := in.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Session{
		userID:  userID,
		creds:   in.MailboxCredentials,
		mailbox: mailbox,
		cfg:     cfg,
		oracle:  deps.oracle,
		handler: deps.handler,
		dial:    deps.dial,
		clock:   deps.clock,
		log:     deps.log.With().Str("component", "imap-session").Str("user", userID).Logger(),
		metrics: deps.metrics,
		baseCtx: context.Background(),
	}
}

// Start connects unless the session is already live or was disabled by
// an auth rejection or retry exhaustion. A user reported offline keeps
// the session disabled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.connecting || s.state != StateDisabled {
		s.mu.Unlock()
		return nil
	}
	if s.reason.terminal() {
		reason := s.reason
		s.mu.Unlock()
		s.log.Debug().Stringer("reason", reason).Msg("session disabled, waiting for reset")
		return nil
	}
	s.baseCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	if !s.oracle.IsUserConnected(ctx, s.userID) {
		s.log.Info().Msg("user offline, session stays disabled")
		s.setReason(ReasonOffline)
		return nil
	}
	return s.connectAndFetch(ctx, evStart)
}

// Stop tears the session down. It is safe to call in any state.
func (s *Session) Stop() {
	s.stop(ReasonStopped, false)
}

// Reset stops and restarts the session, clearing the retry counter and
// any terminal disable. It is a no-op while a connect or another reset
// is in flight.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.connecting || s.resetting {
		s.mu.Unlock()
		s.log.Debug().Msg("reset ignored, connection attempt in flight")
		return nil
	}
	s.resetting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.resetting = false
		s.mu.Unlock()
	}()

	s.stop(ReasonReset, false)

	s.mu.Lock()
	s.attempts = 0
	s.reason = ReasonNone
	s.mu.Unlock()

	return s.Start(ctx)
}

// Health reports the session as healthy only while it holds a client,
// is not mid-connect and is not disabled.
func (s *Session) Health() HealthMetrics {
	s.mu.Lock()
	hasClient := s.client != nil
	connecting := s.connecting
	state, reason := s.state, s.reason
	s.mu.Unlock()

	last, failures := s.health.Snapshot()
	return HealthMetrics{
		LastSuccessfulFetch: last,
		ConsecutiveFailures: failures,
		IsHealthy:           hasClient && !connecting && state != StateDisabled,
		State:               state,
		DisableReason:       reason,
	}
}

func (s *Session) connectAndFetch(ctx context.Context, ev event) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		s.log.Debug().Msg("connect already in flight")
		return nil
	}
	if ev == evStart && s.state != StateDisabled {
		state := s.state
		s.mu.Unlock()
		s.log.Debug().Stringer("state", state).Msg("session already started")
		return nil
	}
	if err := s.transitionLocked(ev); err != nil {
		s.mu.Unlock()
		return err
	}
	s.connecting = true
	gen := s.gen
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	s.metrics.ConnectAttempt(s.userID)
	newMail := make(chan struct{}, 1)
	notify := func() {
		select {
		case newMail <- struct{}{}:
		default:
		}
	}

	c, err := s.dial(s.creds, s.cfg.DialTimeout, notify)
	if err != nil {
		return s.handleError(ctx, err, false)
	}
	if err := c.Login(s.creds.User, s.creds.Secret).Wait(); err != nil {
		_ = c.Close()
		return s.handleError(ctx, loginError(s.creds.User, err), false)
	}
	data, err := c.Select(s.mailbox, nil).Wait()
	if err != nil {
		_ = c.Close()
		return s.handleError(ctx, fmt.Errorf("selecting %s: %w", s.mailbox, err), false)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logout(c)
		return nil
	}
	s.client = c
	if data != nil && data.UIDNext > 1 && data.UIDNext-1 > s.lastUID {
		s.lastUID = data.UIDNext - 1
	}
	_ = s.transitionLocked(evSelected)
	s.mu.Unlock()

	if err := s.backfill(ctx, c); err != nil {
		return s.handleError(ctx, err, false)
	}
	s.health.RecordSuccess(s.clock.Now())
	s.metrics.FetchSucceeded(s.userID)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}
	s.attempts = 0
	_ = s.transitionLocked(evWatch)
	watchCtx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})
	s.watchStop, s.watchDone = cancel, done
	lastUID := s.lastUID
	s.mu.Unlock()

	go s.watch(watchCtx, c, newMail, done)
	s.log.Info().Uint32("last_uid", uint32(lastUID)).Str("mailbox", s.mailbox).Msg("mailbox session established")
	return nil
}

// backfill fetches recent messages in sequential chunks; messages in a
// chunk are fetched in parallel and a failure skips only that message.
func (s *Session) backfill(ctx context.Context, c imapClient) error {
	since := s.clock.Now().Add(-s.cfg.InitialWindow)
	data, err := c.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching recent messages: %w", err)
	}

	uids := data.AllUIDs()
	slices.Sort(uids)
	if len(uids) > s.cfg.InitialCap {
		uids = uids[len(uids)-s.cfg.InitialCap:]
	}

	for start := 0; start < len(uids); start += s.cfg.ChunkSize {
		chunk := uids[start:min(start+s.cfg.ChunkSize, len(uids))]
		var g errgroup.Group
		for _, uid := range chunk {
			g.Go(func() error {
				mail, ok, err := s.fetchOne(c, uid)
				if err != nil {
					s.log.Warn().Err(err).Uint32("uid", uint32(uid)).Msg("backfill fetch failed")
					return nil
				}
				if ok {
					s.emit(ctx, mail)
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if len(uids) > 0 {
		s.advanceUID(uids[len(uids)-1])
	}
	s.log.Debug().Int("count", len(uids)).Msg("backfill complete")
	return nil
}

// watch holds IDLE until the server reports new mail or the refresh
// interval elapses, then fetches everything past lastUID.
func (s *Session) watch(ctx context.Context, c imapClient, newMail <-chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		idle, err := c.Idle()
		if err != nil {
			if ctx.Err() == nil {
				_ = s.handleError(ctx, fmt.Errorf("starting IDLE: %w", err), true)
			}
			return
		}
		idleErr := make(chan error, 1)
		go func() { idleErr <- idle.Wait() }()

		refresh := make(chan struct{})
		timer := s.clock.AfterFunc(s.cfg.IdleRefresh, func() { close(refresh) })

		wake := false
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = idle.Close()
			return
		case err := <-idleErr:
			timer.Stop()
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errIdleEnded
			}
			_ = s.handleError(ctx, fmt.Errorf("IDLE: %w", err), true)
			return
		case <-newMail:
			wake = true
		case <-refresh:
		}
		timer.Stop()

		closeErr := idle.Close()
		if err := <-idleErr; err != nil && closeErr == nil {
			closeErr = err
		}
		if ctx.Err() != nil {
			return
		}
		if closeErr != nil {
			_ = s.handleError(ctx, fmt.Errorf("ending IDLE: %w", closeErr), true)
			return
		}

		if wake && !s.oracle.IsUserConnected(ctx, s.userID) {
			s.log.Info().Msg("user went offline, stopping watch")
			s.stop(ReasonOffline, true)
			return
		}
		if err := s.fetchNew(ctx, c); err != nil {
			if ctx.Err() == nil {
				_ = s.handleError(ctx, err, true)
			}
			return
		}
	}
}

// fetchNew fetches, flags and emits every message with a UID above
// lastUID. Servers answer "N:*" with the newest message even when its
// UID is below N, so results are filtered client side.
func (s *Session) fetchNew(ctx context.Context, c imapClient) error {
	s.mu.Lock()
	last := s.lastUID
	if err := s.transitionLocked(evFetch); err != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.state == StateFetching {
			_ = s.transitionLocked(evWatch)
		}
		s.mu.Unlock()
	}()

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: last + 1, Stop: 0}}},
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("searching new messages: %w", err)
	}

	var uids []imap.UID
	for _, uid := range data.AllUIDs() {
		if uid > last {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)

	for _, uid := range uids {
		mail, ok, err := s.fetchOne(c, uid)
		if err != nil {
			return err
		}
		s.advanceUID(uid)
		if !ok {
			continue
		}
		if s.cfg.MarkSeen {
			s.markSeen(c, uid)
		}
		s.emit(ctx, mail)
	}

	s.health.RecordSuccess(s.clock.Now())
	s.metrics.FetchSucceeded(s.userID)
	return nil
}

// fetchOne returns ok=false for messages that vanished or cannot be
// parsed. Only transport failures come back as errors.
func (s *Session) fetchOne(c imapClient, uid imap.UID) (model.ParsedMail, bool, error) {
	opts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}
	bufs, err := c.Fetch(imap.UIDSetNum(uid), opts).Collect()
	if err != nil {
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			s.log.Warn().Err(err).Uint32("uid", uint32(uid)).Msg("server refused fetch, skipping message")
			return model.ParsedMail{}, false, nil
		}
		return model.ParsedMail{}, false, fmt.Errorf("fetching uid %d: %w", uid, err)
	}
	if len(bufs) == 0 {
		s.log.Debug().Uint32("uid", uint32(uid)).Msg("message vanished before fetch")
		return model.ParsedMail{}, false, nil
	}

	raw := bufs[0].FindBodySection(bodySection)
	if raw == nil {
		s.log.Warn().Uint32("uid", uint32(uid)).Msg("fetch returned no body")
		return model.ParsedMail{}, false, nil
	}
	mail, err := ParseMessage(raw)
	if err != nil {
		s.log.Warn().Err(err).Uint32("uid", uint32(uid)).Msg("skipping unparseable message")
		return model.ParsedMail{}, false, nil
	}
	mail.UID = uint32(uid)
	if mail.Date.IsZero() {
		mail.Date = bufs[0].InternalDate
	}
	return mail, true, nil
}

func (s *Session) markSeen(c imapClient, uid imap.UID) {
	flags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := c.Store(imap.UIDSetNum(uid), flags, nil).Close(); err != nil {
		s.log.Warn().Err(err).Uint32("uid", uint32(uid)).Msg("failed to mark message as read")
	}
}

func (s *Session) emit(ctx context.Context, mail model.ParsedMail) {
	s.metrics.MailReceived(s.userID)
	if s.handler != nil {
		s.handler.HandleMail(ctx, mail)
	}
}

func (s *Session) advanceUID(uid imap.UID) {
	s.mu.Lock()
	if uid > s.lastUID {
		s.lastUID = uid
	}
	s.mu.Unlock()
}

// handleError decides between stopping for good and a backoff retry.
// fromWatch is set when called on the watch goroutine, which must not
// wait for itself.
func (s *Session) handleError(ctx context.Context, err error, fromWatch bool) error {
	s.mu.Lock()
	disabled := s.state == StateDisabled
	reason := s.reason
	s.mu.Unlock()
	if disabled {
		s.log.Debug().Err(err).Msg("error on disabled session")
		s.stop(reason, fromWatch)
		return err
	}

	class := Classify(err)
	failures := s.health.RecordFailure()
	s.metrics.Failure(s.userID, class.String(), failures)

	if !s.oracle.IsUserConnected(ctx, s.userID) {
		s.log.Info().Err(err).Msg("user offline, stopping session")
		s.stop(ReasonOffline, fromWatch)
		return err
	}
	if class == ClassAuth {
		s.log.Error().Err(err).Msg("mailbox rejected credentials, disabling session")
		s.stop(ReasonAuthRejected, fromWatch)
		return err
	}

	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	if attempts >= s.cfg.MaxAttempts {
		s.mu.Unlock()
		s.log.Error().Err(err).Int("attempts", attempts).Msg("retries exhausted, disabling session")
		s.stop(ReasonRetriesExhausted, fromWatch)
		return err
	}

	c := s.client
	s.client = nil
	if s.watchStop != nil {
		s.watchStop()
		s.watchStop, s.watchDone = nil, nil
	}
	_ = s.transitionLocked(evFail)
	delay := s.cfg.BaseDelay << (attempts - 1)
	gen := s.gen
	s.retryTimer = s.clock.AfterFunc(delay, func() { s.retry(gen) })
	s.mu.Unlock()

	if c != nil {
		_ = c.Close()
	}
	s.log.Warn().Err(err).Stringer("class", class).Int("attempt", attempts).Dur("delay", delay).Msg("mailbox error, retrying")
	return err
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateBackoff {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	ctx := s.baseCtx
	s.mu.Unlock()

	if !s.oracle.IsUserConnected(ctx, s.userID) {
		s.log.Info().Msg("user offline, abandoning retry")
		s.stop(ReasonOffline, false)
		return
	}
	_ = s.connectAndFetch(ctx, evRetry)
}

// stop disables the session, cancelling the retry timer and the watch,
// then logs out. Bumping gen invalidates any retry or connect already
// running.
func (s *Session) stop(reason DisableReason, fromWatch bool) {
	s.mu.Lock()
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	c := s.client
	s.client = nil
	cancel, done := s.watchStop, s.watchDone
	s.watchStop, s.watchDone = nil, nil
	prev := s.state
	_ = s.transitionLocked(evStop)
	s.reason = reason
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil && !fromWatch {
		t := time.NewTimer(logoutTimeout)
		select {
		case <-done:
		case <-t.C:
			s.log.Warn().Msg("watch did not exit in time")
		}
		t.Stop()
	}
	if c != nil {
		s.logout(c)
	}
	if prev != StateDisabled {
		s.log.Info().Stringer("reason", reason).Stringer("from", prev).Msg("session stopped")
	}
}

func (s *Session) logout(c imapClient) {
	if err := c.Logout().Wait(); err != nil {
		s.log.Debug().Err(err).Msg("logout failed")
	}
	if err := c.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close failed")
	}
}

func (s *Session) setReason(r DisableReason) {
	s.mu.Lock()
	if s.state == StateDisabled {
		s.reason = r
	}
	s.mu.Unlock()
}

func (s *Session) transitionLocked(ev event) error {
	to, err := next(s.state, ev)
	if err != nil {
		s.log.Debug().Err(err).Msg("transition rejected")
		return err
	}
	s.state = to
	s.metrics.State(s.userID, int(to))
	return nil
}
