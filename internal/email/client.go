package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/presence"
)

// ClientConfig is everything a Client needs for one user's mailbox.
// Incoming or Outgoing may be nil to disable that side.
type ClientConfig struct {
	UserID   string
	Incoming *model.IncomingConfig
	Outgoing *model.OutgoingConfig
	Session  model.SessionConfig
	Health   model.HealthConfig
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithOracle sets the connectivity predicate. Without it the user is
// always considered online.
func WithOracle(o presence.Oracle) ClientOption {
	return func(c *Client) { c.oracle = o }
}

// WithChangeFeed subscribes the client to connectivity changes.
func WithChangeFeed(f presence.Feed) ClientOption {
	return func(c *Client) { c.feed = f }
}

// WithMailHandler receives every parsed incoming message.
func WithMailHandler(h MailHandler) ClientOption {
	return func(c *Client) { c.handler = h }
}

func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithTransport overrides the outgoing transport picked from config.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

func withDialer(d dialFunc) ClientOption {
	return func(c *Client) { c.dial = d }
}

type alwaysOnline struct{}

func (alwaysOnline) IsUserConnected(context.Context, string) bool { return true }

// Client owns one incoming Session and one Sender for a user and keeps
// the session healthy.
type Client struct {
	userID string

	session *Session
	sender  *Sender

	oracle    presence.Oracle
	feed      presence.Feed
	handler   MailHandler
	transport Transport
	dial      dialFunc
	clock     clock.Clock
	log       zerolog.Logger
	metrics   *metrics.Metrics

	interval   time.Duration
	staleAfter time.Duration
	debounce   time.Duration

	checking atomic.Bool
	loops    sync.WaitGroup

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	unsubscribe func()
	debouncer   *clock.Timer
	latest      *presence.Update
}

// NewClient validates cfg and builds the parts that are configured.
func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	c := &Client{
		userID:     cfg.UserID,
		oracle:     alwaysOnline{},
		dial:       dialIMAP,
		clock:      clock.Real(),
		log:        zerolog.Nop(),
		interval:   cfg.Health.Interval,
		staleAfter: cfg.Health.StaleAfter,
		debounce:   cfg.Health.Debounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.interval <= 0 {
		c.interval = 5 * time.Minute
	}
	if c.staleAfter <= 0 {
		c.staleAfter = 15 * time.Minute
	}
	if c.debounce <= 0 {
		c.debounce = 2 * time.Second
	}
	c.log = c.log.With().Str("component", "email-client").Str("user", cfg.UserID).Logger()

	if cfg.Incoming != nil {
		if err := cfg.Incoming.Validate(); err != nil {
			return nil, fmt.Errorf("invalid incoming config: %w", err)
		}
		c.session = newSession(cfg.UserID, *cfg.Incoming, cfg.Session, sessionDeps{
			oracle:  c.oracle,
			handler: c.handler,
			dial:    c.dial,
			clock:   c.clock,
			log:     c.log,
			metrics: c.metrics,
		})
	}
	if cfg.Outgoing != nil {
		if err := cfg.Outgoing.Validate(); err != nil {
			return nil, fmt.Errorf("invalid outgoing config: %w", err)
		}
		transport := c.transport
		if transport == nil {
			transport = NewTransport(*cfg.Outgoing)
		}
		c.sender = newSender(*cfg.Outgoing, transport, c.clock, c.log, c.metrics)
	}
	return c, nil
}

func (c *Client) UserID() string { return c.userID }

// Start launches the session, the health loop and the change-feed
// subscription. Calling it on a running client does nothing.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	if c.session == nil {
		c.log.Info().Msg("incoming mail not configured, nothing to watch")
		return nil
	}

	ticker := c.clock.NewTicker(c.interval)
	c.loops.Add(1)
	go c.healthLoop(loopCtx, ticker)

	if c.feed != nil {
		updates, unsubscribe := c.feed.Subscribe(loopCtx, c.userID)
		c.mu.Lock()
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
		c.loops.Add(1)
		go c.watchPresence(loopCtx, updates)
	}

	return c.session.Start(ctx)
}

// Stop tears down the session, the health loop and the feed
// subscription. It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, unsubscribe := c.cancel, c.unsubscribe
	c.cancel, c.unsubscribe = nil, nil
	if c.debouncer != nil {
		c.debouncer.Stop()
		c.debouncer = nil
	}
	c.latest = nil
	c.mu.Unlock()

	cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	c.loops.Wait()

	if c.session != nil {
		c.session.Stop()
	}
	c.log.Info().Msg("email client stopped")
}

// Reset restarts the incoming session.
func (c *Client) Reset(ctx context.Context) error {
	if c.session == nil {
		return ErrIncomingDisabled
	}
	return c.session.Reset(ctx)
}

// CheckMail makes sure the mailbox is being watched, resetting an
// unhealthy session. New mail flows to the handler asynchronously.
func (c *Client) CheckMail(ctx context.Context) error {
	if c.session == nil {
		return ErrIncomingDisabled
	}
	h := c.session.Health()
	switch {
	case h.IsHealthy:
		return nil
	case h.DisableReason == ReasonAuthRejected:
		return ErrMailboxRejected
	case h.State == StateConnecting || h.State == StateBackoff:
		return nil
	}
	return c.session.Reset(ctx)
}

// Send sends one message through the outgoing transport.
func (c *Client) Send(ctx context.Context, msg OutgoingMessage) (SendResult, error) {
	if c.sender == nil {
		return SendResult{Error: ErrOutgoingDisabled.Error()}, ErrOutgoingDisabled
	}
	return c.sender.Send(ctx, msg)
}

// Health returns the session health, or a disabled snapshot when
// incoming mail is not configured.
func (c *Client) Health() HealthMetrics {
	if c.session == nil {
		return HealthMetrics{State: StateDisabled}
	}
	return c.session.Health()
}

func (c *Client) healthLoop(ctx context.Context, ticker *clock.Ticker) {
	defer c.loops.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.loops.Add(1)
			go func() {
				defer c.loops.Done()
				c.CheckHealth(ctx)
			}()
		}
	}
}

// CheckHealth stops the session for offline users and resets one that
// has been unhealthy past the stale threshold. Overlapping calls are
// dropped.
func (c *Client) CheckHealth(ctx context.Context) {
	if c.session == nil {
		return
	}
	if !c.checking.CompareAndSwap(false, true) {
		c.log.Debug().Msg("health check already running")
		return
	}
	defer c.checking.Store(false)

	if !c.oracle.IsUserConnected(ctx, c.userID) {
		if c.session.Health().State != StateDisabled {
			c.log.Info().Msg("user offline, stopping session")
			c.session.stop(ReasonOffline, false)
		}
		return
	}

	h := c.session.Health()
	if h.IsHealthy || h.DisableReason == ReasonAuthRejected {
		return
	}
	if !h.LastSuccessfulFetch.IsZero() && c.clock.Now().Sub(h.LastSuccessfulFetch) <= c.staleAfter {
		return
	}

	c.log.Warn().
		Time("last_success", h.LastSuccessfulFetch).
		Int("failures", h.ConsecutiveFailures).
		Stringer("state", h.State).
		Msg("session unhealthy, resetting")
	c.metrics.HealthReset(c.userID)
	if err := c.session.Reset(ctx); err != nil {
		c.log.Warn().Err(err).Msg("health reset failed")
	}
}

func (c *Client) watchPresence(ctx context.Context, updates <-chan presence.Update) {
	defer c.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			c.mu.Lock()
			if !c.running {
				c.mu.Unlock()
				return
			}
			c.latest = &u
			if c.debouncer != nil {
				c.debouncer.Stop()
			}
			c.debouncer = c.clock.AfterFunc(c.debounce, func() { c.applyPresence(ctx) })
			c.mu.Unlock()
		}
	}
}

// applyPresence acts on the last update seen in the debounce window.
func (c *Client) applyPresence(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	u := c.latest
	c.latest = nil
	c.debouncer = nil
	c.mu.Unlock()
	if u == nil {
		return
	}

	if !u.IsConnected {
		c.log.Info().Msg("presence feed reports offline, stopping session")
		c.session.stop(ReasonOffline, false)
		return
	}

	h := c.session.Health()
	if h.IsHealthy || h.DisableReason == ReasonAuthRejected {
		return
	}
	c.log.Info().Msg("presence feed reports online, resetting session")
	c.metrics.HealthReset(c.userID)
	if err := c.session.Reset(ctx); err != nil {
		c.log.Warn().Err(err).Msg("presence reset failed")
	}
}
