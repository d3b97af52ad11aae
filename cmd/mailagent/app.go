package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nhle/mailagent/internal/ai"
	"github.com/nhle/mailagent/internal/clock"
	"github.com/nhle/mailagent/internal/credential"
	"github.com/nhle/mailagent/internal/email"
	"github.com/nhle/mailagent/internal/email/actions"
	"github.com/nhle/mailagent/internal/email/listener"
	"github.com/nhle/mailagent/internal/knowledge"
	"github.com/nhle/mailagent/internal/metrics"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/presence"
	"github.com/nhle/mailagent/internal/store"
	"github.com/nhle/mailagent/internal/sync"
)

// app holds the process-wide dependencies shared by every mailbox.
type app struct {
	cfg   *model.AppConfig
	log   zerolog.Logger
	store *store.SQLiteStore
	vault *credential.Vault
	redis *redis.Client

	oracle presence.Oracle
	feed   presence.Feed
	pub    *presence.Publisher

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// mailbox is one user's wired email stack.
type mailbox struct {
	cfg        model.MailboxConfig
	client     *email.Client
	dispatcher *listener.Dispatcher
	workflow   *actions.Workflow
}

func openApp(cfg *model.AppConfig, log zerolog.Logger) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{cfg: cfg, log: log, store: st}

	a.vault, err = credential.Open()
	if err != nil {
		log.Warn().Err(err).Msg("keyring unavailable, only inline secrets will be used")
		a.vault = nil
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		feed := presence.NewRedisFeed(a.redis, cfg.Redis.Prefix, log)
		a.feed = feed
		a.oracle = presence.NewRedisOracle(a.redis, cfg.Redis.Prefix, log)
		a.pub = presence.NewPublisher(st, clock.Real(), feed)
	} else {
		feed := presence.NewMemoryFeed()
		a.feed = feed
		a.oracle = presence.NewStoreOracle(st, log)
		a.pub = presence.NewPublisher(st, clock.Real(), feed)
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(a.registry)
	}

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
}

// secret returns the inline value or the keyring entry. A missing entry
// is not an error; config validation reports it with context.
func (a *app) secret(inline, key string) (string, error) {
	val, err := a.vault.Resolve(inline, key)
	if errors.Is(err, credential.ErrMissing) {
		return "", nil
	}
	return val, err
}

func (a *app) generator() (ai.Generator, error) {
	key, err := a.secret(a.cfg.AI.APIKey, credential.ClaudeAPIKey)
	if err != nil {
		return nil, fmt.Errorf("resolving AI key: %w", err)
	}
	if key == "" {
		a.log.Info().Msg("no AI key configured, drafts use the built-in template")
		return ai.NewFallbackGenerator(nil, a.log), nil
	}
	claude := ai.NewClaude(key, a.cfg.AI.BaseURL, a.cfg.AI.Model, a.cfg.AI.MaxTokens)
	breaker := ai.NewBreakerGenerator(claude, a.cfg.AI.BreakerFailures, a.cfg.AI.BreakerCooldown, a.log)
	return ai.NewFallbackGenerator(breaker, a.log), nil
}

// mailboxes wires every configured mailbox. Secrets missing from the
// config are looked up in the keyring by user id.
func (a *app) mailboxes(gen ai.Generator) ([]*mailbox, error) {
	if len(a.cfg.Mailboxes) == 0 {
		return nil, errors.New("no mailboxes configured")
	}
	searcher := knowledge.NewSearcher(a.store)

	out := make([]*mailbox, 0, len(a.cfg.Mailboxes))
	for _, mc := range a.cfg.Mailboxes {
		if err := a.resolveSecrets(&mc); err != nil {
			return nil, fmt.Errorf("mailbox %s: %w", mc.UserID, err)
		}
		log := a.log.With().Str("room", mc.RoomID).Logger()

		disp := listener.New(listener.Config{
			UserID:           mc.UserID,
			AgentID:          a.cfg.Agent.ID,
			RoomID:           mc.RoomID,
			ImportantSenders: a.cfg.Agent.ImportantSenders,
			UrgentKeywords:   a.cfg.Agent.UrgentKeywords,
			DispatcherConfig: a.cfg.Dispatcher,
		}, a.store, a.store,
			listener.WithLogger(log),
			listener.WithMetrics(a.metrics),
		)

		client, err := email.NewClient(email.ClientConfig{
			UserID:   mc.UserID,
			Incoming: mc.Incoming,
			Outgoing: mc.Outgoing,
			Session:  a.cfg.Session,
			Health:   a.cfg.Health,
		},
			email.WithOracle(a.oracle),
			email.WithChangeFeed(a.feed),
			email.WithMailHandler(disp),
			email.WithLogger(log),
			email.WithMetrics(a.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("mailbox %s: %w", mc.UserID, err)
		}

		wf := actions.New(actions.Config{
			UserID:         mc.UserID,
			AgentID:        a.cfg.Agent.ID,
			AgentName:      a.cfg.Agent.Name,
			WorkflowConfig: a.cfg.Workflow,
		}, client, a.store, gen,
			actions.WithLogger(log),
			actions.WithMetrics(a.metrics),
			actions.WithKnowledge(searcher),
		)

		out = append(out, &mailbox{cfg: mc, client: client, dispatcher: disp, workflow: wf})
	}
	return out, nil
}

func (a *app) resolveSecrets(mc *model.MailboxConfig) error {
	var err error
	if in := mc.Incoming; in != nil {
		if in.Secret, err = a.secret(in.Secret, credential.IMAPKey(mc.UserID)); err != nil {
			return err
		}
	}
	if out := mc.Outgoing; out != nil {
		if out.Transport == model.TransportAPI {
			out.APIKey, err = a.secret(out.APIKey, credential.MailAPIKey(mc.UserID))
		} else {
			out.Secret, err = a.secret(out.Secret, credential.SMTPKey(mc.UserID))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) supervisor(boxes []*mailbox) *sync.Supervisor {
	sup := sync.New(a.store,
		sync.WithRetention(a.cfg.Workflow.Retention),
		sync.WithLogger(a.log),
	)
	for _, mb := range boxes {
		sup.Register(mb.cfg.RoomID, mb.client, mb.dispatcher)
	}
	return sup
}

// serveMetrics exposes the registry in the background. It returns nil
// when metrics are disabled.
func (a *app) serveMetrics() *http.Server {
	if a.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
