package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Connection security modes for mailbox servers.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Outgoing transport kinds.
const (
	TransportSMTP = "smtp"
	TransportAPI  = "api"
)

// MailboxCredentials holds what is needed to reach a mail server.
// Owned by configuration; sessions only read it.
type MailboxCredentials struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	User string `mapstructure:"user" yaml:"user"`

	// Secret is normally empty in the YAML file and resolved from the
	// OS keyring at startup.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Security is one of "tls", "starttls" or "none".
	Security string `mapstructure:"security" yaml:"security"`
}

// Addr returns host:port.
func (c MailboxCredentials) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate reports the first missing field.
func (c MailboxCredentials) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return errors.New("host is required")
	case c.Port <= 0:
		return errors.New("port is required")
	case strings.TrimSpace(c.User) == "":
		return errors.New("user is required")
	case c.Secret == "":
		return errors.New("secret is required")
	}
	switch c.Security {
	case "", SecurityTLS, SecurityStartTLS, SecurityNone:
		return nil
	default:
		return fmt.Errorf("unknown security mode %q", c.Security)
	}
}

// IncomingConfig describes the IMAP side of a mailbox.
type IncomingConfig struct {
	MailboxCredentials `mapstructure:",squash" yaml:",inline"`

	// Mailbox is the folder to watch, INBOX when empty.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`
}

// OutgoingConfig describes how replies leave the system.
type OutgoingConfig struct {
	// Transport is "smtp" or "api".
	Transport string `mapstructure:"transport" yaml:"transport"`

	MailboxCredentials `mapstructure:",squash" yaml:",inline"`

	From     string `mapstructure:"from" yaml:"from"`
	FromName string `mapstructure:"from_name" yaml:"from_name"`

	// APIURL and APIKey are used by the "api" transport.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// RenderMarkdown adds an HTML alternative rendered from the text body.
	RenderMarkdown bool `mapstructure:"render_markdown" yaml:"render_markdown"`
}

// Validate checks the fields the chosen transport needs.
func (c OutgoingConfig) Validate() error {
	switch c.Transport {
	case "", TransportSMTP:
		if err := c.MailboxCredentials.Validate(); err != nil {
			return err
		}
	case TransportAPI:
		if c.APIURL == "" {
			return errors.New("api_url is required")
		}
		if c.APIKey == "" {
			return errors.New("api_key is required")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.From == "" && c.User == "" {
		return errors.New("from address is required")
	}
	return nil
}

// MailboxConfig binds one user's mailbox to a conversation room.
// Either side may be absent.
type MailboxConfig struct {
	UserID   string          `mapstructure:"user_id" yaml:"user_id"`
	RoomID   string          `mapstructure:"room_id" yaml:"room_id"`
	Incoming *IncomingConfig `mapstructure:"incoming" yaml:"incoming,omitempty"`
	Outgoing *OutgoingConfig `mapstructure:"outgoing" yaml:"outgoing,omitempty"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AgentConfig identifies the agent that answers mail and the rules it
// uses to decide what is important.
type AgentConfig struct {
	ID               string   `mapstructure:"id" yaml:"id"`
	Name             string   `mapstructure:"name" yaml:"name"`
	ImportantSenders []string `mapstructure:"important_senders" yaml:"important_senders"`
	UrgentKeywords   []string `mapstructure:"urgent_keywords" yaml:"urgent_keywords"`
}

// AIConfig holds settings for reply generation.
type AIConfig struct {
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// RedisConfig enables the Redis presence feed when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// SessionConfig tunes the IMAP session.
type SessionConfig struct {
	InitialWindow time.Duration `mapstructure:"initial_window" yaml:"initial_window"`
	InitialCap    int           `mapstructure:"initial_cap" yaml:"initial_cap"`
	ChunkSize     int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	MarkSeen      bool          `mapstructure:"mark_seen" yaml:"mark_seen"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	IdleRefresh   time.Duration `mapstructure:"idle_refresh" yaml:"idle_refresh"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type DispatcherConfig struct {
	MinBatch        int           `mapstructure:"min_batch" yaml:"min_batch"`
	MaxBatch        int           `mapstructure:"max_batch" yaml:"max_batch"`
	BusyThreshold   int           `mapstructure:"busy_threshold" yaml:"busy_threshold"`
	ShortDelay      time.Duration `mapstructure:"short_delay" yaml:"short_delay"`
	LongDelay       time.Duration `mapstructure:"long_delay" yaml:"long_delay"`
	RegularInterval time.Duration `mapstructure:"regular_interval" yaml:"regular_interval"`
}

type WorkflowConfig struct {
	CheckLookback   time.Duration `mapstructure:"check_lookback" yaml:"check_lookback"`
	CheckLimit      int           `mapstructure:"check_limit" yaml:"check_limit"`
	ConfirmLookback time.Duration `mapstructure:"confirm_lookback" yaml:"confirm_lookback"`
	PendingTTL      time.Duration `mapstructure:"pending_ttl" yaml:"pending_ttl"`
	Retention       time.Duration `mapstructure:"retention" yaml:"retention"`
	KnowledgeLimit  int           `mapstructure:"knowledge_limit" yaml:"knowledge_limit"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Agent      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	AI         AIConfig         `mapstructure:"ai" yaml:"ai"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Workflow   WorkflowConfig   `mapstructure:"workflow" yaml:"workflow"`
	Mailboxes  []MailboxConfig  `mapstructure:"mailboxes" yaml:"mailboxes"`
}

// DefaultConfigPath returns ~/.config/mailagent/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailagent", "config.yaml")
}

// DefaultDatabasePath returns ~/.local/share/mailagent/mailagent.db.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mailagent.db"
	}
	return filepath.Join(home, ".local", "share", "mailagent", "mailagent.db")
}

var defaults = map[string]any{
	"database.path":               DefaultDatabasePath(),
	"log.level":                   "info",
	"metrics.addr":                ":9464",
	"agent.id":                    "default",
	"agent.name":                  "Assistant",
	"agent.urgent_keywords":       []string{"urgent", "asap", "important", "immediately", "emergency"},
	"ai.model":                    "claude-sonnet-4-20250514",
	"ai.max_tokens":               1024,
	"ai.base_url":                 "https://api.anthropic.com",
	"ai.breaker_failures":         3,
	"ai.breaker_cooldown":         time.Minute,
	"redis.prefix":                "mailagent",
	"session.initial_window":      24 * time.Hour,
	"session.initial_cap":         25,
	"session.chunk_size":          10,
	"session.mark_seen":           true,
	"session.max_attempts":        5,
	"session.base_delay":          5 * time.Second,
	"session.idle_refresh":        25 * time.Minute,
	"session.dial_timeout":        30 * time.Second,
	"health.interval":             5 * time.Minute,
	"health.stale_after":          15 * time.Minute,
	"health.debounce":             2 * time.Second,
	"dispatcher.min_batch":        5,
	"dispatcher.max_batch":        20,
	"dispatcher.busy_threshold":   10,
	"dispatcher.short_delay":      2500 * time.Millisecond,
	"dispatcher.long_delay":       10 * time.Second,
	"dispatcher.regular_interval": time.Minute,
	"workflow.check_lookback":     24 * time.Hour,
	"workflow.check_limit":        50,
	"workflow.confirm_lookback":   7 * 24 * time.Hour,
	"workflow.pending_ttl":        7 * 24 * time.Hour,
	"workflow.retention":          30 * 24 * time.Hour,
	"workflow.knowledge_limit":    3,
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults; MAILAGENT_* variables override both.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Mailboxes {
		mb := &cfg.Mailboxes[i]
		if mb.RoomID == "" {
			mb.RoomID = mb.UserID
		}
		if mb.Incoming != nil {
			if mb.Incoming.Mailbox == "" {
				mb.Incoming.Mailbox = "INBOX"
			}
			if mb.Incoming.Security == "" {
				mb.Incoming.Security = SecurityTLS
			}
		}
		if mb.Outgoing != nil && mb.Outgoing.Transport == "" {
			mb.Outgoing.Transport = TransportSMTP
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)
	v.Set("agent", cfg.Agent)
	v.Set("ai", cfg.AI)
	v.Set("redis", cfg.Redis)
	v.Set("session", cfg.Session)
	v.Set("health", cfg.Health)
	v.Set("dispatcher", cfg.Dispatcher)
	v.Set("workflow", cfg.Workflow)
	v.Set("mailboxes", cfg.Mailboxes)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
